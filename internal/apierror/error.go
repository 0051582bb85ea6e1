package apierror

import (
	"net/http"
	"time"
)

type Code string

const (
	CodeInvalidPayload    Code = "InvalidPayload"
	CodeUnauthorized      Code = "Unauthorized"
	CodeForbidden         Code = "Forbidden"
	CodeNotFound          Code = "NotFound"
	CodeValidation        Code = "Validation"
	CodeRateLimitExceeded Code = "RateLimitExceeded"
	CodeUnexpected        Code = "Unexpected"
)

var codeToStatus = map[Code]int{
	CodeInvalidPayload:    http.StatusBadRequest,
	CodeUnauthorized:      http.StatusUnauthorized,
	CodeForbidden:         http.StatusForbidden,
	CodeNotFound:          http.StatusNotFound,
	CodeValidation:        http.StatusUnprocessableEntity,
	CodeRateLimitExceeded: http.StatusTooManyRequests,
	CodeUnexpected:        http.StatusInternalServerError,
}

type HTTPPart struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Error struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Debug   string                 `json:"debug,omitempty"`
	HTTP    HTTPPart               `json:"-"`

	RetryAfter time.Duration `json:"-"`
}

func (e Error) Error() string {
	return e.Message
}

func (e Error) StatusCode() int {
	return e.HTTP.Code
}

func (e Error) WithDetails(details map[string]interface{}) Error {
	e.Details = details
	return e
}

func (e Error) WithDebug(debug string) Error {
	e.Debug = debug
	return e
}

func New(code Code, msg string) Error {
	status, ok := codeToStatus[code]
	if !ok {
		code, status = CodeUnexpected, http.StatusInternalServerError
	}
	return Error{
		Code:    code,
		Message: msg,
		HTTP: HTTPPart{
			Code:    status,
			Message: http.StatusText(status),
		},
	}
}

func Unauthorized(msg string) Error   { return New(CodeUnauthorized, msg) }
func Forbidden(msg string) Error      { return New(CodeForbidden, msg) }
func NotFound(msg string) Error       { return New(CodeNotFound, msg) }
func InvalidPayload(msg string) Error { return New(CodeInvalidPayload, msg) }
func Validation(msg string) Error     { return New(CodeValidation, msg) }
func Unexpected(msg string) Error     { return New(CodeUnexpected, msg) }

func RateLimitExceeded(retryAfter time.Duration) Error {
	e := New(CodeRateLimitExceeded, "Rate limit exceeded")
	e.RetryAfter = retryAfter
	return e
}
