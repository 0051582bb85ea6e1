package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/leshachaplin/eventstream/internal/apierror"
)

const maxBodyBytes = 5 << 20

func encodeJSONResponse[T any](w http.ResponseWriter, code int, data T) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if code == http.StatusNoContent {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// decodeJSONRequest maps unreadable bodies to InvalidPayload and well-formed
// JSON of the wrong shape to Validation.
func decodeJSONRequest[T any](w http.ResponseWriter, r *http.Request, dst *T) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return nil
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		tooBigErr *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return apierror.InvalidPayload("Request body is empty")
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return apierror.InvalidPayload("Request body is not valid JSON")
	case errors.As(err, &tooBigErr):
		return apierror.InvalidPayload("Request body is too large")
	case errors.As(err, &typeErr):
		return apierror.Validation("Request body has the wrong shape").WithDetails(map[string]interface{}{
			"errors": []map[string]string{{"field": typeErr.Field, "message": "must be " + typeErr.Type.String()}},
		})
	default:
		return apierror.Validation("Request body could not be decoded").WithDebug(err.Error())
	}
}
