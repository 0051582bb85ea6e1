package memory

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Stream is an in-process append-only log with consumer groups. Every group
// tracks its own cursor and a pending entries list per consumer, and a message
// is handed to exactly one consumer of a group until it is acknowledged.
type Stream struct {
	mu      sync.Mutex
	maxLen  int
	base    uint64
	entries [][]byte
	groups  map[string]*group
	notify  chan struct{}
}

var ErrNoGroup = errors.New("NOGROUP no such consumer group")

type group struct {
	cursor  uint64
	pending map[uint64]*pendingEntry
}

type pendingEntry struct {
	consumer   string
	deliveries int
}

type Message struct {
	ID   string
	Data []byte
}

// New creates a stream trimmed to roughly maxLen entries. Zero disables trimming.
func New(maxLen int) *Stream {
	return &Stream{
		maxLen: maxLen,
		base:   1,
		groups: make(map[string]*group),
		notify: make(chan struct{}),
	}
}

func formatID(seq uint64) string {
	return strconv.FormatUint(seq, 10) + "-0"
}

func parseID(id string) (uint64, bool) {
	seq, _, ok := strings.Cut(id, "-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	return n, err == nil
}

func (s *Stream) next() uint64 {
	return s.base + uint64(len(s.entries))
}

// Append adds entries atomically and wakes blocked readers.
func (s *Stream) Append(payloads ...[]byte) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		ids = append(ids, formatID(s.next()))
		s.entries = append(s.entries, p)
	}
	s.trimLocked()

	close(s.notify)
	s.notify = make(chan struct{})
	return ids
}

// trimLocked drops the oldest entries once the log is 10% over maxLen.
func (s *Stream) trimLocked() {
	if s.maxLen <= 0 || len(s.entries) <= s.maxLen+s.maxLen/10 {
		return
	}
	drop := len(s.entries) - s.maxLen
	s.entries = append([][]byte(nil), s.entries[drop:]...)
	s.base += uint64(drop)
}

func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Stream) payloadLocked(seq uint64) ([]byte, bool) {
	if seq < s.base || seq >= s.next() {
		return nil, false
	}
	return s.entries[seq-s.base], true
}

// CreateGroup positions a new group at the start of the stream. It reports
// false when the group already exists.
func (s *Stream) CreateGroup(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[name]; ok {
		return false
	}
	s.groups[name] = &group{cursor: 0, pending: make(map[uint64]*pendingEntry)}
	return true
}

func (s *Stream) groupLocked(name string) (*group, error) {
	g, ok := s.groups[name]
	if !ok {
		return nil, ErrNoGroup
	}
	return g, nil
}

// ReadPending returns up to count entries already delivered to consumer and
// not yet acknowledged, oldest first. Entries trimmed from the log are
// removed from the pending list. A nil skip keeps every entry.
func (s *Stream) ReadPending(groupName, consumer string, count int, skip func(id string) bool) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.groupLocked(groupName)
	if err != nil {
		return nil, err
	}

	seqs := make([]uint64, 0, len(g.pending))
	for seq, pe := range g.pending {
		if pe.consumer == consumer && (skip == nil || !skip(formatID(seq))) {
			seqs = append(seqs, seq)
		}
	}
	slices.Sort(seqs)

	var out []Message
	for _, seq := range seqs {
		if len(out) == count {
			break
		}
		data, ok := s.payloadLocked(seq)
		if !ok {
			delete(g.pending, seq)
			continue
		}
		g.pending[seq].deliveries++
		out = append(out, Message{ID: formatID(seq), Data: data})
	}
	return out, nil
}

// ReadNew delivers up to count never-delivered entries to consumer, waiting at
// most block for the first one to arrive.
func (s *Stream) ReadNew(ctx context.Context, groupName, consumer string, count int, block time.Duration) ([]Message, error) {
	timer := time.NewTimer(block)
	defer timer.Stop()

	for {
		s.mu.Lock()
		g, err := s.groupLocked(groupName)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		if g.cursor < s.base {
			g.cursor = s.base
		}

		var out []Message
		for g.cursor < s.next() && len(out) < count {
			seq := g.cursor
			data, _ := s.payloadLocked(seq)
			g.pending[seq] = &pendingEntry{consumer: consumer, deliveries: 1}
			out = append(out, Message{ID: formatID(seq), Data: data})
			g.cursor++
		}
		wake := s.notify
		s.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}

		select {
		case <-wake:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ack removes ids from the group's pending list and returns how many were
// actually pending.
func (s *Stream) Ack(groupName string, ids ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.groupLocked(groupName)
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, id := range ids {
		seq, ok := parseID(id)
		if !ok {
			continue
		}
		if _, ok := g.pending[seq]; ok {
			delete(g.pending, seq)
			acked++
		}
	}
	return acked, nil
}

// PendingCount is the XPENDING summary count for a group.
func (s *Stream) PendingCount(groupName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.groupLocked(groupName)
	if err != nil {
		return 0, err
	}
	return int64(len(g.pending)), nil
}

// Lag is the number of entries the group has not been handed yet.
func (s *Stream) Lag(groupName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.groupLocked(groupName)
	if err != nil {
		return 0, err
	}
	cursor := g.cursor
	if cursor < s.base {
		cursor = s.base
	}
	return int64(s.next() - cursor), nil
}

// Deliveries reports how many times id was handed out, zero if it is not pending.
func (s *Stream) Deliveries(groupName, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupName]
	seq, okID := parseID(id)
	if !ok || !okID {
		return 0
	}
	if pe, ok := g.pending[seq]; ok {
		return pe.deliveries
	}
	return 0
}
