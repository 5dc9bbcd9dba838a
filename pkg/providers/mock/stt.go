package mock

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/harunnryd/intervyu/pkg/stt"
)

type STTConfig struct {
	// Transcript is delivered as the final result when a stream ends. Empty
	// means the stream reports the number of audio bytes it received.
	Transcript string `mapstructure:"transcript"`
	// EmitInterim sends a partial result for every chunk.
	EmitInterim bool `mapstructure:"emit_interim"`
	// FailOpen makes Open fail.
	FailOpen bool `mapstructure:"fail_open"`
}

// STT is a scripted stt.Opener.
type STT struct {
	cfg STTConfig

	mu      sync.Mutex
	streams []*Stream
}

func NewSTT(cfg STTConfig) *STT {
	return &STT{cfg: cfg}
}

func (s *STT) Name() string { return "mock_stt" }

func (s *STT) Open(_ context.Context, cb stt.Callbacks) (stt.Stream, error) {
	if s.cfg.FailOpen {
		return nil, errors.New("mock stt: open failed")
	}
	st := &Stream{cfg: s.cfg, cb: cb}
	s.mu.Lock()
	s.streams = append(s.streams, st)
	s.mu.Unlock()
	return st, nil
}

// Streams returns every stream opened so far.
func (s *STT) Streams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stream(nil), s.streams...)
}

// Last returns the most recently opened stream, or nil.
func (s *STT) Last() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) == 0 {
		return nil
	}
	return s.streams[len(s.streams)-1]
}

type Stream struct {
	cfg STTConfig
	cb  stt.Callbacks

	mu        sync.Mutex
	bytes     int
	ended     bool
	cancelled bool
}

func (s *Stream) Write(chunk []byte) error {
	s.mu.Lock()
	if s.ended || s.cancelled {
		s.mu.Unlock()
		return stt.ErrStreamClosed
	}
	s.bytes += len(chunk)
	s.mu.Unlock()
	if s.cfg.EmitInterim {
		s.cb.Partial(strings.Repeat(".", len(chunk)%8+1))
	}
	return nil
}

func (s *Stream) End() error {
	s.mu.Lock()
	if s.ended || s.cancelled {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	n := s.bytes
	s.mu.Unlock()
	text := s.cfg.Transcript
	if text == "" && n > 0 {
		text = "received audio"
	}
	if text != "" {
		s.cb.Final(text)
	}
	return nil
}

func (s *Stream) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// EmitPartial, EmitFinal and EmitError push results as if the backend
// produced them.
func (s *Stream) EmitPartial(text string) { s.cb.Partial(text) }
func (s *Stream) EmitFinal(text string)   { s.cb.Final(text) }
func (s *Stream) EmitError(err error)     { s.cb.Fail(err) }

func (s *Stream) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *Stream) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

var _ stt.Opener = (*STT)(nil)
