package deepgram

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/harunnryd/intervyu/pkg/errorsx"
	"github.com/harunnryd/intervyu/pkg/stt"
)

type capture struct {
	mu       sync.Mutex
	partials []string
	finals   []string
	errs     []error
}

func (c *capture) callbacks() stt.Callbacks {
	return stt.Callbacks{
		OnPartial: func(s string) { c.mu.Lock(); c.partials = append(c.partials, s); c.mu.Unlock() },
		OnFinal:   func(s string) { c.mu.Lock(); c.finals = append(c.finals, s); c.mu.Unlock() },
		OnError:   func(err error) { c.mu.Lock(); c.errs = append(c.errs, err); c.mu.Unlock() },
	}
}

func newTestStream(cb stt.Callbacks, quiet, wait time.Duration) *stream {
	o := New(Config{QuietPeriod: quiet, FinalizeWait: wait}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	s := &stream{
		cfg:      o.cfg,
		cb:       cb,
		logger:   o.logger,
		ctx:      ctx,
		cancel:   cancel,
		activity: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	s.pipeReader, s.pipeWriter = io.Pipe()
	go func() { _, _ = io.Copy(io.Discard, s.pipeReader) }()
	return s
}

func message(text string, final bool) *msginterfaces.MessageResponse {
	mr := &msginterfaces.MessageResponse{IsFinal: final}
	mr.Channel.Alternatives = []msginterfaces.Alternative{{Transcript: text}}
	return mr
}

func TestCallbackRoutesPartialsAndFinals(t *testing.T) {
	c := &capture{}
	s := newTestStream(c.callbacks(), 10*time.Millisecond, time.Second)
	cb := &callback{parent: s}
	_ = cb.Message(message("I built", false))
	_ = cb.Message(message("I built a scheduler", true))
	_ = cb.Message(message("", true))
	if len(c.partials) != 1 || c.partials[0] != "I built" {
		t.Fatalf("unexpected partials %v", c.partials)
	}
	if len(c.finals) != 1 || c.finals[0] != "I built a scheduler" {
		t.Fatalf("unexpected finals %v", c.finals)
	}
}

func TestEndWaitsForQuietPeriod(t *testing.T) {
	c := &capture{}
	s := newTestStream(c.callbacks(), 30*time.Millisecond, time.Second)
	cb := &callback{parent: s}
	if err := s.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("write error: %v", err)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = cb.Message(message("trailing words", true))
	}()
	if err := s.End(); err != nil {
		t.Fatalf("end error: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.finals) != 1 {
		t.Fatalf("expected trailing final before End returned, got %v", c.finals)
	}
	if err := s.Write([]byte{4}); err != stt.ErrStreamClosed {
		t.Fatalf("expected closed stream after End, got %v", err)
	}
}

func TestEndHoldsForLateFinalAfterClose(t *testing.T) {
	c := &capture{}
	s := newTestStream(c.callbacks(), 20*time.Millisecond, time.Second)
	cb := &callback{parent: s}
	_ = cb.Message(message("I led the", false))
	go func() {
		time.Sleep(80 * time.Millisecond)
		_ = cb.Message(message("I led the migration", true))
	}()
	start := time.Now()
	if err := s.End(); err != nil {
		t.Fatalf("end error: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.finals) != 1 || c.finals[0] != "I led the migration" {
		t.Fatalf("expected late final before End returned, got %v", c.finals)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("expected quiet period to end the wait after the late final")
	}
}

func TestEndSilentSocketWaitsForDeadline(t *testing.T) {
	s := newTestStream(stt.Callbacks{}, 10*time.Millisecond, 100*time.Millisecond)
	start := time.Now()
	_ = s.End()
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("expected End to hold until the finalize deadline, returned after %v", elapsed)
	}
}

func TestEndReturnsOnClose(t *testing.T) {
	s := newTestStream(stt.Callbacks{}, time.Second, 5*time.Second)
	cb := &callback{parent: s}
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = cb.Close(&msginterfaces.CloseResponse{})
	}()
	start := time.Now()
	_ = s.End()
	if time.Since(start) > time.Second {
		t.Fatalf("expected End to return on socket close")
	}
}

func TestErrorCallbackIsStreamTransport(t *testing.T) {
	c := &capture{}
	s := newTestStream(c.callbacks(), 10*time.Millisecond, time.Second)
	cb := &callback{parent: s}
	_ = cb.Error(&msginterfaces.ErrorResponse{ErrCode: "NET-0001", ErrMsg: "timeout"})
	if len(c.errs) != 1 || !errorsx.HasReason(c.errs[0], errorsx.ReasonStreamTransport) {
		t.Fatalf("expected stream transport error, got %v", c.errs)
	}
	s.Cancel()
	_ = cb.Error(&msginterfaces.ErrorResponse{ErrCode: "NET-0001", ErrMsg: "closed"})
	if len(c.errs) != 1 {
		t.Fatalf("expected errors after cancel suppressed")
	}
}
