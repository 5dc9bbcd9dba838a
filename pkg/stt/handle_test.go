package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeStream struct {
	cb        Callbacks
	mu        sync.Mutex
	chunks    [][]byte
	ended     bool
	cancelled bool
	onEnd     string
}

func (f *fakeStream) Write(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended || f.cancelled {
		return ErrStreamClosed
	}
	f.chunks = append(f.chunks, chunk)
	return nil
}

func (f *fakeStream) End() error {
	f.mu.Lock()
	f.ended = true
	final := f.onEnd
	f.mu.Unlock()
	if final != "" {
		f.cb.OnFinal(final)
	}
	return nil
}

func (f *fakeStream) Cancel() {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
}

type fakeOpener struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
	onEnd   string
}

func (o *fakeOpener) Name() string { return "fake" }

func (o *fakeOpener) Open(_ context.Context, cb Callbacks) (Stream, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s := &fakeStream{cb: cb, onEnd: o.onEnd}
	o.streams = append(o.streams, s)
	return s, nil
}

func TestHandleSingleStream(t *testing.T) {
	opener := &fakeOpener{}
	h := NewHandle(opener)
	if err := h.Open(context.Background(), Callbacks{}); err != nil {
		t.Fatalf("open error: %v", err)
	}
	if err := h.Open(context.Background(), Callbacks{}); err != nil {
		t.Fatalf("second open error: %v", err)
	}
	if len(opener.streams) != 2 {
		t.Fatalf("expected two streams, got %d", len(opener.streams))
	}
	if !opener.streams[0].cancelled {
		t.Fatalf("expected previous stream closed on reopen")
	}
	if ok, err := h.Write([]byte{1, 2}); !ok || err != nil {
		t.Fatalf("expected write to current stream, got %v %v", ok, err)
	}
	if len(opener.streams[1].chunks) != 1 || len(opener.streams[0].chunks) != 0 {
		t.Fatalf("expected chunk routed to newest stream only")
	}
}

func TestHandleDropsStaleCallbacks(t *testing.T) {
	opener := &fakeOpener{}
	h := NewHandle(opener)
	var finals []string
	cb := Callbacks{OnFinal: func(s string) { finals = append(finals, s) }}
	_ = h.Open(context.Background(), cb)
	first := opener.streams[0]
	_ = h.Open(context.Background(), cb)

	first.cb.OnFinal("stale")
	opener.streams[1].cb.OnFinal("fresh")
	if len(finals) != 1 || finals[0] != "fresh" {
		t.Fatalf("expected only fresh final, got %v", finals)
	}
}

func TestHandleOpenResetsAfterOldResultsStop(t *testing.T) {
	opener := &fakeOpener{}
	h := NewHandle(opener)
	var acc Accumulator
	cb := Callbacks{OnFinal: acc.Append, OnOpen: acc.Reset}
	if err := h.Open(context.Background(), cb); err != nil {
		t.Fatalf("open error: %v", err)
	}
	old := opener.streams[0]

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				old.cb.OnFinal("previous answer")
			}
		}
	}()
	for i := 0; i < 50; i++ {
		if err := h.Open(context.Background(), cb); err != nil {
			t.Fatalf("reopen error: %v", err)
		}
		if got := acc.Raw(); got != "" {
			close(stop)
			<-done
			t.Fatalf("old stream result leaked into new answer: %q", got)
		}
	}
	close(stop)
	<-done
}

func TestHandleEndDeliversLastFinal(t *testing.T) {
	opener := &fakeOpener{onEnd: "last words"}
	h := NewHandle(opener)
	var acc Accumulator
	_ = h.Open(context.Background(), Callbacks{OnFinal: acc.Append})
	if err := h.End(); err != nil {
		t.Fatalf("end error: %v", err)
	}
	if acc.String() != "last words" {
		t.Fatalf("expected final delivered before End returns, got %q", acc.String())
	}
	if h.Active() {
		t.Fatalf("expected no active stream after End")
	}
	opener.streams[0].cb.OnFinal("after end")
	if acc.String() != "last words" {
		t.Fatalf("expected callbacks after End dropped, got %q", acc.String())
	}
	if ok, _ := h.Write([]byte{1}); ok {
		t.Fatalf("expected write without stream to be dropped")
	}
	if err := h.End(); err != nil {
		t.Fatalf("expected End without stream to be a no-op, got %v", err)
	}
}

func TestHandleCancel(t *testing.T) {
	opener := &fakeOpener{}
	h := NewHandle(opener)
	var errs int
	_ = h.Open(context.Background(), Callbacks{OnError: func(error) { errs++ }})
	h.Cancel()
	if !opener.streams[0].cancelled {
		t.Fatalf("expected stream cancelled")
	}
	opener.streams[0].cb.OnError(errors.New("late"))
	if errs != 0 {
		t.Fatalf("expected error after cancel dropped")
	}
}

func TestHandleOpenError(t *testing.T) {
	boom := errors.New("dial failed")
	h := NewHandle(&fakeOpener{err: boom})
	if err := h.Open(context.Background(), Callbacks{}); !errors.Is(err, boom) {
		t.Fatalf("expected dial error, got %v", err)
	}
	if h.Active() {
		t.Fatalf("expected no active stream")
	}
}

func TestAccumulator(t *testing.T) {
	var acc Accumulator
	acc.Append("hello")
	acc.Append("")
	acc.Append("world")
	if acc.Raw() != "hello world " {
		t.Fatalf("unexpected raw buffer %q", acc.Raw())
	}
	if acc.String() != "hello world" {
		t.Fatalf("unexpected trimmed buffer %q", acc.String())
	}
	acc.Reset()
	if acc.String() != "" {
		t.Fatalf("expected empty buffer after reset")
	}
}
