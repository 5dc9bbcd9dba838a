package stt

import (
	"context"
	"sync"
)

// Handle owns at most one open stream. Opening a new stream cancels the
// previous one, and callbacks from a replaced or cancelled stream are
// dropped so they can never touch the next turn's buffer.
type Handle struct {
	opener Opener

	// deliver is held while a callback runs, so a generation bump waits for
	// in-flight results.
	deliver sync.Mutex

	mu        sync.Mutex
	stream    Stream
	gen       uint64
	accepting bool
}

func NewHandle(opener Opener) *Handle {
	return &Handle{opener: opener}
}

// Open starts a fresh stream, closing any previous one first.
func (h *Handle) Open(ctx context.Context, cb Callbacks) error {
	h.deliver.Lock()
	h.mu.Lock()
	prev := h.stream
	h.stream = nil
	h.gen++
	gen := h.gen
	h.accepting = true
	h.mu.Unlock()
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	h.deliver.Unlock()

	if prev != nil {
		prev.Cancel()
	}

	stream, err := h.opener.Open(ctx, h.guard(gen, cb))
	if err != nil {
		h.mu.Lock()
		if h.gen == gen {
			h.accepting = false
		}
		h.mu.Unlock()
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen {
		// Replaced or cancelled while the backend was connecting.
		go stream.Cancel()
		return ErrStreamClosed
	}
	h.stream = stream
	return nil
}

// Write forwards chunk to the open stream. It reports false when no stream is
// open so callers can drop the chunk.
func (h *Handle) Write(chunk []byte) (bool, error) {
	h.mu.Lock()
	stream := h.stream
	h.mu.Unlock()
	if stream == nil {
		return false, nil
	}
	return true, stream.Write(chunk)
}

// End closes the open stream and waits for its last final. Calling End with
// no open stream is a no-op.
func (h *Handle) End() error {
	h.mu.Lock()
	stream := h.stream
	gen := h.gen
	h.stream = nil
	h.mu.Unlock()
	if stream == nil {
		return nil
	}
	err := stream.End()
	h.mu.Lock()
	if h.gen == gen {
		h.accepting = false
	}
	h.mu.Unlock()
	return err
}

// Cancel drops the open stream without waiting for results.
func (h *Handle) Cancel() {
	h.mu.Lock()
	stream := h.stream
	h.stream = nil
	h.gen++
	h.accepting = false
	h.mu.Unlock()
	if stream != nil {
		stream.Cancel()
	}
}

// Active reports whether a stream is open.
func (h *Handle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stream != nil
}

func (h *Handle) live(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accepting && h.gen == gen
}

func (h *Handle) guard(gen uint64, cb Callbacks) Callbacks {
	return Callbacks{
		OnPartial: func(text string) {
			h.deliverIf(gen, func() { cb.Partial(text) })
		},
		OnFinal: func(text string) {
			h.deliverIf(gen, func() { cb.Final(text) })
		},
		OnError: func(err error) {
			h.deliverIf(gen, func() { cb.Fail(err) })
		},
	}
}

func (h *Handle) deliverIf(gen uint64, fn func()) {
	h.deliver.Lock()
	defer h.deliver.Unlock()
	if h.live(gen) {
		fn()
	}
}
