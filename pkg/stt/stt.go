// Package stt defines the streaming transcription contract shared by the
// speech backends and enforces one open stream per session.
package stt

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrStreamClosed is returned by writes after End or Cancel.
var ErrStreamClosed = errors.New("transcription stream closed")

// Callbacks receive transcription results. Partials may be revised by later
// partials; each recognized utterance yields exactly one final. Errors are
// recoverable: the stream stops but the session survives.
type Callbacks struct {
	OnPartial func(text string)
	OnFinal   func(text string)
	OnError   func(err error)
	// OnOpen runs inside Handle.Open once results of the previous stream can
	// no longer be delivered, before the backend is dialed.
	OnOpen func()
}

// Partial, Final and Fail invoke the matching callback when set.
func (c Callbacks) Partial(text string) {
	if c.OnPartial != nil {
		c.OnPartial(text)
	}
}

func (c Callbacks) Final(text string) {
	if c.OnFinal != nil {
		c.OnFinal(text)
	}
}

func (c Callbacks) Fail(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

// Stream accepts audio for one utterance sequence.
type Stream interface {
	// Write forwards an audio chunk.
	Write(chunk []byte) error
	// End flushes buffered audio and blocks, bounded by the backend's own
	// timeout, until the last final result has been delivered.
	End() error
	// Cancel tears the stream down without waiting for results.
	Cancel()
}

// Opener starts transcription streams on one backend.
type Opener interface {
	Name() string
	Open(ctx context.Context, cb Callbacks) (Stream, error)
}

// Accumulator collects final fragments into the answer buffer. Each final is
// appended verbatim followed by a single space.
type Accumulator struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (a *Accumulator) Append(final string) {
	if final == "" {
		return
	}
	a.mu.Lock()
	a.buf.WriteString(final)
	a.buf.WriteByte(' ')
	a.mu.Unlock()
}

// String returns the buffer with surrounding whitespace trimmed.
func (a *Accumulator) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.TrimSpace(a.buf.String())
}

// Raw returns the buffer exactly as accumulated.
func (a *Accumulator) Raw() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.buf.Reset()
	a.mu.Unlock()
}
