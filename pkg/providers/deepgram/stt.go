package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/intervyu/pkg/errorsx"
	"github.com/harunnryd/intervyu/pkg/logging"
	"github.com/harunnryd/intervyu/pkg/stt"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Language       string        `mapstructure:"language"`
	Encoding       string        `mapstructure:"encoding"`
	SampleRate     int           `mapstructure:"sample_rate"`
	Interim        *bool         `mapstructure:"interim"`
	UtteranceEndMS int           `mapstructure:"utterance_end_ms"`
	// FinalizeWait bounds how long End waits for trailing results.
	FinalizeWait time.Duration `mapstructure:"finalize_wait"`
	// QuietPeriod ends the wait early once Deepgram, having answered after
	// the close, stays silent this long.
	QuietPeriod time.Duration `mapstructure:"quiet_period"`
}

// Opener opens Deepgram live transcription streams.
type Opener struct {
	cfg    Config
	logger *slog.Logger
}

// New builds an opener. Encoding and sample rate are left to Deepgram's
// container detection when empty, which suits browser webm/opus audio.
func New(cfg Config, logger *slog.Logger) *Opener {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.FinalizeWait <= 0 {
		cfg.FinalizeWait = 2 * time.Second
	}
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = 500 * time.Millisecond
	}
	return &Opener{cfg: cfg, logger: logging.NewComponentLogger(logger, "deepgram_stt")}
}

func (o *Opener) Name() string { return "deepgram" }

func (o *Opener) Open(ctx context.Context, cb stt.Callbacks) (stt.Stream, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &stream{
		cfg:      o.cfg,
		cb:       cb,
		logger:   o.logger,
		ctx:      sctx,
		cancel:   cancel,
		activity: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	s.pipeReader, s.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          o.cfg.Model,
		Language:       o.cfg.Language,
		Encoding:       o.cfg.Encoding,
		SampleRate:     o.cfg.SampleRate,
		InterimResults: configBool(o.cfg.Interim, true),
		Punctuate:      true,
		SmartFormat:    true,
	}
	if o.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", o.cfg.UtteranceEndMS)
	}

	dgClient, err := client.NewWSUsingCallback(sctx, o.cfg.APIKey, clientOptions, transcriptOptions, &callback{parent: s})
	if err != nil {
		cancel()
		o.logger.Error("deepgram_client_create_error", "error", err)
		return nil, errorsx.Wrap(fmt.Errorf("deepgram client: %w", err), errorsx.ReasonStreamTransport)
	}
	s.dgClient = dgClient
	if connected := dgClient.Connect(); !connected {
		cancel()
		o.logger.Error("deepgram_connect_failed")
		return nil, errorsx.Newf(errorsx.ReasonStreamTransport, "deepgram connection failed")
	}
	o.logger.Info("deepgram_connected", "model", o.cfg.Model, "language", o.cfg.Language)

	go func() {
		if err := dgClient.Stream(s.pipeReader); err != nil && !errors.Is(err, io.EOF) && !s.finishing() {
			s.logger.Error("deepgram_stream_error", "error", err)
			s.cb.Fail(errorsx.Wrap(fmt.Errorf("deepgram stream: %w", err), errorsx.ReasonStreamTransport))
		}
	}()
	return s, nil
}

type stream struct {
	cfg      Config
	cb       stt.Callbacks
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	dgClient *client.WSCallback

	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter

	activity  chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	ending bool
	done   bool
	meta   bool
}

func (s *stream) Write(chunk []byte) error {
	s.mu.Lock()
	done := s.done || s.ending
	s.mu.Unlock()
	if done {
		return stt.ErrStreamClosed
	}
	if _, err := s.pipeWriter.Write(chunk); err != nil {
		return errorsx.Wrap(fmt.Errorf("deepgram write: %w", err), errorsx.ReasonStreamTransport)
	}
	return nil
}

// End closes the audio pipe and waits for Deepgram's trailing results. The
// quiet period only starts once Deepgram answers after the close, so a
// silent socket is bounded by FinalizeWait alone.
func (s *stream) End() error {
	s.mu.Lock()
	if s.done || s.ending {
		s.mu.Unlock()
		return nil
	}
	s.ending = true
	s.mu.Unlock()

	// Activity recorded before the close says nothing about the flush.
	select {
	case <-s.activity:
	default:
	}
	_ = s.pipeWriter.Close()

	deadline := time.NewTimer(s.cfg.FinalizeWait)
	defer deadline.Stop()
	var quiet *time.Timer
	var quietC <-chan time.Time
	defer func() {
		if quiet != nil {
			quiet.Stop()
		}
	}()
wait:
	for {
		select {
		case <-s.activity:
			if quiet == nil {
				quiet = time.NewTimer(s.cfg.QuietPeriod)
				quietC = quiet.C
				continue
			}
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(s.cfg.QuietPeriod)
		case <-quietC:
			break wait
		case <-s.closed:
			break wait
		case <-deadline.C:
			s.logger.Warn("deepgram_finalize_timeout", "wait", s.cfg.FinalizeWait)
			break wait
		case <-s.ctx.Done():
			break wait
		}
	}
	s.shutdown()
	return nil
}

func (s *stream) Cancel() {
	s.mu.Lock()
	s.ending = true
	s.mu.Unlock()
	_ = s.pipeWriter.CloseWithError(stt.ErrStreamClosed)
	s.shutdown()
}

func (s *stream) shutdown() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()
	s.cancel()
	if s.dgClient != nil {
		s.dgClient.Stop()
	}
}

func (s *stream) finishing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ending || s.done
}

func (s *stream) touch() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

func configBool(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

// --- Callback Implementation ---

type callback struct {
	parent *stream
}

func (c *callback) Open(*msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	c.parent.touch()
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	isFinal := mr.IsFinal || mr.SpeechFinal
	c.parent.logger.Debug("transcript_received", "chars", len(transcript), "is_final", isFinal)
	if isFinal {
		c.parent.cb.Final(transcript)
		return nil
	}
	c.parent.cb.Partial(transcript)
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.mu.Lock()
	logged := c.parent.meta
	c.parent.meta = true
	c.parent.mu.Unlock()
	if !logged {
		c.parent.logger.Info("deepgram_metadata_received", "request_id", md.RequestID)
	}
	return nil
}

func (c *callback) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	c.parent.touch()
	return nil
}

func (c *callback) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	c.parent.touch()
	c.parent.logger.Debug("utterance_end_event", "utterance_end_ms", c.parent.cfg.UtteranceEndMS)
	return nil
}

func (c *callback) Close(*msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	c.parent.closeOnce.Do(func() { close(c.parent.closed) })
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error", "error_code", er.ErrCode, "error_message", er.ErrMsg)
	if !c.parent.finishing() {
		c.parent.cb.Fail(errorsx.Newf(errorsx.ReasonStreamTransport, "deepgram %s: %s", er.ErrCode, er.ErrMsg))
	}
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", "data", logging.Truncate(string(byData), 200))
	return nil
}

var _ stt.Opener = (*Opener)(nil)
