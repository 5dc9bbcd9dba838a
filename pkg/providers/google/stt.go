// Package google streams audio to Google Cloud Speech-to-Text.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/harunnryd/intervyu/pkg/errorsx"
	"github.com/harunnryd/intervyu/pkg/logging"
	"github.com/harunnryd/intervyu/pkg/stt"
)

type Config struct {
	CredentialsFile string        `mapstructure:"credentials_file"`
	LanguageCode    string        `mapstructure:"language_code"`
	SampleRateHz    int           `mapstructure:"sample_rate"`
	AudioEncoding   string        `mapstructure:"encoding"`
	Model           string        `mapstructure:"model"`
	InterimResults  *bool         `mapstructure:"interim"`
	FinalizeWait    time.Duration `mapstructure:"finalize_wait"`
}

// DefaultConfig matches browser MediaRecorder output.
func DefaultConfig() Config {
	interim := true
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   48000,
		AudioEncoding:  "WEBM_OPUS",
		InterimResults: &interim,
		FinalizeWait:   3 * time.Second,
	}
}

type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type dialFunc func(ctx context.Context) (recognizeStream, error)

// Opener opens streaming recognize calls on one shared client.
type Opener struct {
	cfg    Config
	client *speech.Client
	dial   dialFunc
	logger *slog.Logger
}

// New creates the speech client. Without a credentials file the client falls
// back to GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Opener, error) {
	cfg = withDefaults(cfg)
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google speech client: %w", err)
	}
	o := &Opener{cfg: cfg, client: c, logger: logging.NewComponentLogger(logger, "google_stt")}
	o.dial = func(ctx context.Context) (recognizeStream, error) {
		s, err := c.StreamingRecognize(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return o, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = def.LanguageCode
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = def.SampleRateHz
	}
	if cfg.AudioEncoding == "" {
		cfg.AudioEncoding = def.AudioEncoding
	}
	if cfg.InterimResults == nil {
		cfg.InterimResults = def.InterimResults
	}
	if cfg.FinalizeWait <= 0 {
		cfg.FinalizeWait = def.FinalizeWait
	}
	return cfg
}

func (o *Opener) Name() string { return "google" }

func (o *Opener) Close() error {
	if o.client == nil {
		return nil
	}
	return o.client.Close()
}

func (o *Opener) Open(ctx context.Context, cb stt.Callbacks) (stt.Stream, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sctx, cancel := context.WithCancel(ctx)
	rs, err := o.dial(sctx)
	if err != nil {
		cancel()
		return nil, errorsx.Wrap(fmt.Errorf("google streaming recognize: %w", err), errorsx.ReasonStreamTransport)
	}
	// The streaming config must be the first message on the call.
	err = rs.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(o.cfg.AudioEncoding),
					SampleRateHertz:            int32(o.cfg.SampleRateHz),
					LanguageCode:               o.cfg.LanguageCode,
					Model:                      o.cfg.Model,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: *o.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		cancel()
		return nil, errorsx.Wrap(fmt.Errorf("google send config: %w", err), errorsx.ReasonStreamTransport)
	}
	s := &stream{
		rs:     rs,
		cb:     cb,
		cancel: cancel,
		wait:   o.cfg.FinalizeWait,
		logger: o.logger,
		done:   make(chan struct{}),
	}
	go s.listen(sctx)
	o.logger.Info("google_stream_opened", "language", o.cfg.LanguageCode, "encoding", o.cfg.AudioEncoding)
	return s, nil
}

type stream struct {
	rs     recognizeStream
	cb     stt.Callbacks
	cancel context.CancelFunc
	wait   time.Duration
	logger *slog.Logger
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *stream) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrStreamClosed
	}
	err := s.rs.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: chunk},
	})
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("google send audio: %w", err), errorsx.ReasonStreamTransport)
	}
	return nil
}

// End half-closes the call and waits for the server to deliver its last
// results and close the response stream.
func (s *stream) End() error {
	if !s.markClosed() {
		return nil
	}
	if err := s.rs.CloseSend(); err != nil {
		s.logger.Warn("google_close_send_failed", "error", err)
	}
	timer := time.NewTimer(s.wait)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		s.logger.Warn("google_finalize_timeout", "wait", s.wait)
	}
	s.cancel()
	return nil
}

func (s *stream) Cancel() {
	s.markClosed()
	s.cancel()
}

func (s *stream) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

func (s *stream) listen(ctx context.Context) {
	defer close(s.done)
	for {
		resp, err := s.rs.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("google_recv_error", "error", err)
				s.cb.Fail(errorsx.Wrap(fmt.Errorf("google recognize: %w", err), errorsx.ReasonStreamTransport))
			}
			return
		}
		for _, r := range resp.GetResults() {
			alts := r.GetAlternatives()
			if len(alts) == 0 || alts[0].GetTranscript() == "" {
				continue
			}
			text := strings.TrimSpace(alts[0].GetTranscript())
			if r.GetIsFinal() {
				s.cb.Final(text)
			} else {
				s.cb.Partial(text)
			}
		}
	}
}

func parseAudioEncoding(enc string) speechpb.RecognitionConfig_AudioEncoding {
	switch enc {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_WEBM_OPUS
	}
}

var _ stt.Opener = (*Opener)(nil)
