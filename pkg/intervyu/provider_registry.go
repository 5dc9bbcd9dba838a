package intervyu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harunnryd/intervyu/pkg/ai"
	"github.com/harunnryd/intervyu/pkg/configutil"
	"github.com/harunnryd/intervyu/pkg/providers/deepgram"
	"github.com/harunnryd/intervyu/pkg/providers/gemini"
	"github.com/harunnryd/intervyu/pkg/providers/google"
	"github.com/harunnryd/intervyu/pkg/providers/mock"
	"github.com/harunnryd/intervyu/pkg/providers/openai"
	"github.com/harunnryd/intervyu/pkg/stt"
)

type AIFactory func(ctx context.Context, name string, settings map[string]any, logger *slog.Logger) (ai.Provider, error)
type STTFactory func(ctx context.Context, settings map[string]any, logger *slog.Logger) (stt.Opener, error)

type ProviderRegistry struct {
	ai  map[string]AIFactory
	stt map[string]STTFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		ai:  make(map[string]AIFactory),
		stt: make(map[string]STTFactory),
	}
}

// DefaultProviderRegistry knows every bundled backend.
func DefaultProviderRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterAI("openai", buildOpenAI)
	r.RegisterAI("gemini", buildGemini)
	r.RegisterAI("mock", buildMockAI)
	r.RegisterSTT("deepgram", buildDeepgram)
	r.RegisterSTT("google", buildGoogle)
	r.RegisterSTT("mock", buildMockSTT)
	return r
}

func (r *ProviderRegistry) RegisterAI(provider string, factory AIFactory) {
	r.ai[normalizeProvider(provider)] = factory
}

func (r *ProviderRegistry) RegisterSTT(provider string, factory STTFactory) {
	r.stt[normalizeProvider(provider)] = factory
}

func (r *ProviderRegistry) BuildAI(ctx context.Context, cfg NamedVendorConfig, logger *slog.Logger) (ai.Provider, error) {
	fn := r.ai[normalizeProvider(cfg.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("ai provider not registered: %s", cfg.Provider)
	}
	return fn(ctx, cfg.key(), cfg.Settings, logger)
}

func (r *ProviderRegistry) BuildSTT(ctx context.Context, cfg VendorConfig, logger *slog.Logger) (stt.Opener, error) {
	fn := r.stt[normalizeProvider(cfg.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", cfg.Provider)
	}
	return fn(ctx, cfg.Settings, logger)
}

func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func buildOpenAI(_ context.Context, name string, settings map[string]any, logger *slog.Logger) (ai.Provider, error) {
	if err := configutil.ValidateSettings("openai", settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "base_url", "timeout"},
	}); err != nil {
		return nil, err
	}
	var cfg openai.Config
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return nil, fmt.Errorf("openai settings: %w", err)
	}
	return openai.NewAdapter(name, cfg, logger), nil
}

func buildGemini(ctx context.Context, name string, settings map[string]any, logger *slog.Logger) (ai.Provider, error) {
	if err := configutil.ValidateSettings("gemini", settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model"},
	}); err != nil {
		return nil, err
	}
	var cfg gemini.Config
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return nil, fmt.Errorf("gemini settings: %w", err)
	}
	return gemini.New(ctx, name, cfg, logger)
}

func buildMockAI(_ context.Context, name string, settings map[string]any, _ *slog.Logger) (ai.Provider, error) {
	if err := configutil.ValidateSettings("mock", settings, configutil.Schema{
		Optional: []string{"unavailable", "questions", "score", "summary", "fail"},
	}); err != nil {
		return nil, err
	}
	var cfg mock.AIConfig
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return nil, fmt.Errorf("mock settings: %w", err)
	}
	cfg.Name = name
	return mock.NewAI(cfg), nil
}

func buildDeepgram(_ context.Context, settings map[string]any, logger *slog.Logger) (stt.Opener, error) {
	if err := configutil.ValidateSettings("deepgram", settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "language", "encoding", "sample_rate", "interim", "utterance_end_ms", "finalize_wait", "quiet_period"},
	}); err != nil {
		return nil, err
	}
	var cfg deepgram.Config
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return nil, fmt.Errorf("deepgram settings: %w", err)
	}
	return deepgram.New(cfg, logger), nil
}

func buildGoogle(ctx context.Context, settings map[string]any, logger *slog.Logger) (stt.Opener, error) {
	if err := configutil.ValidateSettings("google", settings, configutil.Schema{
		Optional: []string{"credentials_file", "language_code", "sample_rate", "encoding", "model", "interim", "finalize_wait"},
	}); err != nil {
		return nil, err
	}
	cfg := google.DefaultConfig()
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return nil, fmt.Errorf("google settings: %w", err)
	}
	return google.New(ctx, cfg, logger)
}

func buildMockSTT(_ context.Context, settings map[string]any, _ *slog.Logger) (stt.Opener, error) {
	if err := configutil.ValidateSettings("mock_stt", settings, configutil.Schema{
		Optional: []string{"transcript", "emit_interim", "fail_open"},
	}); err != nil {
		return nil, err
	}
	var cfg mock.STTConfig
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return nil, fmt.Errorf("mock_stt settings: %w", err)
	}
	return mock.NewSTT(cfg), nil
}
