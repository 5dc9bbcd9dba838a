// Package intervyu wires configuration, providers, storage and the websocket
// transport into a runnable interview service.
package intervyu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harunnryd/intervyu/pkg/ai"
	"github.com/harunnryd/intervyu/pkg/events"
	"github.com/harunnryd/intervyu/pkg/interview"
	"github.com/harunnryd/intervyu/pkg/logging"
	"github.com/harunnryd/intervyu/pkg/metrics"
	"github.com/harunnryd/intervyu/pkg/redact"
	"github.com/harunnryd/intervyu/pkg/resilience"
	"github.com/harunnryd/intervyu/pkg/resume"
	"github.com/harunnryd/intervyu/pkg/runner"
	"github.com/harunnryd/intervyu/pkg/screening"
	"github.com/harunnryd/intervyu/pkg/session"
	"github.com/harunnryd/intervyu/pkg/store/memory"
	"github.com/harunnryd/intervyu/pkg/store/postgres"
	"github.com/harunnryd/intervyu/pkg/stt"
	"github.com/harunnryd/intervyu/pkg/transport/ws"
)

// Store is what the engine needs from persistence.
type Store interface {
	interview.ApplicationReader
	screening.Store
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Logger    *slog.Logger
	// Store replaces the configured driver.
	Store Store
	// Registry receives the service metrics. Nil creates a private one.
	Registry *prometheus.Registry
}

type Engine struct {
	cfg       Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	ai        *ai.Manager
	opener    stt.Opener
	store     Store
	publisher *events.Publisher
	sessions  *session.Registry
	orch      *interview.Orchestrator
	transport *ws.Server
	runner    *runner.LifecycleRunner

	closeOnce sync.Once
	closers   []io.Closer
}

func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.Init(cfg.LogLevel, cfg.LogFormat)
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviderRegistry()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	e := &Engine{cfg: cfg, logger: logging.NewComponentLogger(logger, "engine"), registry: reg}
	e.metrics = metrics.New(reg)

	manager, err := NewAIManager(ctx, cfg, providers, logger, e.metrics)
	if err != nil {
		e.close()
		return nil, err
	}
	e.ai = manager

	opener, err := providers.BuildSTT(ctx, cfg.STT, logger)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("stt provider %s: %w", cfg.STT.Provider, err)
	}
	e.opener = opener
	e.track(opener)

	store := opts.Store
	if store == nil {
		store, err = openStore(ctx, cfg.Store, logger)
		if err != nil {
			e.close()
			return nil, err
		}
		e.track(store)
	}
	e.store = store

	e.publisher = events.New(events.Config{
		Enabled: cfg.Events.Enabled,
		Brokers: cfg.Events.Brokers,
		Topic:   cfg.Events.Topic,
	}, logger, e.metrics)
	e.track(e.publisher)

	retry := resilience.NewRetryPolicy(cfg.Store.PersistRetries, time.Duration(cfg.Store.PersistBackoffMS)*time.Millisecond)
	bridge := screening.NewBridge(store, retry, e.publisher, logger, e.metrics)

	maxChars := cfg.Resume.MaxChars
	extractor := resume.NewFileExtractor(cfg.Resume.BaseDir)
	if maxChars > 0 {
		extractor.MaxChars = maxChars
	}

	e.sessions = session.NewRegistry()
	e.transport = ws.New(ws.Config{
		Addr:           cfg.Server.Addr,
		WebsocketPath:  cfg.Server.WSPath,
		AllowAnyOrigin: cfg.Server.AllowAnyOrigin,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	e.orch, err = interview.New(interview.Config{
		MaxTurns:          cfg.Interview.MaxTurns,
		PacingDelay:       cfg.PacingDelay(),
		RequireResume:     cfg.Interview.RequireResume,
		PreferredProvider: cfg.Interview.PreferredProvider,
	}, interview.Deps{
		Sessions: e.sessions,
		AI:       manager,
		Apps:     store,
		Bridge:   bridge,
		Resumes:  extractor,
		STT:      opener,
		Emitter:  e.transport,
		Logger:   logger,
		Metrics:  e.metrics,
	})
	if err != nil {
		e.close()
		return nil, err
	}
	e.transport.SetHandler(e.orch)

	metricsPath := cfg.Server.MetricsPath
	if strings.TrimSpace(metricsPath) == "" {
		metricsPath = "/metrics"
	}
	e.transport.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	e.transport.Handle("/providers", http.HandlerFunc(e.handleProviders))

	e.runner = runner.NewLifecycleRunner(runner.DrainerFunc(e.drain), runner.Hooks{
		OnStart: e.start,
		OnStop: func() {
			e.close()
			e.logger.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_sessions", e.sessions.Count())
		},
	}, cfg.DrainTimeout())

	e.logger.Info("intervyu_init",
		"environment", cfg.Environment,
		"ai_providers", strings.Join(manager.Names(), ","),
		"ai_default", manager.Default(),
		"stt_provider", opener.Name(),
		"store", cfg.Store.Driver,
		"events", cfg.Events.Enabled,
	)
	return e, nil
}

// Run serves until ctx is done, then drains. Resources are released on
// return even when startup fails.
func (e *Engine) Run(ctx context.Context) error {
	defer e.close()
	return e.runner.Run(ctx)
}

func (e *Engine) Stop() error {
	if e.runner.State() == runner.StateNew {
		defer e.close()
	}
	return e.runner.Stop()
}

func (e *Engine) State() runner.State { return e.runner.State() }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) AI() *ai.Manager { return e.ai }

func (e *Engine) Orchestrator() *interview.Orchestrator { return e.orch }

func (e *Engine) Transport() *ws.Server { return e.transport }

func (e *Engine) Sessions() *session.Registry { return e.sessions }

func (e *Engine) Registry() *prometheus.Registry { return e.registry }

func (e *Engine) start(ctx context.Context) error {
	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	e.logger.Info("engine_ready", "addr", e.transport.Addr(), "ws_path", e.cfg.Server.WSPath)
	return nil
}

func (e *Engine) drain(ctx context.Context) error {
	err := e.transport.Stop()
	e.orch.Shutdown()
	if !e.sessions.WaitForEmpty(ctx, 100*time.Millisecond) {
		return runner.ErrDrainTimeout
	}
	return err
}

func (e *Engine) handleProviders(w http.ResponseWriter, r *http.Request) {
	status := e.ai.Status(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"providers": status}); err != nil {
		e.logger.Warn("providers_encode_failed", "error", err)
	}
}

func (e *Engine) track(v any) {
	if c, ok := v.(io.Closer); ok {
		e.closers = append(e.closers, c)
	}
}

// close releases tracked resources in reverse order of acquisition.
func (e *Engine) close() {
	e.closeOnce.Do(func() {
		for i := len(e.closers) - 1; i >= 0; i-- {
			if err := e.closers[i].Close(); err != nil {
				e.logger.Warn("close_failed", "error", err)
			}
		}
	})
}

// NewAIManager builds every configured AI provider in configuration order.
func NewAIManager(ctx context.Context, cfg Config, providers *ProviderRegistry, logger *slog.Logger, m *metrics.Metrics) (*ai.Manager, error) {
	if providers == nil {
		providers = DefaultProviderRegistry()
	}
	built := make([]ai.Provider, 0, len(cfg.AI.Providers))
	for _, pc := range cfg.AI.Providers {
		p, err := providers.BuildAI(ctx, pc, logger)
		if err != nil {
			return nil, fmt.Errorf("ai provider %s: %w", pc.key(), err)
		}
		built = append(built, p)
	}
	return ai.NewManager(built, ai.ManagerOptions{
		Default:      cfg.AI.Default,
		CallTimeout:  time.Duration(cfg.AI.CallTimeoutMS) * time.Millisecond,
		ProbeTimeout: time.Duration(cfg.AI.ProbeTimeoutMS) * time.Millisecond,
		Logger:       logger,
		Metrics:      m,
	})
}

func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case StorePostgres:
		s, err := postgres.Open(cfg.DSN, cfg.Verbose, logger)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := s.Migrate(ctx); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		return s, nil
	case StoreMemory, "":
		s := memory.New()
		if seed := strings.TrimSpace(cfg.SeedFile); seed != "" {
			if err := s.LoadSeed(seed); err != nil {
				return nil, fmt.Errorf("load seed: %w", err)
			}
		}
		return s, nil
	default:
		return nil, errors.New("unsupported store driver: " + cfg.Driver)
	}
}
