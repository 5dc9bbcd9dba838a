package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/intervyu/pkg/errorsx"
	"github.com/harunnryd/intervyu/pkg/logging"
	"github.com/harunnryd/intervyu/pkg/metrics"
	"github.com/harunnryd/intervyu/pkg/redact"
)

const (
	opInitial  = "initial_question"
	opFollowUp = "follow_up_question"
	opAnalyze  = "analyze_transcript"
)

type ManagerOptions struct {
	// Default names the provider tried after the caller's preference. Empty
	// means the first registered provider.
	Default      string
	CallTimeout  time.Duration
	ProbeTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// ProviderStatus reports a live probe result.
type ProviderStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Default   bool   `json:"default"`
}

// Manager holds the immutable, registration-ordered provider list.
type Manager struct {
	providers    []Provider
	byName       map[string]Provider
	def          string
	callTimeout  time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

func NewManager(providers []Provider, opts ManagerOptions) (*Manager, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("no ai providers configured")
	}
	m := &Manager{
		providers:    append([]Provider(nil), providers...),
		byName:       make(map[string]Provider, len(providers)),
		def:          strings.TrimSpace(opts.Default),
		callTimeout:  opts.CallTimeout,
		probeTimeout: opts.ProbeTimeout,
		logger:       logging.NewComponentLogger(opts.Logger, "ai_manager"),
		metrics:      opts.Metrics,
	}
	if m.callTimeout <= 0 {
		m.callTimeout = 30 * time.Second
	}
	if m.probeTimeout <= 0 {
		m.probeTimeout = 5 * time.Second
	}
	for _, p := range providers {
		name := p.Name()
		if _, exists := m.byName[name]; exists {
			return nil, fmt.Errorf("duplicate ai provider %q", name)
		}
		m.byName[name] = p
	}
	if m.def == "" {
		m.def = providers[0].Name()
	}
	if _, ok := m.byName[m.def]; !ok {
		return nil, fmt.Errorf("default ai provider %q is not registered", m.def)
	}
	return m, nil
}

// Names lists providers in registration order.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, p.Name())
	}
	return out
}

func (m *Manager) Default() string { return m.def }

// Select returns the preferred provider when registered and available, else
// the default when available, else the first available provider in
// registration order. Every candidate is probed live.
func (m *Manager) Select(ctx context.Context, preferred string) (Provider, error) {
	probed := make(map[string]bool, len(m.providers))
	try := func(p Provider) bool {
		name := p.Name()
		if _, done := probed[name]; done {
			return false
		}
		probed[name] = m.probe(ctx, p)
		return probed[name]
	}
	if p, ok := m.byName[preferred]; ok && try(p) {
		return p, nil
	}
	if p := m.byName[m.def]; try(p) {
		return p, nil
	}
	for _, p := range m.providers {
		if try(p) {
			m.logger.Info("provider_fallback", "provider", p.Name(), "preferred", preferred, "default", m.def)
			return p, nil
		}
	}
	return nil, errorsx.ErrNoProviderAvailable
}

// Status probes every provider.
func (m *Manager) Status(ctx context.Context) []ProviderStatus {
	out := make([]ProviderStatus, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, ProviderStatus{Name: p.Name(), Available: m.probe(ctx, p), Default: p.Name() == m.def})
	}
	return out
}

func (m *Manager) probe(ctx context.Context, p Provider) bool {
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	return p.IsAvailable(pctx)
}

// GenerateInitialQuestion never fails: any selection or provider failure
// yields DefaultInitialQuestion.
func (m *Manager) GenerateInitialQuestion(ctx context.Context, preferred string, job JobDetails, resumeText string) string {
	q, err := call(m, ctx, preferred, opInitial, func(ctx context.Context, p Provider) (string, error) {
		out, err := p.GenerateInitialQuestion(ctx, job, resumeText)
		return nonEmpty(CleanQuestion(out), err)
	})
	if err != nil {
		return DefaultInitialQuestion
	}
	return q
}

// GenerateFollowUpQuestion never fails: any selection or provider failure
// yields DefaultFollowUpQuestion.
func (m *Manager) GenerateFollowUpQuestion(ctx context.Context, preferred, transcript string, job JobDetails) string {
	q, err := call(m, ctx, preferred, opFollowUp, func(ctx context.Context, p Provider) (string, error) {
		out, err := p.GenerateFollowUpQuestion(ctx, transcript, job)
		return nonEmpty(CleanQuestion(out), err)
	})
	if err != nil {
		return DefaultFollowUpQuestion
	}
	return q
}

// AnalyzeTranscript never fails: any selection or provider failure, or an
// analysis outside the 0..100 range, yields DefaultAnalysis.
func (m *Manager) AnalyzeTranscript(ctx context.Context, preferred, transcript string, job JobDetails) Analysis {
	a, err := call(m, ctx, preferred, opAnalyze, func(ctx context.Context, p Provider) (Analysis, error) {
		out, err := p.AnalyzeTranscript(ctx, transcript, job)
		if err != nil {
			return Analysis{}, err
		}
		if out.Score < 0 || out.Score > 100 || (out.Status != StatusPassed && out.Status != StatusFailed) {
			return Analysis{}, fmt.Errorf("analysis %+v: %w", out, errorsx.ErrMalformedOutput)
		}
		return out, nil
	})
	if err != nil {
		return DefaultAnalysis()
	}
	return a
}

func call[T any](m *Manager, ctx context.Context, preferred, op string, fn func(context.Context, Provider) (T, error)) (T, error) {
	var zero T
	p, err := m.Select(ctx, preferred)
	if err != nil {
		m.substituted(op, "", err)
		return zero, err
	}
	m.metrics.ProviderSelection(p.Name())
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	start := time.Now()
	out, err := fn(cctx, p)
	m.metrics.ObserveProviderCall(p.Name(), op, time.Since(start).Seconds())
	if err != nil {
		m.substituted(op, p.Name(), err)
		return zero, err
	}
	return out, nil
}

func (m *Manager) substituted(op, provider string, err error) {
	m.metrics.DefaultSubstituted(op)
	m.logger.Warn("provider_default_substituted",
		"operation", op,
		"provider", provider,
		"reason", errorsx.Reason(err),
		"error", redact.Preview(err.Error(), 300))
}

func nonEmpty(s string, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("empty question: %w", errorsx.ErrMalformedOutput)
	}
	return s, nil
}
