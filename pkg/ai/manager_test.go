package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/harunnryd/intervyu/pkg/errorsx"
	"github.com/harunnryd/intervyu/pkg/metrics"
)

type stubProvider struct {
	name      string
	available bool
	question  string
	analysis  Analysis
	err       error
	block     bool

	mu     sync.Mutex
	probes int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) IsAvailable(context.Context) bool {
	s.mu.Lock()
	s.probes++
	s.mu.Unlock()
	return s.available
}

func (s *stubProvider) GenerateInitialQuestion(ctx context.Context, _ JobDetails, _ string) (string, error) {
	return s.answer(ctx)
}

func (s *stubProvider) GenerateFollowUpQuestion(ctx context.Context, _ string, _ JobDetails) (string, error) {
	return s.answer(ctx)
}

func (s *stubProvider) AnalyzeTranscript(ctx context.Context, _ string, _ JobDetails) (Analysis, error) {
	if _, err := s.answer(ctx); err != nil {
		return Analysis{}, err
	}
	return s.analysis, nil
}

func (s *stubProvider) answer(ctx context.Context) (string, error) {
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.err != nil {
		return "", s.err
	}
	return s.question, nil
}

func (s *stubProvider) probeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

func mustManager(t *testing.T, opts ManagerOptions, providers ...Provider) *Manager {
	t.Helper()
	m, err := NewManager(providers, opts)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestSelectOrder(t *testing.T) {
	gemini := &stubProvider{name: "gemini", available: true}
	openai := &stubProvider{name: "openai", available: true}
	m := mustManager(t, ManagerOptions{Default: "gemini"}, gemini, openai)

	p, err := m.Select(context.Background(), "openai")
	if err != nil || p.Name() != "openai" {
		t.Fatalf("expected preferred openai, got %v %v", p, err)
	}
	p, _ = m.Select(context.Background(), "")
	if p.Name() != "gemini" {
		t.Fatalf("expected default gemini, got %s", p.Name())
	}
	p, _ = m.Select(context.Background(), "unknown")
	if p.Name() != "gemini" {
		t.Fatalf("expected default for unregistered preference, got %s", p.Name())
	}
	gemini.available = false
	p, _ = m.Select(context.Background(), "")
	if p.Name() != "openai" {
		t.Fatalf("expected fallback to openai, got %s", p.Name())
	}
}

func TestSelectProbesLive(t *testing.T) {
	p1 := &stubProvider{name: "p1", available: true}
	m := mustManager(t, ManagerOptions{}, p1)
	for i := 0; i < 3; i++ {
		if _, err := m.Select(context.Background(), ""); err != nil {
			t.Fatalf("select error: %v", err)
		}
	}
	if p1.probeCount() != 3 {
		t.Fatalf("expected a probe per selection, got %d", p1.probeCount())
	}
}

func TestSelectNoneAvailable(t *testing.T) {
	m := mustManager(t, ManagerOptions{},
		&stubProvider{name: "p1"},
		&stubProvider{name: "p2"},
	)
	_, err := m.Select(context.Background(), "p2")
	if !errors.Is(err, errorsx.ErrNoProviderAvailable) {
		t.Fatalf("expected no provider available, got %v", err)
	}
}

func TestAllUnavailableYieldsDefaults(t *testing.T) {
	reg := metrics.New(nil)
	m := mustManager(t, ManagerOptions{Metrics: reg}, &stubProvider{name: "p1"})
	ctx := context.Background()
	if q := m.GenerateInitialQuestion(ctx, "", JobDetails{Title: "Go"}, ""); q != DefaultInitialQuestion || q == "" {
		t.Fatalf("expected default initial question, got %q", q)
	}
	if q := m.GenerateFollowUpQuestion(ctx, "", "transcript", JobDetails{}); q != DefaultFollowUpQuestion {
		t.Fatalf("expected default follow-up, got %q", q)
	}
	if a := m.AnalyzeTranscript(ctx, "", "transcript", JobDetails{}); a != DefaultAnalysis() {
		t.Fatalf("expected default analysis, got %+v", a)
	}
	if got := testutil.ToFloat64(reg.ProviderDefaults.WithLabelValues(opInitial)); got != 1 {
		t.Fatalf("expected one default substituted for initial, got %v", got)
	}
}

func TestProviderErrorsYieldDefaults(t *testing.T) {
	m := mustManager(t, ManagerOptions{}, &stubProvider{name: "p1", available: true, err: errors.New("500")})
	if q := m.GenerateInitialQuestion(context.Background(), "", JobDetails{}, ""); q != DefaultInitialQuestion {
		t.Fatalf("expected default on provider error, got %q", q)
	}
	empty := mustManager(t, ManagerOptions{}, &stubProvider{name: "p1", available: true, question: "  \"\" "})
	if q := empty.GenerateFollowUpQuestion(context.Background(), "", "", JobDetails{}); q != DefaultFollowUpQuestion {
		t.Fatalf("expected default on empty output, got %q", q)
	}
	bad := mustManager(t, ManagerOptions{}, &stubProvider{name: "p1", available: true, analysis: Analysis{Score: 140, Status: StatusPassed}})
	if a := bad.AnalyzeTranscript(context.Background(), "", "", JobDetails{}); a != DefaultAnalysis() {
		t.Fatalf("expected default on out-of-range analysis, got %+v", a)
	}
}

func TestCallTimeoutBoundsDegradedProvider(t *testing.T) {
	m := mustManager(t, ManagerOptions{CallTimeout: 20 * time.Millisecond}, &stubProvider{name: "slow", available: true, block: true})
	start := time.Now()
	q := m.GenerateInitialQuestion(context.Background(), "", JobDetails{}, "")
	if q != DefaultInitialQuestion {
		t.Fatalf("expected default after timeout, got %q", q)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("expected call bounded by timeout")
	}
}

func TestSuccessfulCalls(t *testing.T) {
	p := &stubProvider{name: "p1", available: true, question: " \"How did you scale it?\" ",
		analysis: Analysis{Score: 81, Summary: "good", Status: StatusPassed}}
	m := mustManager(t, ManagerOptions{}, p)
	if q := m.GenerateFollowUpQuestion(context.Background(), "", "t", JobDetails{}); q != "How did you scale it?" {
		t.Fatalf("expected cleaned question, got %q", q)
	}
	a := m.AnalyzeTranscript(context.Background(), "", "t", JobDetails{})
	if a.Score != 81 || !a.Passed() || a.Label() != "AI Interview Passed" {
		t.Fatalf("unexpected analysis %+v", a)
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(nil, ManagerOptions{}); err == nil {
		t.Fatalf("expected error without providers")
	}
	if _, err := NewManager([]Provider{&stubProvider{name: "a"}, &stubProvider{name: "a"}}, ManagerOptions{}); err == nil {
		t.Fatalf("expected duplicate name error")
	}
	if _, err := NewManager([]Provider{&stubProvider{name: "a"}}, ManagerOptions{Default: "b"}); err == nil {
		t.Fatalf("expected unknown default error")
	}
	m := mustManager(t, ManagerOptions{}, &stubProvider{name: "a", available: true}, &stubProvider{name: "b"})
	st := m.Status(context.Background())
	if len(st) != 2 || !st[0].Available || !st[0].Default || st[1].Available {
		t.Fatalf("unexpected status %+v", st)
	}
}
