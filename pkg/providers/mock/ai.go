package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/intervyu/pkg/ai"
)

type AIConfig struct {
	Name string `mapstructure:"name"`
	// Unavailable makes IsAvailable report false.
	Unavailable bool `mapstructure:"unavailable"`
	// Questions are served in order; the last one repeats.
	Questions []string `mapstructure:"questions"`
	Score     int      `mapstructure:"score"`
	Summary   string   `mapstructure:"summary"`
	Fail      bool     `mapstructure:"fail"`
}

// AIProvider is a scripted ai.Provider for local runs and tests.
type AIProvider struct {
	cfg       AIConfig
	available atomic.Bool

	mu          sync.Mutex
	next        int
	transcripts []string
	calls       map[string]int
}

func NewAI(cfg AIConfig) *AIProvider {
	if cfg.Name == "" {
		cfg.Name = "mock"
	}
	if len(cfg.Questions) == 0 {
		cfg.Questions = []string{
			"Walk me through a project you shipped recently.",
			"What was the hardest technical decision in that project?",
			"How did you test it?",
			"What would you change if you built it again?",
			"How did you work with the rest of your team?",
		}
	}
	if cfg.Summary == "" {
		cfg.Summary = "mock analysis"
	}
	p := &AIProvider{cfg: cfg, calls: map[string]int{}}
	p.available.Store(!cfg.Unavailable)
	return p
}

func (p *AIProvider) Name() string { return p.cfg.Name }

func (p *AIProvider) SetAvailable(v bool) { p.available.Store(v) }

func (p *AIProvider) IsAvailable(context.Context) bool {
	p.count("probe")
	return p.available.Load()
}

func (p *AIProvider) GenerateInitialQuestion(context.Context, ai.JobDetails, string) (string, error) {
	p.count("initial")
	if p.cfg.Fail {
		return "", fmt.Errorf("%s: scripted failure", p.cfg.Name)
	}
	return p.question(), nil
}

func (p *AIProvider) GenerateFollowUpQuestion(_ context.Context, transcript string, _ ai.JobDetails) (string, error) {
	p.count("follow_up")
	if p.cfg.Fail {
		return "", fmt.Errorf("%s: scripted failure", p.cfg.Name)
	}
	p.mu.Lock()
	p.transcripts = append(p.transcripts, transcript)
	p.mu.Unlock()
	return p.question(), nil
}

func (p *AIProvider) AnalyzeTranscript(_ context.Context, transcript string, _ ai.JobDetails) (ai.Analysis, error) {
	p.count("analyze")
	if p.cfg.Fail {
		return ai.Analysis{}, fmt.Errorf("%s: scripted failure", p.cfg.Name)
	}
	p.mu.Lock()
	p.transcripts = append(p.transcripts, transcript)
	p.mu.Unlock()
	status := ai.StatusFailed
	if p.cfg.Score >= ai.PassThreshold {
		status = ai.StatusPassed
	}
	return ai.Analysis{Score: p.cfg.Score, Summary: p.cfg.Summary, Status: status}, nil
}

// Calls reports how often an operation ran: probe, initial, follow_up or
// analyze.
func (p *AIProvider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Transcripts returns the transcripts received by follow-up and analysis
// calls, in order.
func (p *AIProvider) Transcripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.transcripts...)
}

func (p *AIProvider) question() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.next
	if i >= len(p.cfg.Questions) {
		i = len(p.cfg.Questions) - 1
	}
	p.next++
	return p.cfg.Questions[i]
}

func (p *AIProvider) count(op string) {
	p.mu.Lock()
	p.calls[op]++
	p.mu.Unlock()
}

var _ ai.Provider = (*AIProvider)(nil)
