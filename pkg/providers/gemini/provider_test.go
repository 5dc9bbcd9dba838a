package gemini

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"google.golang.org/genai"

	"github.com/harunnryd/intervyu/pkg/ai"
	"github.com/harunnryd/intervyu/pkg/errorsx"
	"github.com/harunnryd/intervyu/pkg/resilience"
)

type fakeModels struct {
	text    string
	err     error
	getErr  error
	configs []*genai.GenerateContentConfig
	prompts []string
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.configs = append(f.configs, config)
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompts = append(f.prompts, contents[0].Parts[0].Text)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

func (f *fakeModels) Get(context.Context, string, *genai.GetModelConfig) (*genai.Model, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &genai.Model{Name: "models/" + defaultModel}, nil
}

func TestGenerateQuestion(t *testing.T) {
	models := &fakeModels{text: "  How did you shard the database?  "}
	p := newProvider("", "", models, nil)
	q, err := p.GenerateFollowUpQuestion(context.Background(), "Interviewer: q\nCandidate: a", ai.JobDetails{Title: "DBA"})
	if err != nil {
		t.Fatalf("generate error: %v", err)
	}
	if q != "How did you shard the database?" {
		t.Fatalf("unexpected question %q", q)
	}
	if p.Name() != "gemini" || p.model != defaultModel {
		t.Fatalf("unexpected defaults %s %s", p.Name(), p.model)
	}
}

func TestAnalyzeRequestsJSON(t *testing.T) {
	models := &fakeModels{text: `{"score": 55, "summary": "thin", "status": "AI Interview Failed"}`}
	p := newProvider("gemini", "gemini-pro", models, nil)
	a, err := p.AnalyzeTranscript(context.Background(), "t", ai.JobDetails{})
	if err != nil {
		t.Fatalf("analyze error: %v", err)
	}
	if a.Score != 55 || a.Passed() {
		t.Fatalf("unexpected analysis %+v", a)
	}
	if models.configs[0].ResponseMIMEType != "application/json" {
		t.Fatalf("expected json response type")
	}
}

func TestRateLimitMapped(t *testing.T) {
	models := &fakeModels{err: genai.APIError{Code: http.StatusTooManyRequests, Message: "quota"}}
	p := newProvider("gemini", "", models, nil)
	_, err := p.GenerateInitialQuestion(context.Background(), ai.JobDetails{}, "")
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestEmptyResponseMalformed(t *testing.T) {
	p := newProvider("gemini", "", &fakeModels{text: "   "}, nil)
	_, err := p.GenerateInitialQuestion(context.Background(), ai.JobDetails{}, "")
	if !errors.Is(err, errorsx.ErrMalformedOutput) {
		t.Fatalf("expected malformed output, got %v", err)
	}
}

func TestIsAvailable(t *testing.T) {
	if !newProvider("", "", &fakeModels{}, nil).IsAvailable(context.Background()) {
		t.Fatalf("expected available")
	}
	if newProvider("", "", &fakeModels{getErr: errors.New("403")}, nil).IsAvailable(context.Background()) {
		t.Fatalf("expected unavailable on probe error")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), "gemini", Config{}, nil); err == nil {
		t.Fatalf("expected error without api key")
	}
}
