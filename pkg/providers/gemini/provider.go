// Package gemini implements ai.Provider on the Google GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/harunnryd/intervyu/pkg/ai"
	"github.com/harunnryd/intervyu/pkg/errorsx"
	"github.com/harunnryd/intervyu/pkg/logging"
	"github.com/harunnryd/intervyu/pkg/resilience"
)

const defaultModel = "gemini-2.5-flash"

type Config struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

type Provider struct {
	name   string
	model  string
	models modelsAPI
	logger *slog.Logger
}

func New(ctx context.Context, name string, cfg Config, logger *slog.Logger) (*Provider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newProvider(name, cfg.Model, client.Models, logger), nil
}

func newProvider(name, model string, models modelsAPI, logger *slog.Logger) *Provider {
	if name == "" {
		name = "gemini"
	}
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	return &Provider{name: name, model: model, models: models, logger: logging.NewComponentLogger(logger, "gemini")}
}

func (p *Provider) Name() string { return p.name }

// IsAvailable fetches the configured model's metadata.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	if _, err := p.models.Get(ctx, p.model, nil); err != nil {
		p.logger.Warn("gemini_unavailable", "model", p.model, "error", err)
		return false
	}
	return true
}

func (p *Provider) GenerateInitialQuestion(ctx context.Context, job ai.JobDetails, resumeText string) (string, error) {
	return p.generate(ctx, ai.InitialQuestionPrompt(job, resumeText), 0.7, "")
}

func (p *Provider) GenerateFollowUpQuestion(ctx context.Context, transcript string, job ai.JobDetails) (string, error) {
	return p.generate(ctx, ai.FollowUpQuestionPrompt(transcript, job), 0.7, "")
}

func (p *Provider) AnalyzeTranscript(ctx context.Context, transcript string, job ai.JobDetails) (ai.Analysis, error) {
	text, err := p.generate(ctx, ai.AnalysisPrompt(transcript, job), 0.3, "application/json")
	if err != nil {
		return ai.Analysis{}, err
	}
	return ai.ParseAnalysis(text)
}

func (p *Provider) generate(ctx context.Context, prompt string, temperature float32, mimeType string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(temperature),
		ResponseMIMEType: mimeType,
	}
	resp, err := p.models.GenerateContent(ctx, p.model, genai.Text(prompt), config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
			return "", errorsx.Wrap(resilience.RateLimitError{Provider: p.name, Message: apiErr.Message}, errorsx.ReasonProviderRateLimit)
		}
		return "", errorsx.Wrap(fmt.Errorf("generate content: %w", err), errorsx.ReasonProviderUnavailable)
	}
	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}
	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", fmt.Errorf("gemini returned empty response: %w", errorsx.ErrMalformedOutput)
	}
	return output, nil
}

var _ ai.Provider = (*Provider)(nil)
