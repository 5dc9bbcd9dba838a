package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/intervyu/pkg/ai"
	"github.com/harunnryd/intervyu/pkg/errorsx"
	"github.com/harunnryd/intervyu/pkg/logging"
	"github.com/harunnryd/intervyu/pkg/resilience"
)

type Config struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Adapter is an ai.Provider over the chat completions API.
type Adapter struct {
	name    string
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
	logger  *slog.Logger
}

func NewAdapter(name string, cfg Config, logger *slog.Logger) *Adapter {
	if name == "" {
		name = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Adapter{
		name:    name,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		Client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logging.NewComponentLogger(logger, "openai"),
	}
}

func (a *Adapter) Name() string { return a.name }

// IsAvailable lists models, which fails fast on bad keys and outages.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	if a.APIKey == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		a.logger.Warn("openai_unavailable", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.Warn("openai_unavailable", "status", resp.StatusCode)
		return false
	}
	return true
}

func (a *Adapter) GenerateInitialQuestion(ctx context.Context, job ai.JobDetails, resumeText string) (string, error) {
	return a.complete(ctx, ai.InitialQuestionPrompt(job, resumeText), 200, 0.7)
}

func (a *Adapter) GenerateFollowUpQuestion(ctx context.Context, transcript string, job ai.JobDetails) (string, error) {
	return a.complete(ctx, ai.FollowUpQuestionPrompt(transcript, job), 150, 0.7)
}

func (a *Adapter) AnalyzeTranscript(ctx context.Context, transcript string, job ai.JobDetails) (ai.Analysis, error) {
	text, err := a.complete(ctx, ai.AnalysisPrompt(transcript, job), 500, 0.3)
	if err != nil {
		return ai.Analysis{}, err
	}
	return ai.ParseAnalysis(text)
}

func (a *Adapter) complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	body, err := a.buildRequest(prompt, maxTokens, temperature)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", body)
	if err != nil {
		return "", err
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonProviderUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		return "", errorsx.Wrap(resilience.RateLimitError{Provider: a.name, Message: string(body)}, errorsx.ReasonProviderRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", errorsx.Newf(errorsx.ReasonProviderUnavailable, "openai status %d: %s", resp.StatusCode, logging.Truncate(string(body), 300))
	}
	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode completion: %v: %w", err, errorsx.ErrMalformedOutput)
	}
	return payload.text()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (r chatResponse) text() (string, error) {
	if len(r.Choices) == 0 {
		return "", fmt.Errorf("no choices: %w", errorsx.ErrMalformedOutput)
	}
	content := strings.TrimSpace(r.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty completion: %w", errorsx.ErrMalformedOutput)
	}
	return content, nil
}

func (a *Adapter) buildRequest(prompt string, maxTokens int, temperature float64) (*bytes.Buffer, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("empty prompt")
	}
	b, err := json.Marshal(chatRequest{
		Model:       a.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (a *Adapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

var _ ai.Provider = (*Adapter)(nil)
