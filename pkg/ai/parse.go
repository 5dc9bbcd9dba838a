package ai

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/harunnryd/intervyu/pkg/errorsx"
)

// PassThreshold decides the status when a backend omits it.
const PassThreshold = 60

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// ParseAnalysis extracts the analysis object from raw model output, which
// may wrap the JSON in prose or code fences.
func ParseAnalysis(raw string) (Analysis, error) {
	match := jsonObject.FindString(raw)
	if match == "" {
		return Analysis{}, fmt.Errorf("no json object in output: %w", errorsx.ErrMalformedOutput)
	}
	var out struct {
		Score   *float64 `json:"score"`
		Summary string   `json:"summary"`
		Status  string   `json:"status"`
	}
	if err := json.Unmarshal([]byte(match), &out); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %v: %w", err, errorsx.ErrMalformedOutput)
	}
	if out.Score == nil {
		return Analysis{}, fmt.Errorf("analysis missing score: %w", errorsx.ErrMalformedOutput)
	}
	score := math.Round(*out.Score)
	if score < 0 || score > 100 || math.IsNaN(score) {
		return Analysis{}, fmt.Errorf("analysis score %v out of range: %w", *out.Score, errorsx.ErrMalformedOutput)
	}
	status, err := parseStatus(out.Status, int(score))
	if err != nil {
		return Analysis{}, err
	}
	return Analysis{Score: int(score), Summary: strings.TrimSpace(out.Summary), Status: status}, nil
}

func parseStatus(raw string, score int) (Status, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		if score >= PassThreshold {
			return StatusPassed, nil
		}
		return StatusFailed, nil
	case strings.Contains(s, "fail"):
		return StatusFailed, nil
	case strings.Contains(s, "pass"):
		return StatusPassed, nil
	default:
		return "", fmt.Errorf("unknown analysis status %q: %w", raw, errorsx.ErrMalformedOutput)
	}
}

// CleanQuestion strips quotes and whitespace models tend to wrap answers in.
func CleanQuestion(raw string) string {
	q := strings.TrimSpace(raw)
	q = strings.Trim(q, "\"'`")
	return strings.TrimSpace(q)
}
