package ai

import (
	"errors"
	"strings"
	"testing"

	"github.com/harunnryd/intervyu/pkg/errorsx"
)

func TestParseAnalysis(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Analysis
	}{
		{"plain", `{"score": 82, "summary": "Strong answers", "status": "AI Interview Passed"}`,
			Analysis{82, "Strong answers", StatusPassed}},
		{"fenced", "```json\n{\"score\": 40, \"summary\": \"vague\", \"status\": \"AI Interview Failed\"}\n```",
			Analysis{40, "vague", StatusFailed}},
		{"prose", `Here is the result: {"score": 59.6, "summary": "ok", "status": "passed"} thanks`,
			Analysis{60, "ok", StatusPassed}},
		{"derived status", `{"score": 61, "summary": "fine"}`,
			Analysis{61, "fine", StatusPassed}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAnalysis(tc.raw)
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestParseAnalysisMalformed(t *testing.T) {
	for _, raw := range []string{
		"no json here",
		`{"summary": "missing score"}`,
		`{"score": 150, "status": "passed"}`,
		`{"score": -1}`,
		`{"score": 70, "status": "maybe"}`,
		`{"score": "high"}`,
	} {
		_, err := ParseAnalysis(raw)
		if !errors.Is(err, errorsx.ErrMalformedOutput) {
			t.Fatalf("%q: expected malformed output, got %v", raw, err)
		}
		if !errorsx.HasReason(err, errorsx.ReasonMalformedOutput) {
			t.Fatalf("%q: expected malformed reason", raw)
		}
	}
}

func TestPromptsCarryJobContext(t *testing.T) {
	job := JobDetails{Title: "Backend Engineer", Skills: []string{"Go", "Postgres"}}
	p := InitialQuestionPrompt(job, "")
	if !strings.Contains(p, `"Backend Engineer"`) || !strings.Contains(p, "Go, Postgres") || !strings.Contains(p, "(no resume available)") {
		t.Fatalf("unexpected initial prompt: %s", p)
	}
	if !strings.Contains(FollowUpQuestionPrompt("", JobDetails{}), "not specified") {
		t.Fatalf("expected missing skills placeholder")
	}
	if !strings.Contains(AnalysisPrompt("Interviewer: q\nCandidate: a", job), "Candidate: a") {
		t.Fatalf("expected transcript in analysis prompt")
	}
}
