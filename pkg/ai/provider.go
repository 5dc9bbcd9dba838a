// Package ai defines the interview AI backends and the Manager that selects
// among them and substitutes safe defaults when they fail.
package ai

import (
	"context"
	"strings"
)

// JobDetails is the job context handed to every generation call.
type JobDetails struct {
	Title  string
	Skills []string
}

func (j JobDetails) skillList() string {
	if len(j.Skills) == 0 {
		return "not specified"
	}
	return strings.Join(j.Skills, ", ")
}

// Status is the pass/fail outcome of an analysis.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// Analysis is the scored report of a full interview transcript.
type Analysis struct {
	Score   int    `json:"score"`
	Summary string `json:"summary"`
	Status  Status `json:"status"`
}

func (a Analysis) Passed() bool {
	return a.Status == StatusPassed
}

// Label is the application status string recorded for the outcome.
func (a Analysis) Label() string {
	if a.Passed() {
		return "AI Interview Passed"
	}
	return "AI Interview Failed"
}

// Provider is one interchangeable AI backend.
type Provider interface {
	Name() string
	// IsAvailable is a live probe; callers never cache its answer.
	IsAvailable(ctx context.Context) bool
	GenerateInitialQuestion(ctx context.Context, job JobDetails, resumeText string) (string, error)
	GenerateFollowUpQuestion(ctx context.Context, transcript string, job JobDetails) (string, error)
	AnalyzeTranscript(ctx context.Context, transcript string, job JobDetails) (Analysis, error)
}

const (
	DefaultInitialQuestion  = "Thank you for joining. Let's start with this: can you tell me about a project you're particularly proud of?"
	DefaultFollowUpQuestion = "Thank you for that explanation. Can you elaborate on the specific technologies you used?"
)

// DefaultAnalysis is recorded when no backend produced a usable analysis.
func DefaultAnalysis() Analysis {
	return Analysis{Score: 0, Summary: "Could not analyze the interview transcript.", Status: StatusFailed}
}
