// Package session keeps the ephemeral per-connection interview state. Nothing
// here is persisted; a process restart loses every session.
package session

import (
	"strings"
	"time"

	"github.com/harunnryd/intervyu/pkg/screening"
)

// State is the orchestrator position of a session.
type State int

const (
	StateIdle State = iota
	StateAwaitingFirstQuestion
	StateQuestionAsked
	StateCapturingAnswer
	StateFinalizing
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstQuestion:
		return "awaiting_first_question"
	case StateQuestionAsked:
		return "question_asked"
	case StateCapturingAnswer:
		return "capturing_answer"
	case StateFinalizing:
		return "finalizing"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Job is the job context cached for question generation.
type Job struct {
	Title  string
	Skills []string
}

// Session is owned by exactly one connection.
type Session struct {
	ID               string
	ApplicationID    string
	Job              Job
	QuestionCount    int
	CurrentQuestion  string
	QuestionAskedAt  time.Time
	TranscriptBuffer string
	Turns            []screening.TranscriptTurn
	State            State
	Terminal         bool
	CreatedAt        time.Time
}

// Transcript renders the answered turns as the cross-turn conversation handed
// to the AI backends.
func (s Session) Transcript() string {
	var b strings.Builder
	for i, t := range s.Turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("Interviewer: " + t.Question + "\nCandidate: " + t.Answer)
	}
	return b.String()
}

func (s Session) clone() Session {
	out := s
	if s.Job.Skills != nil {
		out.Job.Skills = append([]string(nil), s.Job.Skills...)
	}
	if s.Turns != nil {
		out.Turns = append([]screening.TranscriptTurn(nil), s.Turns...)
	}
	return out
}

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	Job              *Job
	QuestionCount    *int
	CurrentQuestion  *string
	QuestionAskedAt  *time.Time
	TranscriptBuffer *string
	AppendTurn       *screening.TranscriptTurn
	State            *State
	Terminal         *bool
}

func (p Patch) apply(s *Session) {
	if p.Job != nil {
		s.Job = Job{Title: p.Job.Title, Skills: append([]string(nil), p.Job.Skills...)}
	}
	if p.QuestionCount != nil {
		s.QuestionCount = *p.QuestionCount
	}
	if p.CurrentQuestion != nil {
		s.CurrentQuestion = *p.CurrentQuestion
	}
	if p.QuestionAskedAt != nil {
		s.QuestionAskedAt = *p.QuestionAskedAt
	}
	if p.TranscriptBuffer != nil {
		s.TranscriptBuffer = *p.TranscriptBuffer
	}
	if p.AppendTurn != nil {
		s.Turns = append(s.Turns, *p.AppendTurn)
	}
	if p.State != nil {
		s.State = *p.State
	}
	if p.Terminal != nil {
		s.Terminal = *p.Terminal
	}
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}
