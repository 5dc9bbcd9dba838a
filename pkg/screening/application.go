package screening

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	StatusPending         = "pending"
	StatusInterviewPassed = "AI Interview Passed"
	StatusInterviewFailed = "AI Interview Failed"
)

// History entry statuses.
const (
	HistoryCompleted  = "completed"
	HistoryPassed     = "passed"
	HistoryFailed     = "failed"
	HistoryInProgress = "in_progress"
	HistoryScheduled  = "scheduled"
)

// TranscriptTurn is one answered question of an interview.
type TranscriptTurn struct {
	Question        string  `json:"question"`
	Answer          string  `json:"answer"`
	DurationSeconds float64 `json:"duration"`
}

// VideoAnalysisReport is the persisted result of the AI interview.
type VideoAnalysisReport struct {
	OverallScore       *int             `json:"overallScore,omitempty"`
	CommunicationScore *int             `json:"communicationScore,omitempty"`
	TechnicalScore     *int             `json:"technicalScore,omitempty"`
	Summary            string           `json:"summary,omitempty"`
	Feedback           string           `json:"feedback,omitempty"`
	RedFlags           []string         `json:"redFlags"`
	Transcripts        []TranscriptTurn `json:"transcripts"`
}

// ScoringBreakdown holds the percentage weight of each sub-score.
type ScoringBreakdown struct {
	ResumeWeight int `json:"resumeWeight"`
	QuizWeight   int `json:"quizWeight"`
	VideoWeight  int `json:"videoWeight"`
}

func DefaultScoringBreakdown() ScoringBreakdown {
	return ScoringBreakdown{ResumeWeight: 40, QuizWeight: 30, VideoWeight: 30}
}

// StageEntry records one step of the application's stage history.
type StageEntry struct {
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Score     *int      `json:"score,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

// Application is a candidate's application to one job.
type Application struct {
	ID                        string              `gorm:"type:uuid;primaryKey" json:"id"`
	JobID                     string              `gorm:"type:uuid;not null;index" json:"jobId"`
	CandidateID               string              `gorm:"type:uuid;not null;index" json:"candidateId"`
	ResumeURL                 string              `gorm:"type:text" json:"resumeUrl"`
	Status                    string              `gorm:"type:text;not null;default:'pending'" json:"status"`
	ScreeningStage            Stage               `gorm:"type:text;not null;default:'resume_uploaded';index" json:"screeningStage"`
	StageHistory              []StageEntry        `gorm:"type:jsonb;serializer:json" json:"stageHistory"`
	AIMatchScore              *int                `json:"aiMatchScore"`
	QuizScore                 *int                `json:"quizScore"`
	VideoAnalysisReport       VideoAnalysisReport `gorm:"type:jsonb;serializer:json" json:"videoAnalysisReport"`
	ScoringBreakdown          ScoringBreakdown    `gorm:"type:jsonb;serializer:json" json:"scoringBreakdown"`
	OverallScore              *int                `json:"overallScore"`
	ProgressPercentage        int                 `json:"progressPercentage"`
	VideoInterviewStartedAt   *time.Time          `json:"videoInterviewStartedAt"`
	VideoInterviewCompletedAt *time.Time          `json:"videoInterviewCompletedAt"`
	CreatedAt                 time.Time           `json:"createdAt"`
	UpdatedAt                 time.Time           `json:"updatedAt"`
}

func (Application) TableName() string {
	return "applications"
}

// BeforeCreate assigns an id to new rows.
func (a *Application) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// BeforeSave keeps the derived fields consistent on every write.
func (a *Application) BeforeSave(*gorm.DB) error {
	a.Recompute()
	return nil
}

// Recompute derives OverallScore and ProgressPercentage from the stored
// sub-scores and stage. Every store calls it before writing.
func (a *Application) Recompute() {
	if a.ScoringBreakdown == (ScoringBreakdown{}) {
		a.ScoringBreakdown = DefaultScoringBreakdown()
	}
	if a.ScreeningStage == "" {
		a.ScreeningStage = StageResumeUploaded
	}
	w := a.ScoringBreakdown
	a.OverallScore = CompositeScore(
		[]*int{a.AIMatchScore, a.QuizScore, a.VideoAnalysisReport.OverallScore},
		[]int{w.ResumeWeight, w.QuizWeight, w.VideoWeight},
	)
	a.ProgressPercentage = a.ScreeningStage.Progress()
}

// AdvanceTo moves the application to stage and appends a history entry.
func (a *Application) AdvanceTo(stage Stage, entry StageEntry) error {
	if a.ScreeningStage != stage && !CanTransition(a.ScreeningStage, stage) {
		return &InvalidTransitionError{From: a.ScreeningStage, To: stage}
	}
	a.ScreeningStage = stage
	entry.Stage = stage
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	a.StageHistory = append(a.StageHistory, entry)
	return nil
}

// Info describes the current stage.
func (a *Application) Info() StageInfo {
	return a.ScreeningStage.Info()
}

// CompositeScore is the weighted mean of the non-nil sub-scores, normalized
// by the weights actually present: round(100 * sum(s*w/100) / sum(w)). It is
// nil when no sub-score exists or the present weights sum to zero.
func CompositeScore(scores []*int, weights []int) *int {
	var weighted float64
	total := 0
	for i, s := range scores {
		if s == nil || i >= len(weights) {
			continue
		}
		weighted += float64(*s) * float64(weights[i]) / 100
		total += weights[i]
	}
	if total <= 0 {
		return nil
	}
	v := int(math.Round(weighted * 100 / float64(total)))
	return &v
}

// Job is the listing an application belongs to.
type Job struct {
	ID                string    `gorm:"type:uuid;primaryKey" json:"id"`
	Title             string    `gorm:"type:text;not null" json:"title"`
	CompanyName       string    `gorm:"type:text" json:"companyName"`
	Location          string    `gorm:"type:text" json:"location"`
	Description       string    `gorm:"type:text" json:"description"`
	Skills            []string  `gorm:"type:jsonb;serializer:json" json:"skills"`
	InterviewDuration int       `json:"interviewDuration"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (Job) TableName() string {
	return "jobs"
}

func (j *Job) BeforeCreate(*gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}
