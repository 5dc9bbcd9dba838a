// Package screening models the candidate Application, its screening stage
// machine, and the bridge that writes interview results onto it.
package screening

import "fmt"

// Stage is a discrete step of the screening pipeline, persisted on the
// Application.
type Stage string

const (
	StageResumeUploaded             Stage = "resume_uploaded"
	StageResumeScreening            Stage = "resume_screening"
	StageResumeRejected             Stage = "resume_rejected"
	StageQuizPending                Stage = "quiz_pending"
	StageQuizInProgress             Stage = "quiz_in_progress"
	StageQuizFailed                 Stage = "quiz_failed"
	StageVideoPending               Stage = "video_pending"
	StageVideoInProgress            Stage = "video_in_progress"
	StageVideoCompleted             Stage = "video_completed"
	StageVideoFailed                Stage = "video_failed"
	StageFinalReview                Stage = "final_review"
	StageSelectedForEmployer        Stage = "selected_for_employer"
	StageEmployerScheduled          Stage = "employer_scheduled"
	StageEmployerInterviewCompleted Stage = "employer_interview_completed"
	StageHired                      Stage = "hired"
	StageManualReviewNeeded         Stage = "manual_review_needed"
)

// StageInfo is the candidate-facing description of a stage.
type StageInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type stageDef struct {
	ordinal  int
	progress int
	terminal bool
	next     []Stage
	info     StageInfo
}

// Ordinals follow the main path; failure branches share the ordinal of the
// stage they replace.
var stages = map[Stage]stageDef{
	StageResumeUploaded: {0, 10, false, []Stage{StageResumeScreening},
		StageInfo{"Resume Uploaded", "Your resume has been uploaded and is being processed"}},
	StageResumeScreening: {1, 20, false, []Stage{StageResumeRejected, StageQuizPending},
		StageInfo{"AI Resume Analysis", "AI is analyzing your resume against job requirements"}},
	StageResumeRejected: {2, 100, true, nil,
		StageInfo{"Resume Screening Failed", "Your resume did not meet the minimum requirements"}},
	StageQuizPending: {2, 30, false, []Stage{StageQuizInProgress},
		StageInfo{"Skills Assessment Pending", "You qualify for the technical skills assessment"}},
	StageQuizInProgress: {3, 40, false, []Stage{StageQuizFailed, StageVideoPending},
		StageInfo{"Skills Assessment in Progress", "Complete the technical skills assessment"}},
	StageQuizFailed: {4, 100, true, nil,
		StageInfo{"Skills Assessment Failed", "You did not pass the technical skills assessment"}},
	StageVideoPending: {4, 50, false, []Stage{StageVideoInProgress},
		StageInfo{"Video Interview Pending", "You qualify for the AI-powered video interview"}},
	StageVideoInProgress: {5, 60, false, []Stage{StageVideoFailed, StageVideoCompleted},
		StageInfo{"Video Interview in Progress", "Complete the AI-powered video interview"}},
	StageVideoFailed: {6, 100, true, nil,
		StageInfo{"Video Interview Failed", "You did not pass the video interview"}},
	StageVideoCompleted: {6, 70, false, []Stage{StageFinalReview},
		StageInfo{"Video Interview Completed", "Your video interview has been analyzed"}},
	StageFinalReview: {7, 80, false, []Stage{StageSelectedForEmployer},
		StageInfo{"Final Review", "Your application is under final review"}},
	StageSelectedForEmployer: {8, 85, false, []Stage{StageEmployerScheduled},
		StageInfo{"Selected for Employer Interview", "Congratulations! You've been selected for the final interview"}},
	StageEmployerScheduled: {9, 90, false, []Stage{StageEmployerInterviewCompleted},
		StageInfo{"Employer Interview Scheduled", "Your interview with the employer has been scheduled"}},
	StageEmployerInterviewCompleted: {10, 95, false, []Stage{StageHired},
		StageInfo{"Employer Interview Completed", "Your interview with the employer has been completed"}},
	StageHired: {11, 100, true, nil,
		StageInfo{"Hired", "Congratulations! You have been hired"}},
	StageManualReviewNeeded: {-1, 25, false, nil,
		StageInfo{"Manual Review Required", "Your application requires manual review"}},
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stages[s]
	return ok
}

// Progress is the fixed completion percentage of a stage. Stages that end
// the process report 100; unknown stages report 0.
func (s Stage) Progress() int {
	return stages[s].progress
}

// Terminal reports whether no further stage can follow s.
func (s Stage) Terminal() bool {
	return stages[s].terminal
}

// Ordinal is the position of s on the main path, or -1 for out-of-band and
// unknown stages.
func (s Stage) Ordinal() int {
	def, ok := stages[s]
	if !ok {
		return -1
	}
	return def.ordinal
}

func (s Stage) Info() StageInfo {
	def, ok := stages[s]
	if !ok {
		return StageInfo{Title: "Unknown Stage", Description: "Application status is unclear"}
	}
	return def.info
}

// CanTransition reports whether the pipeline may move from one stage to
// another. Manual review is reachable from any stage that has not ended the
// process, and may route back to the stage that required it.
func CanTransition(from, to Stage) bool {
	def, ok := stages[from]
	if !ok || !to.Valid() || def.terminal {
		return false
	}
	if to == StageManualReviewNeeded {
		return from != StageManualReviewNeeded
	}
	if from == StageManualReviewNeeded {
		return true
	}
	for _, next := range def.next {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a rejected stage change.
type InvalidTransitionError struct {
	From Stage
	To   Stage
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid screening transition from %s to %s", e.From, e.To)
}
