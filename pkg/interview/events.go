package interview

import "github.com/harunnryd/intervyu/pkg/ai"

// Outbound event names of the session protocol.
const (
	EventSessionReady       = "session-ready"
	EventNewQuestion        = "new-question"
	EventLiveTranscript     = "live-transcript"
	EventFinalTranscript    = "final-transcript"
	EventInterviewFinished  = "interview-finished"
	EventError              = "error"
	EventTranscriptionError = "transcription-error"
)

// Client-facing error texts.
const (
	MsgSessionExpired      = "Your session has expired. Please refresh the page."
	MsgApplicationNotFound = "Application not found."
	MsgStartFailed         = "Failed to start interview. Check server logs for details."
	MsgTurnInProgress      = "Your previous answer is still being processed."
	MsgSaveFailed          = "Failed to save interview results. Please submit your answer again."
	MsgApplicationRequired = "An application id is required to join an interview."
	MsgStreamFailed        = "Could not start audio transcription."
)

// Emitter delivers an outbound event to one connection.
type Emitter interface {
	Emit(connID, event string, payload any) error
}

type QuestionPayload struct {
	Question       string `json:"question"`
	QuestionNumber int    `json:"questionNumber"`
}

type AnalysisPayload struct {
	Score   int    `json:"score"`
	Summary string `json:"summary"`
	Status  string `json:"status"`
}

type FinishedPayload struct {
	Analysis AnalysisPayload `json:"analysis"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func newAnalysisPayload(a ai.Analysis) AnalysisPayload {
	return AnalysisPayload{Score: a.Score, Summary: a.Summary, Status: a.Label()}
}
