package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSessionNotFound   ReasonCode = "session_not_found"
	ReasonDuplicateSession  ReasonCode = "duplicate_session"
	ReasonTurnInProgress    ReasonCode = "turn_in_progress"
	ReasonInvalidTransition ReasonCode = "invalid_transition"

	ReasonProviderUnavailable ReasonCode = "provider_unavailable"
	ReasonMalformedOutput     ReasonCode = "malformed_provider_output"
	ReasonProviderRateLimit   ReasonCode = "provider_rate_limit"

	ReasonStreamTransport ReasonCode = "stream_transport"

	ReasonPersistence         ReasonCode = "persistence"
	ReasonApplicationNotFound ReasonCode = "application_not_found"
	ReasonResumeExtract       ReasonCode = "resume_extract"
)
