package errorsx

import "errors"

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrDuplicateSession    = errors.New("session already exists")
	ErrTurnInProgress      = errors.New("turn already in progress")
	ErrNoProviderAvailable = errors.New("no ai providers are currently available")
	ErrMalformedOutput     = errors.New("malformed provider output")
	ErrApplicationNotFound = errors.New("application not found")
	ErrJobNotFound         = errors.New("job not found")
)

// sentinelReasons maps well-known errors to the reason they imply when no
// explicit reason was attached.
var sentinelReasons = []struct {
	err    error
	reason ReasonCode
}{
	{ErrSessionNotFound, ReasonSessionNotFound},
	{ErrDuplicateSession, ReasonDuplicateSession},
	{ErrTurnInProgress, ReasonTurnInProgress},
	{ErrNoProviderAvailable, ReasonProviderUnavailable},
	{ErrMalformedOutput, ReasonMalformedOutput},
	{ErrApplicationNotFound, ReasonApplicationNotFound},
	{ErrJobNotFound, ReasonApplicationNotFound},
}
