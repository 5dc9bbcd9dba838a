package screening

import "context"

// Store reads and writes applications and jobs.
//
// UpdateApplication re-reads the record inside the write and hands the fresh
// copy to fn, so independently advanced fields are never clobbered. Stores
// recompute the derived scores after fn returns and before writing. Missing
// records yield errorsx.ErrApplicationNotFound or errorsx.ErrJobNotFound.
type Store interface {
	GetApplication(ctx context.Context, id string) (*Application, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateApplication(ctx context.Context, id string, fn func(*Application) error) (*Application, error)
}
