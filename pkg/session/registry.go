package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/intervyu/pkg/errorsx"
)

// DuplicateSessionError is returned by Create when the connection already
// owns a session.
type DuplicateSessionError struct {
	ID string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("session %s already exists", e.ID)
}

func (e *DuplicateSessionError) Is(target error) bool {
	return target == errorsx.ErrDuplicateSession
}

type entry struct {
	mu   sync.Mutex
	sess Session
}

// Registry maps connection ids to sessions. Operations on one id are
// serialized; distinct ids never contend.
type Registry struct {
	sessions sync.Map
	count    atomic.Int64
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{now: time.Now}
}

// Create stores a fresh session for connID.
func (r *Registry) Create(connID, applicationID string) (Session, error) {
	e := &entry{sess: Session{
		ID:            connID,
		ApplicationID: applicationID,
		State:         StateIdle,
		CreatedAt:     r.now(),
	}}
	if _, loaded := r.sessions.LoadOrStore(connID, e); loaded {
		return Session{}, &DuplicateSessionError{ID: connID}
	}
	r.count.Add(1)
	return e.sess.clone(), nil
}

// Get returns a copy of the session.
func (r *Registry) Get(connID string) (Session, error) {
	e, ok := r.load(connID)
	if !ok {
		return Session{}, errorsx.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.clone(), nil
}

// Update merges patch into the session and returns the result.
func (r *Registry) Update(connID string, patch Patch) (Session, error) {
	e, ok := r.load(connID)
	if !ok {
		return Session{}, errorsx.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := r.load(connID); !ok || cur != e {
		return Session{}, errorsx.ErrSessionNotFound
	}
	patch.apply(&e.sess)
	return e.sess.clone(), nil
}

// Destroy removes the session. Destroying an absent session is a no-op; the
// return value reports whether anything was removed.
func (r *Registry) Destroy(connID string) bool {
	v, ok := r.sessions.LoadAndDelete(connID)
	if !ok {
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	e.sess.Terminal = true
	e.mu.Unlock()
	r.count.Add(-1)
	return true
}

// DestroyAll removes every session.
func (r *Registry) DestroyAll() {
	r.sessions.Range(func(key, _ any) bool {
		if id, ok := key.(string); ok {
			r.Destroy(id)
		}
		return true
	})
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

// WaitForEmpty blocks until the registry is empty or ctx is done.
func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (r *Registry) load(connID string) (*entry, bool) {
	v, ok := r.sessions.Load(connID)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}
