// Package memory is an in-process screening.Store for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/intervyu/pkg/errorsx"
	"github.com/harunnryd/intervyu/pkg/screening"
)

type Store struct {
	mu   sync.Mutex
	apps map[string]*screening.Application
	jobs map[string]*screening.Job
	now  func() time.Time
}

func New() *Store {
	return &Store{
		apps: make(map[string]*screening.Application),
		jobs: make(map[string]*screening.Job),
		now:  time.Now,
	}
}

// Seed is the file format accepted by LoadSeed.
type Seed struct {
	Jobs         []screening.Job         `json:"jobs"`
	Applications []screening.Application `json:"applications"`
}

// LoadSeed reads jobs and applications from a JSON file.
func (s *Store) LoadSeed(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("decode seed %s: %w", path, err)
	}
	for i := range seed.Jobs {
		s.PutJob(&seed.Jobs[i])
	}
	for i := range seed.Applications {
		s.PutApplication(&seed.Applications[i])
	}
	return nil
}

// PutJob inserts or replaces a job, assigning an id when empty.
func (s *Store) PutJob(job *screening.Job) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneJob(job)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.jobs[cp.ID] = cp
	return cp.ID
}

// PutApplication inserts or replaces an application, assigning an id when
// empty.
func (s *Store) PutApplication(app *screening.Application) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneApplication(app)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Status == "" {
		cp.Status = screening.StatusPending
	}
	now := s.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Recompute()
	s.apps[cp.ID] = cp
	return cp.ID
}

func (s *Store) GetApplication(_ context.Context, id string) (*screening.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, errorsx.ErrApplicationNotFound
	}
	return cloneApplication(app), nil
}

func (s *Store) GetJob(_ context.Context, id string) (*screening.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errorsx.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// UpdateApplication applies fn to a private copy and commits it only when fn
// succeeds.
func (s *Store) UpdateApplication(ctx context.Context, id string, fn func(*screening.Application) error) (*screening.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, errorsx.ErrApplicationNotFound
	}
	cp := cloneApplication(app)
	if err := fn(cp); err != nil {
		return nil, err
	}
	cp.ID = id
	cp.UpdatedAt = s.now().UTC()
	cp.Recompute()
	s.apps[id] = cp
	return cloneApplication(cp), nil
}

func cloneJob(j *screening.Job) *screening.Job {
	cp := *j
	cp.Skills = append([]string(nil), j.Skills...)
	return &cp
}

func cloneApplication(a *screening.Application) *screening.Application {
	cp := *a
	cp.StageHistory = append([]screening.StageEntry(nil), a.StageHistory...)
	cp.AIMatchScore = cloneInt(a.AIMatchScore)
	cp.QuizScore = cloneInt(a.QuizScore)
	cp.OverallScore = cloneInt(a.OverallScore)
	r := &cp.VideoAnalysisReport
	r.OverallScore = cloneInt(a.VideoAnalysisReport.OverallScore)
	r.CommunicationScore = cloneInt(a.VideoAnalysisReport.CommunicationScore)
	r.TechnicalScore = cloneInt(a.VideoAnalysisReport.TechnicalScore)
	r.RedFlags = append([]string(nil), a.VideoAnalysisReport.RedFlags...)
	r.Transcripts = append([]screening.TranscriptTurn(nil), a.VideoAnalysisReport.Transcripts...)
	return &cp
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
