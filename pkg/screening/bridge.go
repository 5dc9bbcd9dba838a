package screening

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/intervyu/pkg/errorsx"
	"github.com/harunnryd/intervyu/pkg/events"
	"github.com/harunnryd/intervyu/pkg/logging"
	"github.com/harunnryd/intervyu/pkg/metrics"
	"github.com/harunnryd/intervyu/pkg/resilience"
)

// Result is the interview outcome written onto an application.
type Result struct {
	Score   int
	Summary string
	Passed  bool
	Turns   []TranscriptTurn
}

// Publisher receives lifecycle events. *events.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Bridge writes interview progress and results onto the Application record.
type Bridge struct {
	store     Store
	retry     resilience.RetryPolicy
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewBridge(store Store, retry resilience.RetryPolicy, publisher Publisher, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	retry.Retryable = func(err error) bool {
		var invalid *InvalidTransitionError
		return !errors.Is(err, errorsx.ErrApplicationNotFound) && !errors.As(err, &invalid)
	}
	return &Bridge{
		store:     store,
		retry:     retry,
		publisher: publisher,
		logger:    logging.NewComponentLogger(logger, "screening"),
		metrics:   m,
		now:       time.Now,
	}
}

// MarkInterviewStarted moves a video_pending application to
// video_in_progress and stamps the start time. Applications at any other
// stage are left alone.
func (b *Bridge) MarkInterviewStarted(ctx context.Context, applicationID string) error {
	now := b.now().UTC()
	var app *Application
	err := b.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		app, err = b.store.UpdateApplication(ctx, applicationID, func(a *Application) error {
			if a.ScreeningStage != StageVideoPending && a.ScreeningStage != StageVideoInProgress {
				return nil
			}
			if a.VideoInterviewStartedAt == nil {
				a.VideoInterviewStartedAt = &now
			}
			if a.ScreeningStage == StageVideoInProgress {
				return nil
			}
			return a.AdvanceTo(StageVideoInProgress, StageEntry{Timestamp: now, Status: HistoryInProgress})
		})
		return err
	})
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("mark interview started: %w", err), persistReason(err))
	}
	b.publish(ctx, events.Event{
		Type:          events.TypeInterviewStarted,
		ApplicationID: applicationID,
		Stage:         string(app.ScreeningStage),
		At:            now,
	})
	return nil
}

// Finalize writes the analysis report and moves the application to
// video_completed or video_failed. An application that has already moved
// past the interview keeps its stage and status; only the report is written.
func (b *Bridge) Finalize(ctx context.Context, applicationID string, res Result) (*Application, error) {
	now := b.now().UTC()
	target, status, histStatus := StageVideoFailed, StatusInterviewFailed, HistoryFailed
	if res.Passed {
		target, status, histStatus = StageVideoCompleted, StatusInterviewPassed, HistoryPassed
	}
	score := res.Score
	var app *Application
	err := b.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		app, err = b.store.UpdateApplication(ctx, applicationID, func(a *Application) error {
			report := a.VideoAnalysisReport
			report.OverallScore = &score
			report.Summary = res.Summary
			report.Feedback = res.Summary
			report.Transcripts = append([]TranscriptTurn(nil), res.Turns...)
			if report.RedFlags == nil {
				report.RedFlags = []string{}
			}
			a.VideoAnalysisReport = report
			if !interviewOpen(a.ScreeningStage) {
				b.logger.Warn("stage_not_advanced", "application_id", applicationID, "stage", a.ScreeningStage)
				return nil
			}
			a.Status = status
			a.VideoInterviewCompletedAt = &now
			if a.ScreeningStage != StageVideoInProgress {
				a.ScreeningStage = StageVideoInProgress
			}
			return a.AdvanceTo(target, StageEntry{
				Timestamp: now,
				Status:    histStatus,
				Score:     &score,
				Notes:     res.Summary,
			})
		})
		return err
	})
	if err != nil {
		b.metrics.PersistFailed()
		return nil, errorsx.Wrap(fmt.Errorf("finalize interview: %w", err), persistReason(err))
	}
	b.publish(ctx, events.Event{
		Type:          events.TypeInterviewFinished,
		ApplicationID: applicationID,
		Stage:         string(app.ScreeningStage),
		Score:         &score,
		Status:        app.Status,
		At:            now,
	})
	return app, nil
}

// interviewOpen reports whether the interview result may still decide the
// stage: the application is at or before the interview on the main path.
func interviewOpen(stage Stage) bool {
	if stage.Terminal() || stage == StageManualReviewNeeded {
		return false
	}
	return stage.Ordinal() >= 0 && stage.Ordinal() <= StageVideoInProgress.Ordinal()
}

func (b *Bridge) publish(ctx context.Context, ev events.Event) {
	if b.publisher == nil {
		return
	}
	if err := b.publisher.Publish(ctx, ev); err != nil {
		b.logger.Warn("event_publish_failed", "application_id", ev.ApplicationID, "type", ev.Type, "error", err)
	}
}

func persistReason(err error) errorsx.ReasonCode {
	if errors.Is(err, errorsx.ErrApplicationNotFound) {
		return errorsx.ReasonApplicationNotFound
	}
	return errorsx.ReasonPersistence
}
