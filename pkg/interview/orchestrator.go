// Package interview drives one conversational interview per connection: it
// asks questions, captures streamed answers, and finalizes a scored report.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/intervyu/pkg/ai"
	"github.com/harunnryd/intervyu/pkg/errorsx"
	"github.com/harunnryd/intervyu/pkg/logging"
	"github.com/harunnryd/intervyu/pkg/metrics"
	"github.com/harunnryd/intervyu/pkg/redact"
	"github.com/harunnryd/intervyu/pkg/resume"
	"github.com/harunnryd/intervyu/pkg/screening"
	"github.com/harunnryd/intervyu/pkg/session"
	"github.com/harunnryd/intervyu/pkg/stt"
)

const (
	DefaultMaxTurns    = 5
	DefaultPacingDelay = time.Second
)

type Config struct {
	MaxTurns    int
	PacingDelay time.Duration
	// RequireResume fails start-interview when the resume cannot be read.
	// Otherwise the interview proceeds without resume context.
	RequireResume     bool
	PreferredProvider string
}

// Interviewer produces questions and the final analysis. *ai.Manager
// satisfies it; its methods never fail.
type Interviewer interface {
	GenerateInitialQuestion(ctx context.Context, preferred string, job ai.JobDetails, resumeText string) string
	GenerateFollowUpQuestion(ctx context.Context, preferred, transcript string, job ai.JobDetails) string
	AnalyzeTranscript(ctx context.Context, preferred, transcript string, job ai.JobDetails) ai.Analysis
}

// ApplicationReader loads the records an interview is about.
type ApplicationReader interface {
	GetApplication(ctx context.Context, id string) (*screening.Application, error)
	GetJob(ctx context.Context, id string) (*screening.Job, error)
}

// Finalizer records interview progress on the application. *screening.Bridge
// satisfies it.
type Finalizer interface {
	MarkInterviewStarted(ctx context.Context, applicationID string) error
	Finalize(ctx context.Context, applicationID string, res screening.Result) (*screening.Application, error)
}

type Deps struct {
	Sessions *session.Registry
	AI       Interviewer
	Apps     ApplicationReader
	Bridge   Finalizer
	Resumes  resume.Extractor
	STT      stt.Opener
	Emitter  Emitter
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// lane is the per-session runtime that does not belong in the registry:
// the transcription stream, its answer buffer, and the turn guard. A lane
// is cancelled when its session is replaced or destroyed, which turns every
// late result into a no-op.
type lane struct {
	ctx     context.Context
	cancel  context.CancelFunc
	handle  *stt.Handle
	answer  stt.Accumulator
	busy    atomic.Bool
	pending *ai.Analysis
}

// Orchestrator implements the interview state machine for every connection.
type Orchestrator struct {
	cfg      Config
	sessions *session.Registry
	ai       Interviewer
	apps     ApplicationReader
	bridge   Finalizer
	resumes  resume.Extractor
	opener   stt.Opener
	emitter  Emitter
	logger   *slog.Logger
	metrics  *metrics.Metrics

	lanes sync.Map // connID -> *lane
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Sessions == nil || deps.AI == nil || deps.Apps == nil || deps.Bridge == nil || deps.STT == nil || deps.Emitter == nil {
		return nil, errors.New("interview: sessions, ai, apps, bridge, stt and emitter are required")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.PacingDelay < 0 {
		cfg.PacingDelay = 0
	}
	return &Orchestrator{
		cfg:      cfg,
		sessions: deps.Sessions,
		ai:       deps.AI,
		apps:     deps.Apps,
		bridge:   deps.Bridge,
		resumes:  deps.Resumes,
		opener:   deps.STT,
		emitter:  deps.Emitter,
		logger:   logging.NewComponentLogger(deps.Logger, "interview"),
		metrics:  deps.Metrics,
		now:      time.Now,
		sleep:    sleepCtx,
	}, nil
}

// SetEmitter swaps the outbound sink. The transport calls it once during
// wiring, before any connection is accepted.
func (o *Orchestrator) SetEmitter(e Emitter) {
	if e != nil {
		o.emitter = e
	}
}

// JoinRoom creates the session for connID. A second join on the same
// connection replaces the earlier session.
func (o *Orchestrator) JoinRoom(connID, applicationID string) error {
	applicationID = strings.TrimSpace(applicationID)
	if applicationID == "" {
		o.emitError(connID, MsgApplicationRequired)
		return errorsx.Newf(errorsx.ReasonApplicationNotFound, "join room: empty application id: %w", errorsx.ErrApplicationNotFound)
	}
	if o.destroy(connID) {
		o.logger.Info("session_replaced", "conn_id", connID)
	}
	if _, err := o.sessions.Create(connID, applicationID); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	if err := transition(session.StateIdle, session.StateAwaitingFirstQuestion); err != nil {
		return err
	}
	if _, err := o.sessions.Update(connID, session.Patch{State: session.Ptr(session.StateAwaitingFirstQuestion)}); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.lanes.Store(connID, &lane{ctx: ctx, cancel: cancel, handle: stt.NewHandle(o.opener)})
	o.metrics.SessionStarted()
	o.logger.Info("session_created", "conn_id", connID, "application_id", applicationID)
	o.emit(connID, EventSessionReady, nil)
	return nil
}

// StartInterview loads the application, job and resume, then asks the first
// question.
func (o *Orchestrator) StartInterview(ctx context.Context, connID string) error {
	sess, l, err := o.acquire(connID)
	if err != nil {
		return err
	}
	defer l.busy.Store(false)

	if sess.State != session.StateAwaitingFirstQuestion {
		err := invalidTransition(sess.State, session.StateQuestionAsked)
		o.logger.Warn("start_interview_rejected", "conn_id", connID, "state", sess.State.String())
		o.emitError(connID, MsgStartFailed)
		return err
	}

	ctx, cancel := laneContext(ctx, l)
	defer cancel()

	app, err := o.apps.GetApplication(ctx, sess.ApplicationID)
	if err != nil {
		if errors.Is(err, errorsx.ErrApplicationNotFound) {
			o.logger.Warn("application_not_found", "conn_id", connID, "application_id", sess.ApplicationID)
			o.emitError(connID, MsgApplicationNotFound)
		} else {
			o.logger.Error("start_interview_failed", "conn_id", connID, "application_id", sess.ApplicationID, "error", err)
			o.emitError(connID, MsgStartFailed)
		}
		return fmt.Errorf("start interview: %w", err)
	}
	job, err := o.apps.GetJob(ctx, app.JobID)
	if err != nil {
		o.logger.Error("start_interview_failed", "conn_id", connID, "application_id", sess.ApplicationID, "job_id", app.JobID, "error", err)
		o.emitError(connID, MsgStartFailed)
		return fmt.Errorf("start interview: %w", err)
	}

	resumeText, err := o.resumeText(ctx, app)
	if err != nil {
		if o.cfg.RequireResume {
			o.logger.Error("start_interview_failed", "conn_id", connID, "application_id", sess.ApplicationID, "error", err)
			o.emitError(connID, MsgStartFailed)
			return fmt.Errorf("start interview: %w", err)
		}
		o.logger.Warn("resume_unavailable", "conn_id", connID, "application_id", sess.ApplicationID, "error", err)
		resumeText = ""
	}

	if err := o.bridge.MarkInterviewStarted(ctx, sess.ApplicationID); err != nil {
		o.logger.Warn("mark_started_failed", "conn_id", connID, "application_id", sess.ApplicationID, "error", err)
	}

	details := ai.JobDetails{Title: job.Title, Skills: append([]string(nil), job.Skills...)}
	question := o.ai.GenerateInitialQuestion(ctx, o.cfg.PreferredProvider, details, resumeText)
	if o.stale(connID, l) {
		o.logger.Info("late_result_dropped", "conn_id", connID, "operation", "initial_question")
		return nil
	}

	if _, err := o.sessions.Update(connID, session.Patch{
		Job:             &session.Job{Title: details.Title, Skills: details.Skills},
		QuestionCount:   session.Ptr(1),
		CurrentQuestion: session.Ptr(question),
		QuestionAskedAt: session.Ptr(o.now()),
		State:           session.Ptr(session.StateQuestionAsked),
	}); err != nil {
		return fmt.Errorf("start interview: %w", err)
	}
	o.metrics.QuestionIssued("initial")
	o.logger.Info("question_issued", "conn_id", connID, "application_id", sess.ApplicationID, "question_number", 1)
	o.emit(connID, EventNewQuestion, QuestionPayload{Question: question, QuestionNumber: 1})
	return nil
}

// StartAudioStream opens a fresh transcription stream for the current answer,
// ending any stream still open.
func (o *Orchestrator) StartAudioStream(_ context.Context, connID string) error {
	sess, l, err := o.current(connID)
	if err != nil {
		o.emitError(connID, MsgSessionExpired)
		return fmt.Errorf("start audio stream: %w", err)
	}
	if err := transition(sess.State, session.StateCapturingAnswer); err != nil {
		o.logger.Warn("audio_stream_rejected", "conn_id", connID, "state", sess.State.String())
		return err
	}

	cb := stt.Callbacks{
		OnOpen: l.answer.Reset,
		OnPartial: func(text string) {
			o.emit(connID, EventLiveTranscript, text)
		},
		OnFinal: func(text string) {
			l.answer.Append(text)
			o.metrics.TranscriptFinal()
			o.emit(connID, EventLiveTranscript, text)
		},
		OnError: func(err error) {
			o.metrics.TranscriptionError()
			o.logger.Warn("transcription_error", "conn_id", connID, "provider", o.opener.Name(), "error", err)
			o.emit(connID, EventTranscriptionError, err.Error())
		},
	}
	// The stream outlives this call; only the lane may end it.
	if err := l.handle.Open(l.ctx, cb); err != nil {
		o.metrics.TranscriptionError()
		o.logger.Error("stream_open_failed", "conn_id", connID, "provider", o.opener.Name(), "error", err)
		o.emit(connID, EventTranscriptionError, MsgStreamFailed)
		return errorsx.Wrap(fmt.Errorf("start audio stream: %w", err), errorsx.ReasonStreamTransport)
	}
	if _, err := o.sessions.Update(connID, session.Patch{
		TranscriptBuffer: session.Ptr(""),
		State:            session.Ptr(session.StateCapturingAnswer),
	}); err != nil {
		l.handle.Cancel()
		return fmt.Errorf("start audio stream: %w", err)
	}
	o.logger.Debug("audio_stream_started", "conn_id", connID, "provider", o.opener.Name())
	return nil
}

// AudioChunk forwards audio to the open stream. Chunks arriving with no open
// stream are dropped.
func (o *Orchestrator) AudioChunk(connID string, chunk []byte) error {
	l, ok := o.lane(connID)
	if !ok || len(chunk) == 0 {
		return nil
	}
	written, err := l.handle.Write(chunk)
	if !written {
		return nil
	}
	o.metrics.AudioReceived(len(chunk))
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("audio chunk: %w", err), errorsx.ReasonStreamTransport)
	}
	return nil
}

// EndAudioStream ends the stream, waits for its last final and records the
// trimmed answer buffer.
func (o *Orchestrator) EndAudioStream(connID string) error {
	_, l, err := o.current(connID)
	if err != nil {
		o.emitError(connID, MsgSessionExpired)
		return fmt.Errorf("end audio stream: %w", err)
	}
	if err := l.handle.End(); err != nil {
		o.logger.Warn("stream_end_failed", "conn_id", connID, "provider", o.opener.Name(), "error", err)
	}
	text := l.answer.String()
	if _, err := o.sessions.Update(connID, session.Patch{TranscriptBuffer: session.Ptr(text)}); err != nil {
		return fmt.Errorf("end audio stream: %w", err)
	}
	o.emit(connID, EventFinalTranscript, text)
	return nil
}

// EndAnswer records the answer to the current question and, after the
// pacing delay, asks the next question or finalizes the interview. A
// non-empty override replaces the streamed transcript.
func (o *Orchestrator) EndAnswer(ctx context.Context, connID, override string) error {
	sess, l, err := o.acquire(connID)
	if err != nil {
		return err
	}
	defer l.busy.Store(false)

	ctx, cancel := laneContext(ctx, l)
	defer cancel()

	if sess.State == session.StateFinalizing {
		return o.finalize(ctx, connID, l, sess)
	}
	if sess.State != session.StateQuestionAsked && sess.State != session.StateCapturingAnswer {
		err := invalidTransition(sess.State, session.StateQuestionAsked)
		o.logger.Warn("end_answer_rejected", "conn_id", connID, "state", sess.State.String())
		o.emitError(connID, MsgStartFailed)
		return err
	}

	if l.handle.Active() {
		if err := l.handle.End(); err != nil {
			o.logger.Warn("stream_end_failed", "conn_id", connID, "error", err)
		}
		if text := l.answer.String(); text != "" {
			sess.TranscriptBuffer = text
		}
	}
	answer := strings.TrimSpace(sess.TranscriptBuffer)
	if v := strings.TrimSpace(override); v != "" {
		answer = v
	}
	turn := screening.TranscriptTurn{
		Question:        sess.CurrentQuestion,
		Answer:          answer,
		DurationSeconds: elapsed(sess.QuestionAskedAt, o.now()),
	}
	last := sess.QuestionCount >= o.cfg.MaxTurns
	next := session.StateQuestionAsked
	if last {
		next = session.StateFinalizing
	}
	if err := transition(sess.State, next); err != nil {
		return err
	}
	patch := session.Patch{AppendTurn: &turn, TranscriptBuffer: session.Ptr("")}
	if last {
		patch.State = session.Ptr(session.StateFinalizing)
	}
	sess, err = o.sessions.Update(connID, patch)
	if err != nil {
		o.emitError(connID, MsgSessionExpired)
		return fmt.Errorf("end answer: %w", err)
	}
	l.answer.Reset()
	o.logger.Info("answer_recorded", "conn_id", connID, "question_number", sess.QuestionCount,
		"answer", redact.Preview(answer, 80))

	if err := o.sleep(ctx, o.cfg.PacingDelay); err != nil || o.stale(connID, l) {
		o.logger.Info("late_result_dropped", "conn_id", connID, "operation", "pacing")
		return nil
	}

	if last {
		l.handle.Cancel()
		return o.finalize(ctx, connID, l, sess)
	}
	return o.askFollowUp(ctx, connID, l, sess)
}

func (o *Orchestrator) askFollowUp(ctx context.Context, connID string, l *lane, sess session.Session) error {
	details := ai.JobDetails{Title: sess.Job.Title, Skills: sess.Job.Skills}
	question := o.ai.GenerateFollowUpQuestion(ctx, o.cfg.PreferredProvider, sess.Transcript(), details)
	if o.stale(connID, l) {
		o.logger.Info("late_result_dropped", "conn_id", connID, "operation", "follow_up_question")
		return nil
	}
	number := sess.QuestionCount + 1
	if _, err := o.sessions.Update(connID, session.Patch{
		QuestionCount:   session.Ptr(number),
		CurrentQuestion: session.Ptr(question),
		QuestionAskedAt: session.Ptr(o.now()),
		State:           session.Ptr(session.StateQuestionAsked),
	}); err != nil {
		return fmt.Errorf("follow up: %w", err)
	}
	o.metrics.QuestionIssued("follow_up")
	o.logger.Info("question_issued", "conn_id", connID, "application_id", sess.ApplicationID, "question_number", number)
	o.emit(connID, EventNewQuestion, QuestionPayload{Question: question, QuestionNumber: number})
	return nil
}

// finalize analyzes the whole conversation and persists the result. If the
// write fails the session stays in finalizing and the analysis is kept, so
// the next end-answer retries only the write.
func (o *Orchestrator) finalize(ctx context.Context, connID string, l *lane, sess session.Session) error {
	analysis := l.pending
	if analysis == nil {
		details := ai.JobDetails{Title: sess.Job.Title, Skills: sess.Job.Skills}
		a := o.ai.AnalyzeTranscript(ctx, o.cfg.PreferredProvider, sess.Transcript(), details)
		if o.stale(connID, l) {
			o.logger.Info("late_result_dropped", "conn_id", connID, "operation", "analyze_transcript")
			return nil
		}
		analysis = &a
		l.pending = analysis
	}

	_, err := o.bridge.Finalize(ctx, sess.ApplicationID, screening.Result{
		Score:   analysis.Score,
		Summary: analysis.Summary,
		Passed:  analysis.Passed(),
		Turns:   sess.Turns,
	})
	if err != nil {
		if errors.Is(err, errorsx.ErrApplicationNotFound) {
			o.logger.Error("finalize_application_missing", "conn_id", connID, "application_id", sess.ApplicationID, "error", err)
			o.emitError(connID, MsgApplicationNotFound)
			o.destroy(connID)
			return fmt.Errorf("finalize: %w: %w", errorsx.ErrSessionNotFound, err)
		}
		o.logger.Error("persist_failed", "conn_id", connID, "application_id", sess.ApplicationID, "error", err)
		o.emitError(connID, MsgSaveFailed)
		return fmt.Errorf("finalize: %w", err)
	}

	if err := transition(session.StateFinalizing, session.StateFinalized); err != nil {
		return err
	}
	_, _ = o.sessions.Update(connID, session.Patch{
		State:    session.Ptr(session.StateFinalized),
		Terminal: session.Ptr(true),
	})
	o.metrics.InterviewFinished(string(analysis.Status))
	o.logger.Info("interview_finished", "conn_id", connID, "application_id", sess.ApplicationID,
		"score", analysis.Score, "status", string(analysis.Status), "turns", len(sess.Turns))
	o.emit(connID, EventInterviewFinished, FinishedPayload{Analysis: newAnalysisPayload(*analysis)})
	o.destroy(connID)
	return nil
}

// Disconnect cancels the open stream and destroys the session.
func (o *Orchestrator) Disconnect(connID string) {
	if o.destroy(connID) {
		o.logger.Info("session_destroyed", "conn_id", connID, "reason", "disconnect")
	}
}

// Shutdown destroys every session, cancelling in-flight turns.
func (o *Orchestrator) Shutdown() {
	o.lanes.Range(func(key, _ any) bool {
		o.destroy(key.(string))
		return true
	})
	o.sessions.DestroyAll()
}

// Sessions exposes the registry for drain and health reporting.
func (o *Orchestrator) Sessions() *session.Registry { return o.sessions }

func (o *Orchestrator) resumeText(ctx context.Context, app *screening.Application) (string, error) {
	if o.resumes == nil {
		return "", errorsx.Wrap(resume.ErrNoResume, errorsx.ReasonResumeExtract)
	}
	return o.resumes.Extract(ctx, app.ResumeURL)
}

// acquire loads the session and takes its turn guard.
func (o *Orchestrator) acquire(connID string) (session.Session, *lane, error) {
	sess, l, err := o.current(connID)
	if err != nil {
		o.logger.Warn("session_not_found", "conn_id", connID)
		o.emitError(connID, MsgSessionExpired)
		return session.Session{}, nil, err
	}
	if !l.busy.CompareAndSwap(false, true) {
		o.logger.Warn("turn_in_progress", "conn_id", connID)
		o.emitError(connID, MsgTurnInProgress)
		return session.Session{}, nil, errorsx.Wrap(errorsx.ErrTurnInProgress, errorsx.ReasonTurnInProgress)
	}
	// Re-read under the guard so the state reflects the previous turn.
	sess, err = o.sessions.Get(connID)
	if err != nil {
		l.busy.Store(false)
		o.emitError(connID, MsgSessionExpired)
		return session.Session{}, nil, err
	}
	return sess, l, nil
}

func (o *Orchestrator) current(connID string) (session.Session, *lane, error) {
	sess, err := o.sessions.Get(connID)
	if err != nil {
		return session.Session{}, nil, err
	}
	l, ok := o.lane(connID)
	if !ok {
		return session.Session{}, nil, errorsx.Wrap(errorsx.ErrSessionNotFound, errorsx.ReasonSessionNotFound)
	}
	return sess, l, nil
}

func (o *Orchestrator) lane(connID string) (*lane, bool) {
	v, ok := o.lanes.Load(connID)
	if !ok {
		return nil, false
	}
	return v.(*lane), true
}

// stale reports whether l no longer backs a live session for connID.
func (o *Orchestrator) stale(connID string, l *lane) bool {
	if l.ctx.Err() != nil {
		return true
	}
	cur, ok := o.lane(connID)
	if !ok || cur != l {
		return true
	}
	_, err := o.sessions.Get(connID)
	return err != nil
}

// teardown removes the lane for connID and cancels its work.
func (o *Orchestrator) teardown(connID string) bool {
	v, ok := o.lanes.LoadAndDelete(connID)
	if !ok {
		return false
	}
	l := v.(*lane)
	l.cancel()
	l.handle.Cancel()
	return true
}

func (o *Orchestrator) destroy(connID string) bool {
	o.teardown(connID)
	if !o.sessions.Destroy(connID) {
		return false
	}
	o.metrics.SessionEnded()
	return true
}

func (o *Orchestrator) emit(connID, event string, payload any) {
	if err := o.emitter.Emit(connID, event, payload); err != nil {
		o.logger.Debug("emit_failed", "conn_id", connID, "event", event, "error", err)
	}
}

func (o *Orchestrator) emitError(connID, message string) {
	o.emit(connID, EventError, ErrorPayload{Message: message})
}

// laneContext returns ctx cancelled additionally when the lane is torn down.
func laneContext(ctx context.Context, l *lane) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(l.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func elapsed(since, now time.Time) float64 {
	if since.IsZero() || now.Before(since) {
		return 0
	}
	return math.Round(now.Sub(since).Seconds()*10) / 10
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
