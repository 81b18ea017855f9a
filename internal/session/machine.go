// internal/session/machine.go
package session

import (
	"context"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "aptitude-client/internal/common/errors"
	"aptitude-client/internal/common/logger"
	"aptitude-client/internal/common/observability"
	"aptitude-client/internal/common/validation"
	"aptitude-client/internal/models"
)

// DefaultTotalQuestions is the nominal test length used for progress display only.
// The backend decides when a test ends.
const DefaultTotalQuestions = 10

// Backend is the scoring service as seen by the machine.
type Backend interface {
	StartSession(ctx context.Context) (*models.StartResponse, error)
	SubmitAnswer(ctx context.Context, req models.SubmitAnswerRequest) (*models.SubmitAnswerResponse, error)
	CheckStatus(ctx context.Context) (*models.StatusResponse, error)
	RecoverSession(ctx context.Context) *models.RecoverResponse
	GetResults(ctx context.Context, sessionID string) (*models.Results, error)
	History(ctx context.Context) ([]models.Results, error)
}

// Store is the local progress cache. Writes never fail from the caller's view.
type Store interface {
	SaveProgress(ctx context.Context, p models.Progress)
	LoadProgress(ctx context.Context) *models.Progress
	ClearProgress(ctx context.Context)
	SaveResults(ctx context.Context, r models.Results, synced bool)
	LoadCachedResults(ctx context.Context) *models.Results
	ClearResults(ctx context.Context)
	IsCompleted(ctx context.Context) bool
}

// Machine owns the test session lifecycle. mu guards state and is never held across
// backend or store I/O; storeMu serializes store writes against resets so a late
// save can never resurrect a discarded session.
type Machine struct {
	backend Backend
	store   Store
	logger  logger.Logger
	errs    *apperrors.ErrorHandler
	obs     *observability.Observability

	mu         sync.Mutex
	state      machineState
	generation uint64

	storeMu sync.Mutex
}

type Option func(*Machine)

func WithObservability(obs *observability.Observability) Option {
	return func(m *Machine) { m.obs = obs }
}

// WithTotalQuestions overrides the nominal test length. Non-positive values are ignored.
func WithTotalQuestions(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.state.totalQuestions = n
		}
	}
}

func NewMachine(backend Backend, store Store, log logger.Logger, opts ...Option) *Machine {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	m := &Machine{
		backend: backend,
		store:   store,
		logger:  log,
		errs:    apperrors.NewErrorHandler(log),
		state:   initialState(DefaultTotalQuestions),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ==========================
// Queries
// ==========================

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.snapshot()
}

// CanStartTest reports whether a fresh start is offered to the user.
func (m *Machine) CanStartTest() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.status == StatusNotStarted || m.state.status == StatusError
}

func (m *Machine) IsInProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.status == StatusInProgress
}

func (m *Machine) IsCompleted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.status == StatusCompleted
}

// ProgressPercentage estimates completion against the nominal total, clamped to [0,100].
func (m *Machine) ProgressPercentage() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.status == StatusCompleted {
		return 100
	}
	if m.state.totalQuestions <= 0 {
		return 0
	}
	pct := int(math.Round(float64(m.state.questionCount) / float64(m.state.totalQuestions) * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// ==========================
// Commands
// ==========================

// CheckStatus reconciles local state with the cache and the server. Failures are
// logged and land on not_started. It returns ErrSubmitInProgress or ErrLoadInProgress when
// another command owns the state.
func (m *Machine) CheckStatus(ctx context.Context) (State, error) {
	ctx, done := m.instrument(ctx, "check_status")
	state, err := m.checkStatus(ctx)
	done(err)
	return state, err
}

func (m *Machine) checkStatus(ctx context.Context) (State, error) {
	m.mu.Lock()
	if err := m.claimLoadLocked(); err != nil {
		m.mu.Unlock()
		return m.State(), err
	}
	if err := m.setStatusLocked(StatusLoading); err != nil {
		m.state.isLoading = false
		m.mu.Unlock()
		return m.State(), err
	}
	m.state.err = nil
	gen := m.generation
	m.mu.Unlock()

	defer m.releaseLoad(gen)
	return m.reconcile(ctx, gen)
}

// reconcile settles the loading state against the cache and the server. The caller
// holds the loading claim for gen.
func (m *Machine) reconcile(ctx context.Context, gen uint64) (State, error) {
	// Fast path: a cached result settles it without touching the network.
	if m.store.IsCompleted(ctx) {
		if cached := m.store.LoadCachedResults(ctx); cached != nil {
			return m.finishCompleted(gen, cached)
		}
	}

	status, err := m.backend.CheckStatus(ctx)
	if err != nil {
		m.logger.Warn("Failed to check test status", map[string]interface{}{
			"errorCode": string(apperrors.CodeOf(err)),
			"error":     err.Error(),
		})
		return m.finishNotStarted(gen)
	}
	if status.Completed && status.Results != nil {
		if !m.cacheResults(ctx, gen, *status.Results) {
			return m.State(), ErrSessionDiscarded
		}
		return m.finishCompleted(gen, status.Results)
	}

	saved := m.store.LoadProgress(ctx)
	if saved == nil && status.CurrentQuestion == nil {
		return m.finishNotStarted(gen)
	}

	rec := m.backend.RecoverSession(ctx)
	if rec == nil || !rec.Recovered || rec.CurrentQuestion == nil {
		m.logger.Info("No recoverable session", map[string]interface{}{
			"hadLocalProgress": saved != nil,
		})
		return m.finishNotStarted(gen)
	}
	return m.finishRecovered(ctx, gen, saved, rec)
}

func (m *Machine) finishCompleted(gen uint64, results *models.Results) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return m.state.snapshot(), ErrSessionDiscarded
	}
	if err := m.setStatusLocked(StatusCompleted); err != nil {
		return m.state.snapshot(), err
	}
	m.state.results = results.Clone()
	m.state.currentQuestion = nil
	if m.state.session != nil {
		m.state.session.Status = models.SessionCompleted
	}
	return m.state.snapshot(), nil
}

func (m *Machine) finishNotStarted(gen uint64) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return m.state.snapshot(), ErrSessionDiscarded
	}
	if err := m.setStatusLocked(StatusNotStarted); err != nil {
		return m.state.snapshot(), err
	}
	return m.state.snapshot(), nil
}

func (m *Machine) finishRecovered(ctx context.Context, gen uint64, saved *models.Progress, rec *models.RecoverResponse) (State, error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return m.State(), ErrSessionDiscarded
	}
	if err := m.setStatusLocked(StatusInProgress); err != nil {
		m.mu.Unlock()
		return m.State(), err
	}

	sessionID := rec.SessionID
	if sessionID == "" && saved != nil {
		sessionID = saved.SessionID
	}
	sess := models.NewSession(sessionID)
	if saved != nil && saved.SessionID == sessionID {
		for _, a := range saved.Answers {
			sess.Record(a)
		}
	}

	count := sess.CurrentQuestionIndex + 1
	switch {
	case rec.Progress != nil:
		count = rec.Progress.QuestionsAnswered + 1
	case saved != nil && saved.SessionID == sessionID:
		count = saved.CurrentQuestionIndex + 1
	}

	m.state.session = sess
	m.state.currentQuestion = rec.CurrentQuestion
	m.state.questionCount = count
	m.state.results = nil
	m.state.err = nil
	p, _ := m.state.progress()
	state := m.state.snapshot()
	m.mu.Unlock()

	m.logger.Info("Recovered test session", map[string]interface{}{
		"sessionId":     sessionID,
		"questionCount": count,
	})
	m.persist(ctx, gen, p)
	return state, nil
}

// StartSession begins a test. Without force an in-progress session is returned untouched.
// With force any in-flight session is discarded first. Cached results block a start until
// they are discarded.
func (m *Machine) StartSession(ctx context.Context, force bool) (State, error) {
	ctx, done := m.instrument(ctx, "start_session", attribute.Bool("force", force))
	state, err := m.startSession(ctx, force)
	done(err)
	return state, err
}

func (m *Machine) startSession(ctx context.Context, force bool) (State, error) {
	cached := m.store.LoadCachedResults(ctx) != nil

	m.mu.Lock()
	if m.state.isSubmitting {
		m.mu.Unlock()
		return m.State(), ErrSubmitInProgress
	}
	if m.state.isLoading {
		m.mu.Unlock()
		return m.State(), ErrLoadInProgress
	}
	if !force && m.state.status == StatusInProgress {
		state := m.state.snapshot()
		m.mu.Unlock()
		return state, nil
	}
	if cached || m.state.status == StatusCompleted {
		m.mu.Unlock()
		return m.State(), apperrors.NewAlreadyCompletedError("cached results must be discarded before a retake")
	}

	if force {
		m.abandonLocked("force_restart")
		m.generation++
		m.state.session = nil
		m.state.currentQuestion = nil
		m.state.questionCount = 0
	}
	if err := m.setStatusLocked(StatusLoading); err != nil {
		m.mu.Unlock()
		return m.State(), err
	}
	m.state.isLoading = true
	m.state.err = nil
	gen := m.generation
	m.mu.Unlock()

	defer m.releaseLoad(gen)
	if force {
		m.clearProgress(ctx)
	}

	resp, err := m.backend.StartSession(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeAlreadyCompleted) {
			m.logger.Warn("Server reports test already completed, reconciling", nil)
			m.mu.Lock()
			stale := gen != m.generation
			m.mu.Unlock()
			if !stale {
				if _, cerr := m.reconcile(ctx, gen); cerr != nil {
					m.logger.Warn("Reconciliation after start failed", map[string]interface{}{"error": cerr.Error()})
				}
			}
			return m.State(), err
		}
		return m.fail(gen, "start_session", err)
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return m.State(), ErrSessionDiscarded
	}
	if err := m.setStatusLocked(StatusInProgress); err != nil {
		m.mu.Unlock()
		return m.State(), err
	}
	m.state.session = models.NewSession(resp.SessionID)
	m.state.currentQuestion = resp.FirstQuestion
	m.state.questionCount = 1
	m.state.results = nil
	p, _ := m.state.progress()
	state := m.state.snapshot()
	m.mu.Unlock()

	m.logger.Info("Test session started", map[string]interface{}{"sessionId": resp.SessionID})
	m.persist(ctx, gen, p)
	return state, nil
}

// SubmitAnswer sends one answer for the current question. Local rejections (no session,
// wrong question, repeat answer, invalid value) make no network call and leave state as is.
func (m *Machine) SubmitAnswer(ctx context.Context, answer models.Answer) (State, error) {
	ctx, done := m.instrument(ctx, "submit_answer", attribute.String("questionId", answer.QuestionID))
	state, err := m.submitAnswer(ctx, answer)
	done(err)
	return state, err
}

func (m *Machine) submitAnswer(ctx context.Context, answer models.Answer) (State, error) {
	m.mu.Lock()
	if m.state.isSubmitting {
		m.mu.Unlock()
		return m.State(), ErrSubmitInProgress
	}
	if m.state.status != StatusInProgress || m.state.session == nil || m.state.currentQuestion == nil {
		m.mu.Unlock()
		return m.State(), apperrors.NewNoActiveSessionError()
	}
	question := m.state.currentQuestion
	if answer.QuestionID != question.ID {
		m.mu.Unlock()
		return m.State(), apperrors.NewQuestionMismatchError(question.ID, answer.QuestionID)
	}
	if m.state.session.HasAnswered(answer.QuestionID) {
		m.mu.Unlock()
		return m.State(), apperrors.NewDuplicateAnswerError(answer.QuestionID)
	}
	if result := validation.ValidateAnswer(question, answer.Value); !result.Valid {
		m.mu.Unlock()
		return m.State(), apperrors.NewInvalidAnswerError(result.Messages()).
			WithMetadata("questionId", question.ID)
	}
	if answer.Timestamp.IsZero() {
		answer.Timestamp = time.Now().UTC()
	}

	m.state.isSubmitting = true
	gen := m.generation
	req := models.SubmitAnswerRequest{
		SessionID:  m.state.session.SessionID,
		QuestionID: question.ID,
		Answer:     answer,
	}
	m.mu.Unlock()

	resp, err := m.backend.SubmitAnswer(ctx, req)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		m.logger.Info("Discarding submission result for a reset session", map[string]interface{}{
			"sessionId": req.SessionID,
		})
		return m.State(), ErrSessionDiscarded
	}
	m.state.isSubmitting = false
	if err != nil {
		m.mu.Unlock()
		return m.fail(gen, "submit_answer", err)
	}

	if !m.state.session.Record(answer) {
		m.logger.Warn("Answer already recorded locally", map[string]interface{}{
			"sessionId":  req.SessionID,
			"questionId": answer.QuestionID,
		})
	}

	if resp.IsComplete {
		if err := m.setStatusLocked(StatusCompleted); err != nil {
			m.mu.Unlock()
			return m.State(), err
		}
		results := *resp.Results
		m.state.results = &results
		m.state.currentQuestion = nil
		m.state.session.Status = models.SessionCompleted
		sessionID := m.state.session.SessionID
		state := m.state.snapshot()
		m.mu.Unlock()

		m.cacheResults(ctx, gen, results)
		m.clearProgress(ctx)
		m.logger.Info("Test completed", map[string]interface{}{
			"sessionId": sessionID,
			"answers":   len(state.Answers),
		})
		return state, nil
	}

	if err := m.setStatusLocked(StatusInProgress); err != nil {
		m.mu.Unlock()
		return m.State(), err
	}
	m.state.currentQuestion = resp.NextQuestion
	m.state.questionCount++
	p, _ := m.state.progress()
	state := m.state.snapshot()
	m.mu.Unlock()

	m.persist(ctx, gen, p)
	return state, nil
}

// ResetTest returns to idle and clears the in-flight session, in memory and on disk.
// Cached results are kept; a retake also calls DiscardResults.
func (m *Machine) ResetTest(ctx context.Context) State {
	_, done := m.instrument(ctx, "reset_test")
	defer done(nil)

	m.mu.Lock()
	m.abandonLocked("reset")
	m.generation++
	m.state = initialState(m.state.totalQuestions)
	state := m.state.snapshot()
	m.mu.Unlock()

	m.clearProgress(ctx)
	m.logger.Info("Test reset", nil)
	return state
}

// DiscardResults drops cached results so a new session may start.
func (m *Machine) DiscardResults(ctx context.Context) State {
	_, done := m.instrument(ctx, "discard_results")
	defer done(nil)

	m.mu.Lock()
	m.state.results = nil
	if m.state.status == StatusCompleted {
		m.generation++
		m.state = initialState(m.state.totalQuestions)
	}
	state := m.state.snapshot()
	m.mu.Unlock()

	m.storeMu.Lock()
	m.store.ClearResults(ctx)
	m.storeMu.Unlock()
	return state
}

// GetResults returns cached results or makes one best-effort fetch. It returns nil
// on any failure.
func (m *Machine) GetResults(ctx context.Context) *models.Results {
	ctx, done := m.instrument(ctx, "get_results")
	defer done(nil)

	if cached := m.store.LoadCachedResults(ctx); cached != nil {
		return cached
	}

	m.mu.Lock()
	if m.state.results != nil {
		r := m.state.results.Clone()
		m.mu.Unlock()
		return r
	}
	sessionID := ""
	if m.state.session != nil {
		sessionID = m.state.session.SessionID
	}
	m.mu.Unlock()

	if sessionID == "" {
		return nil
	}
	results, err := m.backend.GetResults(ctx, sessionID)
	if err != nil {
		m.logger.Warn("Failed to get results", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		return nil
	}
	return results
}

// FetchResults is the explicit, user-initiated results fetch. Failures move the
// machine to error and are returned, unless a submission, start or status check owns
// the state at that moment; then the error is only returned.
func (m *Machine) FetchResults(ctx context.Context, sessionID string) (*models.Results, error) {
	ctx, done := m.instrument(ctx, "fetch_results")

	m.mu.Lock()
	if m.state.isSubmitting {
		m.mu.Unlock()
		done(ErrSubmitInProgress)
		return nil, ErrSubmitInProgress
	}
	gen := m.generation
	m.mu.Unlock()

	results, err := m.backend.GetResults(ctx, sessionID)
	if err != nil {
		stdErr := m.errs.Handle("fetch_results", err)
		m.mu.Lock()
		if gen == m.generation && !m.state.isSubmitting && !m.state.isLoading {
			if m.setStatusLocked(StatusError) == nil {
				m.state.err = stdErr
			}
		}
		m.mu.Unlock()
		done(stdErr)
		return nil, stdErr
	}
	done(nil)
	return results, nil
}

// History lists past attempts. It does not change state.
func (m *Machine) History(ctx context.Context) ([]models.Results, error) {
	ctx, done := m.instrument(ctx, "history")
	history, err := m.backend.History(ctx)
	done(err)
	return history, err
}

// Retry re-runs CheckStatus from the error state. From any other state it is a no-op.
func (m *Machine) Retry(ctx context.Context) (State, error) {
	m.mu.Lock()
	inError := m.state.status == StatusError
	m.mu.Unlock()
	if !inError {
		return m.State(), nil
	}
	return m.CheckStatus(ctx)
}

// ClearError dismisses a retained error and returns to idle.
func (m *Machine) ClearError() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.status == StatusError {
		m.state.status = StatusIdle
		m.state.err = nil
	}
	return m.state.snapshot()
}

// ==========================
// Internals
// ==========================

// setStatusLocked moves along a table edge. Callers hold mu.
func (m *Machine) setStatusLocked(to Status) error {
	from := m.state.status
	if !canTransition(from, to) {
		m.logger.Error("Rejected state transition", map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		})
		return illegal(from, to)
	}
	if from != to {
		m.logger.Debug("State transition", map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		})
	}
	m.state.status = to
	return nil
}

// fail records err as the retained error and moves to error, unless the session was
// reset in the meantime.
func (m *Machine) fail(gen uint64, operation string, err error) (State, error) {
	stdErr := m.errs.Handle(operation, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return m.state.snapshot(), stdErr
	}
	if terr := m.setStatusLocked(StatusError); terr != nil {
		return m.state.snapshot(), stdErr
	}
	m.state.err = stdErr
	return m.state.snapshot(), stdErr
}

// claimLoadLocked takes the loading slot for a start or status check. Callers hold mu.
func (m *Machine) claimLoadLocked() error {
	if m.state.isSubmitting {
		return ErrSubmitInProgress
	}
	if m.state.isLoading {
		return ErrLoadInProgress
	}
	m.state.isLoading = true
	return nil
}

// releaseLoad frees the loading slot, unless a reset already handed it to a newer generation.
func (m *Machine) releaseLoad(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.generation {
		m.state.isLoading = false
	}
}

// abandonLocked marks the in-memory session abandoned before it is discarded. Callers hold mu.
func (m *Machine) abandonLocked(reason string) {
	sess := m.state.session
	if sess == nil || sess.Status != models.SessionActive {
		return
	}
	sess.Status = models.SessionAbandoned
	m.logger.Info("Test session abandoned", map[string]interface{}{
		"sessionId": sess.SessionID,
		"answers":   len(sess.Answers),
		"reason":    reason,
	})
}

func (m *Machine) persist(ctx context.Context, gen uint64, p models.Progress) {
	if p.SessionID == "" {
		return
	}
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	if !m.current(gen) {
		return
	}
	m.store.SaveProgress(ctx, p)
}

func (m *Machine) cacheResults(ctx context.Context, gen uint64, r models.Results) bool {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	if !m.current(gen) {
		return false
	}
	m.store.SaveResults(ctx, r, true)
	return true
}

func (m *Machine) clearProgress(ctx context.Context) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	m.store.ClearProgress(ctx)
}

func (m *Machine) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Machine) instrument(ctx context.Context, command string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := m.obs.StartSpan(ctx, "session."+command, attrs...)
	return ctx, func(err error) {
		status := "ok"
		if err != nil {
			status = string(apperrors.CodeOf(err))
			if status == "" {
				status = "error"
			}
		}
		m.obs.RecordCommand(ctx, command, status, time.Since(start))
		observability.EndSpan(span, err)
	}
}
