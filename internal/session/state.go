// internal/session/state.go
package session

import (
	"errors"
	"fmt"

	apperrors "aptitude-client/internal/common/errors"
	"aptitude-client/internal/models"
)

// Status is the lifecycle position of the machine.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusLoading    Status = "loading"
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

var (
	// ErrIllegalTransition is returned when a command would move the machine along an edge
	// that is not in the transition table. State is left unchanged.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrSubmitInProgress rejects commands issued while an answer submission is in flight.
	ErrSubmitInProgress = errors.New("an answer submission is already in flight")

	// ErrLoadInProgress rejects a start or status check while another one is in flight.
	ErrLoadInProgress = errors.New("a session start or status check is already in flight")

	// ErrSessionDiscarded is returned by a command whose network result arrived after the
	// session it belonged to was reset.
	ErrSessionDiscarded = errors.New("session was reset while the request was in flight")
)

// transitions lists the legal edges. Reset to idle is legal from every state and is
// handled separately.
var transitions = map[Status][]Status{
	StatusIdle:       {StatusLoading, StatusError},
	StatusLoading:    {StatusLoading, StatusNotStarted, StatusInProgress, StatusCompleted, StatusError},
	StatusNotStarted: {StatusLoading, StatusError},
	StatusInProgress: {StatusInProgress, StatusCompleted, StatusLoading, StatusError},
	StatusCompleted:  {StatusLoading, StatusError},
	StatusError:      {StatusLoading, StatusError},
}

func canTransition(from, to Status) bool {
	if to == StatusIdle {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func illegal(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// State is an immutable snapshot of the machine handed to callers. QuestionCount is
// 1-indexed and includes the current, unanswered question.
type State struct {
	Status          Status
	SessionID       string
	CurrentQuestion *models.Question
	QuestionCount   int
	TotalQuestions  int
	Answers         []models.Answer
	Results         *models.Results
	Err             *apperrors.StandardError
	IsSubmitting    bool
}

// machineState is the mutable state guarded by Machine.mu.
type machineState struct {
	status          Status
	session         *models.Session
	currentQuestion *models.Question
	questionCount   int
	totalQuestions  int
	results         *models.Results
	err             *apperrors.StandardError
	isSubmitting    bool

	// isLoading marks the single start or status check allowed in flight.
	isLoading bool
}

func initialState(total int) machineState {
	return machineState{status: StatusIdle, totalQuestions: total}
}

func (s *machineState) snapshot() State {
	out := State{
		Status:          s.status,
		CurrentQuestion: s.currentQuestion.Clone(),
		QuestionCount:   s.questionCount,
		TotalQuestions:  s.totalQuestions,
		Results:         s.results.Clone(),
		Err:             s.err,
		IsSubmitting:    s.isSubmitting,
	}
	if s.session != nil {
		out.SessionID = s.session.SessionID
		out.Answers = append([]models.Answer(nil), s.session.Answers...)
	}
	return out
}

// progress builds the persisted form of the in-flight session.
func (s *machineState) progress() (models.Progress, bool) {
	if s.status != StatusInProgress || s.session == nil || s.session.SessionID == "" {
		return models.Progress{}, false
	}
	idx := s.questionCount - 1
	if idx < 0 {
		idx = 0
	}
	return models.Progress{
		SessionID:            s.session.SessionID,
		Answers:              append([]models.Answer{}, s.session.Answers...),
		CurrentQuestionIndex: idx,
	}, true
}
