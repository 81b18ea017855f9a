package models

import "time"

// SessionStatus is the lifecycle of one test attempt.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

// Session is the active attempt. Answers never hold two entries for the same question.
type Session struct {
	SessionID            string        `json:"sessionId"`
	Answers              []Answer      `json:"answers"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	Status               SessionStatus `json:"status"`
}

// NewSession starts an empty active session.
func NewSession(sessionID string) *Session {
	return &Session{SessionID: sessionID, Answers: []Answer{}, Status: SessionActive}
}

// HasAnswered reports whether questionID already has a recorded answer.
func (s *Session) HasAnswered(questionID string) bool {
	for _, a := range s.Answers {
		if a.QuestionID == questionID {
			return true
		}
	}
	return false
}

// Record appends a and advances the question index. It returns false, leaving the
// session untouched, when the question was already answered.
func (s *Session) Record(a Answer) bool {
	if s.HasAnswered(a.QuestionID) {
		return false
	}
	s.Answers = append(s.Answers, a)
	s.CurrentQuestionIndex++
	return true
}

// Progress is the locally cached, resumable snapshot of an in-flight session.
type Progress struct {
	SessionID            string    `json:"sessionId"`
	Answers              []Answer  `json:"answers"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	Timestamp            time.Time `json:"timestamp"`
}
