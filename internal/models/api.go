// internal/models/api.go
package models

// StartResponse is returned by POST /test/start.
type StartResponse struct {
	SessionID     string    `json:"sessionId"`
	FirstQuestion *Question `json:"firstQuestion"`
}

// SubmitAnswerRequest is the body of POST /test/answer.
type SubmitAnswerRequest struct {
	SessionID  string `json:"sessionId"`
	QuestionID string `json:"questionId"`
	Answer     Answer `json:"answer"`
}

// SubmitAnswerResponse carries either the next question or the final results.
type SubmitAnswerResponse struct {
	NextQuestion *Question `json:"nextQuestion,omitempty"`
	IsComplete   bool      `json:"isComplete"`
	Results      *Results  `json:"results,omitempty"`
}

// StatusResponse is returned by GET /test/status.
type StatusResponse struct {
	Completed       bool      `json:"completed"`
	Results         *Results  `json:"results,omitempty"`
	CurrentQuestion *Question `json:"currentQuestion,omitempty"`
}

// RecoveryProgress is the server's view of how far an interrupted session got.
type RecoveryProgress struct {
	QuestionsAnswered int `json:"questionsAnswered"`
	TotalQuestions    int `json:"totalQuestions"`
}

// RecoverResponse is returned by POST /test/recover. Recovered=false is a normal outcome.
type RecoverResponse struct {
	Recovered       bool              `json:"recovered"`
	SessionID       string            `json:"sessionId,omitempty"`
	CurrentQuestion *Question         `json:"currentQuestion,omitempty"`
	Progress        *RecoveryProgress `json:"progress,omitempty"`
}

// ErrorResponse is the body the backend sends with non-2xx statuses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
