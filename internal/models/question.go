// internal/models/question.go
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// QuestionType is the response shape a question expects.
type QuestionType string

const (
	QuestionMultipleChoice  QuestionType = "multiple_choice"
	QuestionRating          QuestionType = "rating"
	QuestionText            QuestionType = "text"
	QuestionImagePreference QuestionType = "image_preference"
)

// AssessmentArea is the dimension a question probes.
type AssessmentArea string

const (
	AreaPersonality AssessmentArea = "personality"
	AreaInterests   AssessmentArea = "interests"
	AreaAptitude    AssessmentArea = "aptitude"
	AreaValues      AssessmentArea = "values"
)

// Scale bounds a rating question.
type Scale struct {
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	Labels []string `json:"labels,omitempty"`
}

// Question is one backend-issued assessment prompt. Treat as immutable.
type Question struct {
	ID       string         `json:"id"`
	Type     QuestionType   `json:"type"`
	Text     string         `json:"text"`
	Options  []string       `json:"options,omitempty"`
	Scale    *Scale         `json:"scale,omitempty"`
	Images   []string       `json:"images,omitempty"`
	Category AssessmentArea `json:"category"`
}

// Clone returns a deep copy of q.
func (q *Question) Clone() *Question {
	if q == nil {
		return nil
	}
	out := *q
	out.Options = cloneStrings(q.Options)
	out.Images = cloneStrings(q.Images)
	if q.Scale != nil {
		scale := *q.Scale
		scale.Labels = cloneStrings(q.Scale.Labels)
		out.Scale = &scale
	}
	return &out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}

// AnswerValue is either a string or a number on the wire.
type AnswerValue struct {
	Text     string
	Number   float64
	IsNumber bool
}

// StringValue builds a textual answer value.
func StringValue(s string) AnswerValue { return AnswerValue{Text: s} }

// NumberValue builds a numeric answer value.
func NumberValue(n float64) AnswerValue { return AnswerValue{Number: n, IsNumber: true} }

// Interface returns the value as a plain string or float64.
func (v AnswerValue) Interface() interface{} {
	if v.IsNumber {
		return v.Number
	}
	return v.Text
}

func (v AnswerValue) String() string {
	if v.IsNumber {
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
	return v.Text
}

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("answer value must be a string or number: %w", err)
	}
	*v = NumberValue(n)
	return nil
}

// Answer is a user's response to one Question. Never mutated after creation.
type Answer struct {
	QuestionID string      `json:"questionId"`
	Value      AnswerValue `json:"value"`
	Timestamp  time.Time   `json:"timestamp"`
}

// NewAnswer stamps an answer with the current time.
func NewAnswer(questionID string, value AnswerValue) Answer {
	return Answer{QuestionID: questionID, Value: value, Timestamp: time.Now().UTC()}
}
