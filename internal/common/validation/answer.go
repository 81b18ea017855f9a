// internal/common/validation/answer.go
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"aptitude-client/internal/models"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Messages joins every error message into one line.
func (r *ValidationResult) Messages() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, "; ")
}

// AnswerSchema builds the JSON schema an answer value must satisfy for q.
func AnswerSchema(q *models.Question) (map[string]interface{}, error) {
	switch q.Type {
	case models.QuestionMultipleChoice:
		if len(q.Options) == 0 {
			return nil, fmt.Errorf("question %s has no options", q.ID)
		}
		return map[string]interface{}{"type": "string", "enum": stringsToAny(q.Options)}, nil
	case models.QuestionImagePreference:
		if len(q.Images) == 0 {
			return nil, fmt.Errorf("question %s has no images", q.ID)
		}
		return map[string]interface{}{"type": "string", "enum": stringsToAny(q.Images)}, nil
	case models.QuestionRating:
		if q.Scale == nil {
			return nil, fmt.Errorf("question %s has no scale", q.ID)
		}
		return map[string]interface{}{
			"type":    "number",
			"minimum": q.Scale.Min,
			"maximum": q.Scale.Max,
		}, nil
	case models.QuestionText:
		// at least one non-whitespace character
		return map[string]interface{}{"type": "string", "pattern": `\S`}, nil
	default:
		return nil, fmt.Errorf("question %s has unsupported type %q", q.ID, q.Type)
	}
}

// ValidateAnswer checks value against the shape q expects, without any network call.
func ValidateAnswer(q *models.Question, value models.AnswerValue) *ValidationResult {
	if q == nil {
		return invalid("question", "no question to answer", "NO_QUESTION")
	}

	schemaMap, err := AnswerSchema(q)
	if err != nil {
		return invalid("question", err.Error(), "SCHEMA_UNAVAILABLE")
	}
	schemaLoader := gojsonschema.NewGoLoader(schemaMap)
	documentLoader := gojsonschema.NewGoLoader(value.Interface())

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return invalid("value", fmt.Sprintf("validation error: %v", err), "SCHEMA_ERROR")
	}
	if result.Valid() {
		return &ValidationResult{Valid: true}
	}

	errs := make([]ValidationError, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, ValidationError{
			Field:   "value",
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return &ValidationResult{Valid: false, Errors: errs}
}

func invalid(field, message, code string) *ValidationResult {
	return &ValidationResult{
		Valid:  false,
		Errors: []ValidationError{{Field: field, Message: message, Code: code}},
	}
}

func stringsToAny(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
