package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptitude-client/internal/models"
)

func TestValidateAnswer(t *testing.T) {
	mc := &models.Question{ID: "q1", Type: models.QuestionMultipleChoice, Options: []string{"Reading", "Sports"}}
	rating := &models.Question{ID: "q2", Type: models.QuestionRating, Scale: &models.Scale{Min: 1, Max: 5}}
	text := &models.Question{ID: "q3", Type: models.QuestionText}
	img := &models.Question{ID: "q4", Type: models.QuestionImagePreference, Images: []string{"a.png", "b.png"}}

	tests := []struct {
		name     string
		question *models.Question
		value    models.AnswerValue
		valid    bool
	}{
		{"choice in options", mc, models.StringValue("Sports"), true},
		{"choice not in options", mc, models.StringValue("Chess"), false},
		{"choice given as number", mc, models.NumberValue(1), false},
		{"rating inside scale", rating, models.NumberValue(3), true},
		{"rating at upper bound", rating, models.NumberValue(5), true},
		{"rating above scale", rating, models.NumberValue(6), false},
		{"rating below scale", rating, models.NumberValue(0), false},
		{"rating given as string", rating, models.StringValue("3"), false},
		{"text non-empty", text, models.StringValue(" hello "), true},
		{"text blank", text, models.StringValue("   "), false},
		{"text empty", text, models.StringValue(""), false},
		{"image in set", img, models.StringValue("b.png"), true},
		{"image not in set", img, models.StringValue("c.png"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAnswer(tt.question, tt.value)
			assert.Equal(t, tt.valid, result.Valid, result.Messages())
			if !tt.valid {
				assert.NotEmpty(t, result.Errors)
			}
		})
	}
}

func TestValidateAnswer_Degenerate(t *testing.T) {
	result := ValidateAnswer(nil, models.StringValue("x"))
	require.False(t, result.Valid)
	assert.Equal(t, "NO_QUESTION", result.Errors[0].Code)

	noOptions := &models.Question{ID: "q", Type: models.QuestionMultipleChoice}
	result = ValidateAnswer(noOptions, models.StringValue("x"))
	require.False(t, result.Valid)
	assert.Equal(t, "SCHEMA_UNAVAILABLE", result.Errors[0].Code)

	noScale := &models.Question{ID: "q", Type: models.QuestionRating}
	result = ValidateAnswer(noScale, models.NumberValue(3))
	require.False(t, result.Valid)
	assert.Equal(t, "SCHEMA_UNAVAILABLE", result.Errors[0].Code)

	unknown := &models.Question{ID: "q", Type: "slider"}
	assert.False(t, ValidateAnswer(unknown, models.NumberValue(1)).Valid)
}

func TestAnswerSchema(t *testing.T) {
	schema, err := AnswerSchema(&models.Question{Type: models.QuestionRating, Scale: &models.Scale{Min: 1, Max: 10}})
	require.NoError(t, err)
	assert.Equal(t, "number", schema["type"])
	assert.Equal(t, 1.0, schema["minimum"])
	assert.Equal(t, 10.0, schema["maximum"])
}
