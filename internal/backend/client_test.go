package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptitude-client/internal/common/auth"
	"aptitude-client/internal/common/config"
	apperrors "aptitude-client/internal/common/errors"
	apphttp "aptitude-client/internal/common/http"
	"aptitude-client/internal/common/logger"
	"aptitude-client/internal/common/metrics"
	"aptitude-client/internal/models"
)

// ==========================
// Helpers
// ==========================

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.BackendConfig{BaseURL: server.URL + "/api/", Timeout: 2000}
	return NewClient(cfg, logger.NewTestLogger(t), opts...), server
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var firstQuestion = &models.Question{
	ID:       "q1",
	Type:     models.QuestionMultipleChoice,
	Text:     "Which activity do you enjoy most?",
	Options:  []string{"Reading", "Sports", "Coding"},
	Category: models.AreaInterests,
}

// ==========================
// StartSession
// ==========================

func TestStartSession_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/test/start", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, models.StartResponse{SessionID: "s1", FirstQuestion: firstQuestion})
	})

	resp, err := c.StartSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, firstQuestion, resp.FirstQuestion)
}

func TestStartSession_MissingFields(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"sessionId": "s1"})
	})

	_, err := c.StartSession(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeServerError))
}

// ==========================
// Error mapping
// ==========================

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		endpoint string
		want     apperrors.ErrorCode
	}{
		{"401", 401, `{"error":"no session"}`, EndpointStart, apperrors.ErrCodeUnauthenticated},
		{"403", 403, `{"error":"nope"}`, EndpointStart, apperrors.ErrCodeForbidden},
		{"404", 404, `{"error":"Session not found"}`, EndpointAnswer, apperrors.ErrCodeSessionNotFound},
		{"400 already completed", 400, `{"error":"User has already completed the test"}`, EndpointStart, apperrors.ErrCodeAlreadyCompleted},
		{"400 on start", 400, `{"error":"bad"}`, EndpointStart, apperrors.ErrCodeInvalidRequest},
		{"400 on answer", 400, `{"error":"bad value"}`, EndpointAnswer, apperrors.ErrCodeInvalidAnswer},
		{"429", 429, `{"error":"slow down"}`, EndpointStart, apperrors.ErrCodeRateLimited},
		{"500 non-json body", 500, `internal`, EndpointStart, apperrors.ErrCodeServerError},
		{"503", 503, `{"message":"maintenance"}`, EndpointAnswer, apperrors.ErrCodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			var err error
			if tt.endpoint == EndpointAnswer {
				_, err = c.SubmitAnswer(context.Background(), models.SubmitAnswerRequest{SessionID: "s1", QuestionID: "q1"})
			} else {
				_, err = c.StartSession(context.Background())
			}
			require.Error(t, err)
			assert.Equal(t, tt.want, apperrors.CodeOf(err))

			stdErr := apperrors.Normalize(err)
			assert.Equal(t, tt.status, stdErr.Status)
			assert.NotEmpty(t, stdErr.Message)
			assert.Equal(t, tt.endpoint, stdErr.Metadata["endpoint"])
		})
	}
}

func TestServerErrorMessageCarriedAsDetails(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scoring engine offline"})
	})

	_, err := c.CheckStatus(context.Background())
	stdErr := apperrors.Normalize(err)
	assert.Equal(t, "scoring engine offline", stdErr.Details)
	assert.True(t, stdErr.Retryable)
}

func TestNetworkUnavailable(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
		}))
		defer server.Close()

		c := NewClient(config.BackendConfig{BaseURL: server.URL, Timeout: 30}, logger.NewTestLogger(t))
		_, err := c.CheckStatus(context.Background())
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeNetworkUnavailable))
		assert.True(t, apperrors.IsRetryable(err))
	})

	t.Run("connection refused", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		c := NewClient(config.BackendConfig{BaseURL: url, Timeout: 500}, logger.NewTestLogger(t))
		_, err := c.StartSession(context.Background())
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeNetworkUnavailable))
	})
}

// ==========================
// Auth fallback
// ==========================

func TestCookieSessionCarriedAcrossCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/test/start":
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "cookie-1", Path: "/"})
			writeJSON(w, http.StatusOK, models.StartResponse{SessionID: "s1", FirstQuestion: firstQuestion})
		case "/api/test/answer":
			if ck, err := r.Cookie("sid"); err != nil || ck.Value != "cookie-1" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no session cookie"})
				return
			}
			writeJSON(w, http.StatusOK, models.SubmitAnswerResponse{NextQuestion: &models.Question{ID: "q2", Type: models.QuestionText}})
		}
	}))
	t.Cleanup(server.Close)

	cfg := config.BackendConfig{BaseURL: server.URL + "/api", Timeout: 2000}
	c := NewClient(cfg, logger.NewTestLogger(t), WithHTTPClient(apphttp.NewClientFrom(server.Client())))

	_, err := c.StartSession(context.Background())
	require.NoError(t, err)
	resp, err := c.SubmitAnswer(context.Background(), models.SubmitAnswerRequest{
		SessionID:  "s1",
		QuestionID: "q1",
		Answer:     models.NewAnswer("q1", models.StringValue("Coding")),
	})
	require.NoError(t, err)
	assert.Equal(t, "q2", resp.NextQuestion.ID)
}

func TestAuthFallback_RetriesWithBearerOn401(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") != "Bearer stored-token" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "cookie expired"})
			return
		}
		writeJSON(w, http.StatusOK, models.StatusResponse{Completed: false, CurrentQuestion: firstQuestion})
	}, WithTokenSource(auth.StaticToken("stored-token")))

	before := testutil.ToFloat64(metrics.BackendAuthFallbacks.WithLabelValues(EndpointStatus))

	resp, err := c.CheckStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, resp.Completed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.BackendAuthFallbacks.WithLabelValues(EndpointStatus)))
}

func TestAuthFallback_SurfacesRetryError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "cookie expired"})
			return
		}
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "token revoked"})
	}, WithTokenSource(auth.StaticToken("stale")))

	_, err := c.StartSession(context.Background())
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.CodeOf(err))
}

func TestAuthFallback_RejectedTokenIsInvalidated(t *testing.T) {
	var loads int32
	src := auth.NewCachedSource(auth.TokenSourceFunc(func(context.Context) (string, error) {
		atomic.AddInt32(&loads, 1)
		return "stale", nil
	}), time.Hour)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "login required"})
	}, WithTokenSource(src))

	_, err := c.StartSession(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnauthenticated))
	_, err = c.StartSession(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnauthenticated))
	assert.Equal(t, int32(2), atomic.LoadInt32(&loads))
}

func TestAuthFallback_NoTokenMeansSingleAttempt(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "login required"})
	}, WithTokenSource(auth.StaticToken("")))

	_, err := c.StartSession(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnauthenticated))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAuthFallback_NotUsedForOtherFailures(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
	}, WithTokenSource(auth.StaticToken("tok")))

	_, err := c.SubmitAnswer(context.Background(), models.SubmitAnswerRequest{SessionID: "s1", QuestionID: "q1"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeServerError))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// ==========================
// SubmitAnswer
// ==========================

func TestSubmitAnswer_RequestShapeAndNextQuestion(t *testing.T) {
	next := &models.Question{ID: "q2", Type: models.QuestionRating, Scale: &models.Scale{Min: 1, Max: 5}}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "s1", body["sessionId"])
		assert.Equal(t, "q1", body["questionId"])
		answer := body["answer"].(map[string]interface{})
		assert.Equal(t, "q1", answer["questionId"])
		assert.Equal(t, "Coding", answer["value"])
		assert.NotEmpty(t, answer["timestamp"])

		writeJSON(w, http.StatusOK, models.SubmitAnswerResponse{NextQuestion: next})
	})

	resp, err := c.SubmitAnswer(context.Background(), models.SubmitAnswerRequest{
		SessionID:  "s1",
		QuestionID: "q1",
		Answer:     models.NewAnswer("q1", models.StringValue("Coding")),
	})
	require.NoError(t, err)
	assert.False(t, resp.IsComplete)
	assert.Equal(t, "q2", resp.NextQuestion.ID)
}

func TestSubmitAnswer_Complete(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.SubmitAnswerResponse{
			IsComplete: true,
			Results:    &models.Results{SessionID: "s1", PersonalityTraits: models.PersonalityTraits{Openness: 77}},
		})
	})

	resp, err := c.SubmitAnswer(context.Background(), models.SubmitAnswerRequest{SessionID: "s1", QuestionID: "q1"})
	require.NoError(t, err)
	assert.True(t, resp.IsComplete)
	assert.Equal(t, 77.0, resp.Results.PersonalityTraits.Openness)
}

func TestSubmitAnswer_RejectsAmbiguousResponses(t *testing.T) {
	bodies := []string{
		`{"isComplete":false}`,
		`{"isComplete":true}`,
		`{"isComplete":false,"nextQuestion":{"id":"q2"},"results":{"sessionId":"s1"}}`,
		`{"isComplete":true,"nextQuestion":{"id":"q2"},"results":{"sessionId":"s1"}}`,
		`not json`,
	}
	for _, body := range bodies {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		_, err := c.SubmitAnswer(context.Background(), models.SubmitAnswerRequest{SessionID: "s1", QuestionID: "q1"})
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeServerError), body)
	}
}

// ==========================
// CheckStatus / RecoverSession
// ==========================

func TestCheckStatus_Completed(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		writeJSON(w, http.StatusOK, models.StatusResponse{Completed: true, Results: &models.Results{SessionID: "s9"}})
	})

	resp, err := c.CheckStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Completed)
	assert.Equal(t, "s9", resp.Results.SessionID)
}

func TestRecoverSession(t *testing.T) {
	t.Run("recovered", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/test/recover", r.URL.Path)
			writeJSON(w, http.StatusOK, models.RecoverResponse{
				Recovered:       true,
				SessionID:       "s1",
				CurrentQuestion: firstQuestion,
				Progress:        &models.RecoveryProgress{QuestionsAnswered: 3, TotalQuestions: 10},
			})
		})
		resp := c.RecoverSession(context.Background())
		assert.True(t, resp.Recovered)
		assert.Equal(t, 3, resp.Progress.QuestionsAnswered)
	})

	t.Run("server error is not recovered", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		resp := c.RecoverSession(context.Background())
		require.NotNil(t, resp)
		assert.False(t, resp.Recovered)
	})

	t.Run("incomplete payload is not recovered", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]bool{"recovered": true})
		})
		assert.False(t, c.RecoverSession(context.Background()).Recovered)
	})
}

// ==========================
// Results / History
// ==========================

func TestGetResultsAndHistory(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/test/results/s1":
			writeJSON(w, http.StatusOK, models.Results{SessionID: "s1", UserID: "u1"})
		case "/api/test/history":
			writeJSON(w, http.StatusOK, []models.Results{{SessionID: "s0"}, {SessionID: "s1"}})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		}
	})
	ctx := context.Background()

	res, err := c.GetResults(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)

	_, err = c.GetResults(ctx, "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeSessionNotFound))

	_, err = c.GetResults(ctx, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidRequest))

	history, err := c.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
