package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"aptitude-client/internal/common/auth"
	"aptitude-client/internal/common/database"
	"aptitude-client/internal/common/logger"
	"aptitude-client/internal/models"
)

// ==========================
// Helpers
// ==========================

type failingKV struct{}

var errDisk = errors.New("disk unavailable")

func (failingKV) Get(context.Context, string) ([]byte, error) { return nil, errDisk }
func (failingKV) Set(context.Context, string, []byte) error { return errDisk }
func (failingKV) Delete(context.Context, string) error { return errDisk }
func (failingKV) Ping(context.Context) error { return errDisk }
func (failingKV) Close() error { return nil }

func sampleResults() models.Results {
	return models.Results{
		UserID:    "u1",
		SessionID: "s1",
		PersonalityTraits: models.PersonalityTraits{
			Openness: 81, Conscientiousness: 64, Extraversion: 40, Agreeableness: 72, Neuroticism: 22,
		},
		Interests: models.Interests{STEM: 90, Arts: 35},
		CareerPaths: []models.CareerPath{
			{Title: "Data Scientist", Stream: "science", MatchScore: 88},
		},
	}
}

// ==========================
// Progress
// ==========================

func TestStore_ProgressRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(database.NewMemoryKV(), "u1", logger.NewTestLogger(t))

	assert.Nil(t, s.LoadProgress(ctx))

	s.SaveProgress(ctx, models.Progress{
		SessionID:            "s1",
		Answers:              []models.Answer{models.NewAnswer("q1", models.StringValue("Reading"))},
		CurrentQuestionIndex: 1,
	})
	s.SaveProgress(ctx, models.Progress{SessionID: "s2", CurrentQuestionIndex: 3})

	got := s.LoadProgress(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "s2", got.SessionID)
	assert.Equal(t, 3, got.CurrentQuestionIndex)
	assert.Empty(t, got.Answers)
	assert.False(t, got.Timestamp.IsZero())

	s.ClearProgress(ctx)
	s.ClearProgress(ctx)
	assert.Nil(t, s.LoadProgress(ctx))
}

func TestStore_CorruptProgressIsAbsent(t *testing.T) {
	ctx := context.Background()
	kv := database.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, "u1:"+KeyProgress, []byte("{not json")))

	s := NewStore(kv, "u1", logger.NewTestLogger(t))
	assert.Nil(t, s.LoadProgress(ctx))

	require.NoError(t, kv.Set(ctx, "u1:"+KeyProgress, []byte(`{"currentQuestionIndex":2}`)))
	assert.Nil(t, s.LoadProgress(ctx))
}

// ==========================
// Results
// ==========================

func TestStore_ResultsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(database.NewMemoryKV(), "u1", logger.NewTestLogger(t))

	assert.False(t, s.IsCompleted(ctx))
	assert.Nil(t, s.LoadCachedResults(ctx))

	want := sampleResults()
	s.SaveResults(ctx, want, true)

	assert.True(t, s.IsCompleted(ctx))
	got := s.LoadCachedResults(ctx)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	env := s.LoadCachedEnvelope(ctx)
	require.NotNil(t, env)
	assert.True(t, env.Synced)
	assert.WithinDuration(t, time.Now(), env.Timestamp, time.Minute)

	s.ClearResults(ctx)
	assert.False(t, s.IsCompleted(ctx))
	assert.Nil(t, s.LoadCachedResults(ctx))
}

func TestStore_NamespacesAreDisjoint(t *testing.T) {
	ctx := context.Background()
	kv := database.NewMemoryKV()
	alice := NewStore(kv, "alice", nil)
	bob := NewStore(kv, "bob", nil)

	alice.SaveProgress(ctx, models.Progress{SessionID: "a-1"})
	alice.SaveResults(ctx, sampleResults(), true)

	assert.Nil(t, bob.LoadProgress(ctx))
	assert.Nil(t, bob.LoadCachedResults(ctx))
	assert.NotNil(t, alice.LoadProgress(ctx))
}

// ==========================
// Auth token
// ==========================

func TestStore_TokenSource(t *testing.T) {
	ctx := context.Background()
	s := NewStore(database.NewMemoryKV(), "u1", nil)

	_, err := s.Token(ctx)
	assert.ErrorIs(t, err, auth.ErrNoToken)

	s.SaveAuthToken(ctx, "bearer-123")
	tok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bearer-123", tok)

	s.ClearAuthToken(ctx)
	_, err = s.Token(ctx)
	assert.ErrorIs(t, err, auth.ErrNoToken)
}

// ==========================
// Failure semantics
// ==========================

func TestStore_FailingBackendNeverPanicsOrErrors(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewStore(failingKV{}, "u1", logger.NewZapAdapter(zap.New(core)))

	s.SaveProgress(ctx, models.Progress{SessionID: "s1"})
	s.SaveResults(ctx, sampleResults(), false)
	s.ClearProgress(ctx)

	assert.Nil(t, s.LoadProgress(ctx))
	assert.Nil(t, s.LoadCachedResults(ctx))
	assert.False(t, s.IsCompleted(ctx))

	_, err := s.Token(ctx)
	assert.ErrorIs(t, err, errDisk)

	assert.NotZero(t, logs.FilterMessage("Failed to save local state").Len())
	assert.NotZero(t, logs.FilterMessage("Failed to read local state").Len())
	assert.NotZero(t, logs.FilterMessage("Failed to delete local state").Len())
}

func TestStore_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()
	kv := database.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer kv.Close()

	s := NewStore(kv, "u1", logger.NewTestLogger(t))
	s.SaveProgress(ctx, models.Progress{SessionID: "s1", CurrentQuestionIndex: 4})

	assert.True(t, mr.Exists("u1:test_progress"))
	got := s.LoadProgress(ctx)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.CurrentQuestionIndex)

	s.ClearProgress(ctx)
	assert.False(t, mr.Exists("u1:test_progress"))
}
