// internal/progress/store.go
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"aptitude-client/internal/common/auth"
	"aptitude-client/internal/common/database"
	"aptitude-client/internal/common/logger"
	"aptitude-client/internal/models"
)

const (
	KeyProgress  = "test_progress"
	KeyResults   = "test_results"
	KeyCompleted = "test_completed"
	KeyAuthToken = "authToken"
)

// Store persists in-flight progress and finalized results for one user namespace.
// Writes are best-effort: failures are logged and swallowed. Reads treat I/O errors
// and corrupt payloads as absent.
type Store struct {
	kv        database.KV
	namespace string
	logger    logger.Logger
	now       func() time.Time
}

func NewStore(kv database.KV, namespace string, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Store{
		kv:        kv,
		namespace: strings.TrimSpace(namespace),
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) key(name string) string {
	if s.namespace == "" {
		return name
	}
	return s.namespace + ":" + name
}

// SaveProgress overwrites any previously saved progress. A zero timestamp is stamped with now.
func (s *Store) SaveProgress(ctx context.Context, p models.Progress) {
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now()
	}
	if p.Answers == nil {
		p.Answers = []models.Answer{}
	}
	s.put(ctx, KeyProgress, p)
}

// LoadProgress returns the most recently saved progress, or nil.
func (s *Store) LoadProgress(ctx context.Context) *models.Progress {
	var p models.Progress
	if !s.get(ctx, KeyProgress, &p) {
		return nil
	}
	if p.SessionID == "" {
		s.logger.Warn("Discarding saved progress without session id", map[string]interface{}{
			"key": s.key(KeyProgress),
		})
		return nil
	}
	return &p
}

func (s *Store) ClearProgress(ctx context.Context) {
	s.del(ctx, KeyProgress)
}

// SaveResults caches finalized results and raises the completion flag.
func (s *Store) SaveResults(ctx context.Context, r models.Results, synced bool) {
	s.put(ctx, KeyResults, models.CachedResults{
		Results:   r,
		Timestamp: s.now(),
		Synced:    synced,
	})
	s.put(ctx, KeyCompleted, true)
}

// LoadCachedResults returns the cached results, or nil.
func (s *Store) LoadCachedResults(ctx context.Context) *models.Results {
	cached := s.LoadCachedEnvelope(ctx)
	if cached == nil {
		return nil
	}
	return &cached.Results
}

// LoadCachedEnvelope returns the cached results along with their sync metadata.
func (s *Store) LoadCachedEnvelope(ctx context.Context) *models.CachedResults {
	var cached models.CachedResults
	if !s.get(ctx, KeyResults, &cached) {
		return nil
	}
	return &cached
}

func (s *Store) ClearResults(ctx context.Context) {
	s.del(ctx, KeyResults)
	s.del(ctx, KeyCompleted)
}

// IsCompleted reports the completion flag written alongside cached results.
func (s *Store) IsCompleted(ctx context.Context) bool {
	var done bool
	return s.get(ctx, KeyCompleted, &done) && done
}

func (s *Store) SaveAuthToken(ctx context.Context, token string) {
	s.put(ctx, KeyAuthToken, token)
}

func (s *Store) ClearAuthToken(ctx context.Context) {
	s.del(ctx, KeyAuthToken)
}

// Token implements auth.TokenSource over the stored bearer credential.
func (s *Store) Token(ctx context.Context) (string, error) {
	raw, err := s.kv.Get(ctx, s.key(KeyAuthToken))
	if errors.Is(err, database.ErrKeyNotFound) {
		return "", auth.ErrNoToken
	}
	if err != nil {
		return "", err
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil || strings.TrimSpace(token) == "" {
		return "", auth.ErrNoToken
	}
	return token, nil
}

var _ auth.TokenSource = (*Store)(nil)

func (s *Store) put(ctx context.Context, name string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("Failed to serialize local state", map[string]interface{}{
			"key":   s.key(name),
			"error": err.Error(),
		})
		return
	}
	if err := s.kv.Set(ctx, s.key(name), data); err != nil {
		s.logger.Warn("Failed to save local state", map[string]interface{}{
			"key":   s.key(name),
			"error": err.Error(),
		})
	}
}

func (s *Store) get(ctx context.Context, name string, v interface{}) bool {
	data, err := s.kv.Get(ctx, s.key(name))
	if errors.Is(err, database.ErrKeyNotFound) {
		return false
	}
	if err != nil {
		s.logger.Warn("Failed to read local state", map[string]interface{}{
			"key":   s.key(name),
			"error": err.Error(),
		})
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("Ignoring corrupt local state", map[string]interface{}{
			"key":   s.key(name),
			"error": err.Error(),
		})
		return false
	}
	return true
}

func (s *Store) del(ctx context.Context, name string) {
	if err := s.kv.Delete(ctx, s.key(name)); err != nil {
		s.logger.Warn("Failed to delete local state", map[string]interface{}{
			"key":   s.key(name),
			"error": err.Error(),
		})
	}
}
