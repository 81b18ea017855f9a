// internal/common/auth/token.go
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrNoToken is returned when no source can supply a bearer token.
var ErrNoToken = errors.New("no bearer token available")

// TokenSource supplies the bearer token used when cookie authentication is rejected.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a plain function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken is a token fixed at configuration time.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	t := strings.TrimSpace(string(s))
	if t == "" {
		return "", ErrNoToken
	}
	return t, nil
}

// Chain tries each source in order and returns the first non-empty token.
// Errors other than ErrNoToken stop the walk.
func Chain(sources ...TokenSource) TokenSource {
	return TokenSourceFunc(func(ctx context.Context) (string, error) {
		for _, src := range sources {
			if src == nil {
				continue
			}
			tok, err := src.Token(ctx)
			if errors.Is(err, ErrNoToken) {
				continue
			}
			if err != nil {
				return "", err
			}
			if tok != "" {
				return tok, nil
			}
		}
		return "", ErrNoToken
	})
}

// CachedSource memoises a token for ttl so the fallback path does not
// hit storage on every request.
type CachedSource struct {
	src TokenSource
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewCachedSource(src TokenSource, ttl time.Duration) *CachedSource {
	return &CachedSource{src: src, ttl: ttl, now: time.Now}
}

func (c *CachedSource) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.expiry.After(c.now()) {
		return c.token, nil
	}

	tok, err := c.src.Token(ctx)
	if err != nil {
		return "", err
	}
	c.token = tok
	c.expiry = c.now().Add(c.ttl)
	return tok, nil
}

// Invalidate forgets the cached token, e.g. after the server rejected it.
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
}
