package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendJSON_HeadersAndBody(t *testing.T) {
	var got struct {
		Name string `json:"name"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok", r.Header.Get(HeaderAuthorization))
		_, err := uuid.Parse(r.Header.Get(HeaderRequestID))
		assert.NoError(t, err)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := NewClient(time.Second)
	resp, err := c.SendJSON(context.Background(), Request{
		Method:      http.MethodPost,
		URL:         server.URL,
		Body:        map[string]string{"name": "ada"},
		BearerToken: "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ada", got.Name)

	var out map[string]bool
	require.NoError(t, resp.DecodeJSON(&out))
	assert.True(t, out["ok"])
}

func TestSendJSON_CookiesPersist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
			return
		}
		c, err := r.Cookie("sid")
		if err != nil || c.Value != "abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(time.Second)
	_, err := c.SendJSON(context.Background(), Request{Method: http.MethodGet, URL: server.URL + "/login"})
	require.NoError(t, err)

	resp, err := c.SendJSON(context.Background(), Request{Method: http.MethodGet, URL: server.URL + "/me"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSendJSON_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewClient(20 * time.Millisecond)
	_, err := c.SendJSON(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	assert.Error(t, err)
}

func TestDecodeJSON_Empty(t *testing.T) {
	r := &Response{StatusCode: 200}
	assert.Error(t, r.DecodeJSON(&struct{}{}))
}
