// internal/backend/client.go
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"aptitude-client/internal/common/auth"
	"aptitude-client/internal/common/config"
	apperrors "aptitude-client/internal/common/errors"
	apphttp "aptitude-client/internal/common/http"
	"aptitude-client/internal/common/logger"
	"aptitude-client/internal/common/metrics"
	"aptitude-client/internal/models"
)

// Endpoint labels used for logging and metrics.
const (
	EndpointStart   = "start"
	EndpointAnswer  = "answer"
	EndpointStatus  = "status"
	EndpointRecover = "recover"
	EndpointResults = "results"
	EndpointHistory = "history"
)

// Client talks to the remote scoring service. Requests ride on the ambient cookie
// session first; a rejected (401) request is retried once with a bearer token when
// a TokenSource is configured.
type Client struct {
	baseURL string
	http    *apphttp.Client
	tokens  auth.TokenSource
	logger  logger.Logger
}

type Option func(*Client)

// WithTokenSource enables the bearer-token fallback.
func WithTokenSource(ts auth.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithHTTPClient replaces the transport, e.g. to share a cookie jar.
func WithHTTPClient(hc *apphttp.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(cfg config.BackendConfig, log logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	c := &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    apphttp.NewClient(config.GetDuration(cfg.Timeout)),
		logger:  log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartSession opens a new server-side session and returns its first question.
func (c *Client) StartSession(ctx context.Context) (*models.StartResponse, error) {
	var out models.StartResponse
	if err := c.call(ctx, EndpointStart, http.MethodPost, "/test/start", struct{}{}, &out); err != nil {
		return nil, err
	}
	if out.SessionID == "" || out.FirstQuestion == nil {
		return nil, malformed(EndpointStart, "missing sessionId or firstQuestion")
	}
	return &out, nil
}

// SubmitAnswer records one answer. On success exactly one of NextQuestion or
// (IsComplete and Results) is populated.
func (c *Client) SubmitAnswer(ctx context.Context, req models.SubmitAnswerRequest) (*models.SubmitAnswerResponse, error) {
	var out models.SubmitAnswerResponse
	if err := c.call(ctx, EndpointAnswer, http.MethodPost, "/test/answer", req, &out); err != nil {
		return nil, err
	}

	switch {
	case out.IsComplete && out.Results != nil && out.NextQuestion == nil:
	case !out.IsComplete && out.NextQuestion != nil && out.Results == nil:
	default:
		return nil, malformed(EndpointAnswer, fmt.Sprintf(
			"isComplete=%t nextQuestion=%t results=%t",
			out.IsComplete, out.NextQuestion != nil, out.Results != nil,
		))
	}
	return &out, nil
}

// CheckStatus queries server-side completion state. It has no side effects.
func (c *Client) CheckStatus(ctx context.Context) (*models.StatusResponse, error) {
	var out models.StatusResponse
	if err := c.call(ctx, EndpointStatus, http.MethodGet, "/test/status", nil, &out); err != nil {
		return nil, err
	}
	if out.Completed && out.Results == nil {
		return nil, malformed(EndpointStatus, "completed without results")
	}
	return &out, nil
}

// RecoverSession tries to resume a server-tracked session. It never fails:
// any error is logged and reported as not recovered.
func (c *Client) RecoverSession(ctx context.Context) *models.RecoverResponse {
	var out models.RecoverResponse
	if err := c.call(ctx, EndpointRecover, http.MethodPost, "/test/recover", struct{}{}, &out); err != nil {
		c.logger.Warn("Session recovery failed", map[string]interface{}{
			"errorCode": string(apperrors.CodeOf(err)),
			"error":     err.Error(),
		})
		return &models.RecoverResponse{Recovered: false}
	}
	if out.Recovered && (out.SessionID == "" || out.CurrentQuestion == nil) {
		c.logger.Warn("Recovery response incomplete, treating as not recovered", map[string]interface{}{
			"sessionId": out.SessionID,
		})
		return &models.RecoverResponse{Recovered: false}
	}
	return &out
}

// GetResults fetches the finalized results for a session.
func (c *Client) GetResults(ctx context.Context, sessionID string) (*models.Results, error) {
	if sessionID == "" {
		return nil, apperrors.NewInvalidRequestError("sessionId is required")
	}
	var out models.Results
	path := "/test/results/" + url.PathEscape(sessionID)
	if err := c.call(ctx, EndpointResults, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History lists every completed attempt of the signed-in user.
func (c *Client) History(ctx context.Context) ([]models.Results, error) {
	var out []models.Results
	if err := c.call(ctx, EndpointHistory, http.MethodGet, "/test/history", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Results{}
	}
	return out, nil
}

// invalidator is implemented by token sources that cache, so a rejected token is reloaded next time.
type invalidator interface {
	Invalidate()
}

func (c *Client) call(ctx context.Context, endpoint, method, path string, body, out interface{}) error {
	req := apphttp.Request{Method: method, URL: c.baseURL + path, Body: body}

	resp, err := c.send(ctx, endpoint, req)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
		token, tokErr := c.tokens.Token(ctx)
		switch {
		case tokErr == nil && token != "":
			metrics.BackendAuthFallbacks.WithLabelValues(endpoint).Inc()
			c.logger.Debug("Cookie session rejected, retrying with bearer token", map[string]interface{}{
				"endpoint": endpoint,
			})
			req.BearerToken = token
			if resp, err = c.send(ctx, endpoint, req); err != nil {
				return err
			}
			if inv, ok := c.tokens.(invalidator); ok && resp.StatusCode == http.StatusUnauthorized {
				inv.Invalidate()
			}
		case tokErr != nil && !errors.Is(tokErr, auth.ErrNoToken):
			c.logger.Warn("Failed to load bearer token", map[string]interface{}{
				"endpoint": endpoint,
				"error":    tokErr.Error(),
			})
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(endpoint, resp)
	}

	if out == nil {
		return nil
	}
	if err := resp.DecodeJSON(out); err != nil {
		return malformed(endpoint, err.Error())
	}
	return nil
}

func (c *Client) send(ctx context.Context, endpoint string, req apphttp.Request) (*apphttp.Response, error) {
	start := time.Now()
	resp, err := c.http.SendJSON(ctx, req)
	if err != nil {
		metrics.ObserveRequest(endpoint, 0, time.Since(start))
		c.logger.Warn("Scoring backend unreachable", map[string]interface{}{
			"endpoint": endpoint,
			"error":    err.Error(),
		})
		return nil, apperrors.NewNetworkUnavailableError(err).WithMetadata("endpoint", endpoint)
	}
	metrics.ObserveRequest(endpoint, resp.StatusCode, time.Since(start))
	c.logger.Debug("Scoring backend responded", map[string]interface{}{
		"endpoint":  endpoint,
		"status":    resp.StatusCode,
		"requestId": resp.RequestID,
		"bearer":    req.BearerToken != "",
	})
	return resp, nil
}

func (c *Client) statusError(endpoint string, resp *apphttp.Response) error {
	var body models.ErrorResponse
	message := ""
	if resp.DecodeJSON(&body) == nil {
		message = body.Error
		if message == "" {
			message = body.Message
		}
	}

	stdErr := apperrors.FromHTTPStatus(resp.StatusCode, message, endpoint == EndpointAnswer).
		WithMetadata("endpoint", endpoint).
		WithMetadata("requestId", resp.RequestID)

	c.logger.Warn("Scoring backend rejected request", map[string]interface{}{
		"endpoint":  endpoint,
		"status":    resp.StatusCode,
		"errorCode": string(stdErr.Code),
		"details":   message,
	})
	return stdErr
}

func malformed(endpoint, details string) error {
	return apperrors.NewServerError(http.StatusOK, "malformed response: "+details).
		WithMetadata("endpoint", endpoint)
}
