// Package api is the client for the chat server's same-origin HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"chatsync/pkg/config"
)

// Surfaces the client is sent to when a request cannot proceed.
const (
	RedirectLogin    = "/login/"
	RedirectProfile  = "/profile/"
	RedirectNotFound = "/not-found/"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// StatusError reports a non-success HTTP status from one endpoint.
type StatusError struct {
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Path, e.StatusCode)
}

// Is maps 401 and 404 onto ErrUnauthorized and ErrNotFound.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	default:
		return false
	}
}

// Client performs requests against one server origin with the session
// cookie attached.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     *slog.Logger
}

// New builds a client for cfg.BaseURL. When cfg.SessionToken is set it is
// installed in the cookie jar under cfg.SessionCookie.
func New(cfg config.ServerConfig, log *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse server.base_url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server.base_url must be http or https, got %q", cfg.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if token := strings.TrimSpace(cfg.SessionToken); token != "" {
		jar.SetCookies(base, []*http.Cookie{{Name: cfg.SessionCookie, Value: token, Path: "/"}})
	}

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{Jar: jar, Timeout: timeout},
		log:     log.With("component", "api.client"),
	}, nil
}

// BaseURL returns the server origin.
func (c *Client) BaseURL() *url.URL {
	copied := *c.baseURL
	return &copied
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	return u.String()
}

func (c *Client) do(ctx context.Context, method string, path string, query url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")

	startedAt := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed", "method", method, "path", path, "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	c.log.Debug("request completed", "method", method, "path", path, "status", resp.StatusCode, "duration_ms", time.Since(startedAt).Milliseconds())

	return resp, nil
}

// getJSON decodes a 2xx JSON body into out; any other status is a *StatusError.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Path: path, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	return nil
}
