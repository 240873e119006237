// Package client is the consumer side of the auth API: a façade wrapping
// the four endpoints with cookie-carrying requests, and a session state
// holder that mirrors "current user" for UI consumers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/avieira/authgate/internal/domain/user"
)

// ErrSessionExpired signals a 401 on an authenticated call: the session
// cookie is gone or no longer accepted, and the caller should return to
// the login surface.
var ErrSessionExpired = errors.New("session expired")

// APIError is the normalized form of every non-2xx response, carrying the
// server-supplied message when one was present.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

type Option func(*Client)

// WithHTTPClient swaps the underlying client; the cookie jar is still
// installed on it so the session cookie round-trips.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithSessionExpiredHook registers the redirect-to-login equivalent: it
// fires once per authenticated call that comes back 401.
func WithSessionExpiredHook(fn func()) Option {
	return func(c *Client) {
		c.onSessionExpired = fn
	}
}

// Client issues credential-carrying calls against the auth API. The cookie
// jar plays the browser's role: the session cookie set by login/register is
// attached to every subsequent request automatically.
type Client struct {
	base             string
	http             *http.Client
	onSessionExpired func()
}

func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		base: baseURL,
		http: &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		c.http.Jar = jar
	}

	return c, nil
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Message string      `json:"message"`
	User    user.Public `json:"user"`
}

func (c *Client) Register(ctx context.Context, email, password, name string) (user.Public, error) {
	var out sessionResponse

	err := c.postJSON(ctx, "/api/auth/register", registerRequest{
		Email:    email,
		Password: password,
		Name:     name,
	}, &out)

	if err != nil {
		return user.Public{}, err
	}

	return out.User, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (user.Public, error) {
	var out sessionResponse

	err := c.postJSON(ctx, "/api/auth/login", loginRequest{
		Email:    email,
		Password: password,
	}, &out)

	if err != nil {
		return user.Public{}, err
	}

	return out.User, nil
}

// Logout notifies the server so the cookie is cleared (and the token
// revoked where the server supports it).
func (c *Client) Logout(ctx context.Context) error {
	return c.postJSON(ctx, "/api/auth/logout", nil, nil)
}

// Profile asks the server who the cookie belongs to. It rides the
// authenticated fetch path, so a 401 surfaces as ErrSessionExpired.
func (c *Client) Profile(ctx context.Context) (user.Public, error) {
	resp, err := c.DoAuthenticated(ctx, http.MethodGet, "/api/auth/me", nil)
	if err != nil {
		return user.Public{}, err
	}
	defer resp.Body.Close()

	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return user.Public{}, fmt.Errorf("decode profile response: %w", err)
	}

	return out.User, nil
}

// DoAuthenticated is the generic credentialed fetch helper. Any 401 is
// treated as a global session-expiry signal: the hook fires and the call
// fails with ErrSessionExpired, independent of the call site.
func (c *Client) DoAuthenticated(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if c.onSessionExpired != nil {
			c.onSessionExpired()
		}
		return nil, ErrSessionExpired
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, normalizeError(resp)
	}

	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	var body io.Reader

	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return normalizeError(resp)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// normalizeError folds every failure body into a single APIError. Bodies
// that are not the expected envelope still produce a usable error.
func normalizeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}

	return apiErr
}
