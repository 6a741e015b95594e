// Package auth wraps the external GoTrue service: sign-in and session
// lifecycle stay remote; this package tracks the current session and
// notifies subscribers on change.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event identifies a session state change.
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// ErrNoSession is returned when an operation needs a signed-in user and
// none exists.
var ErrNoSession = errors.New("no active session")

// User identifies the signed-in account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session holds the tokens and identity returned by the auth service.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Valid reports whether the access token is present and not about to
// expire.
func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != "" && time.Until(s.ExpiresAt) > 30*time.Second
}

// Handler receives session change notifications. Handlers run
// synchronously on the goroutine that triggered the change and must not
// block or call back into the client.
type Handler func(Event, *Session)

// HTTPClient is the transport dependency, satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

// Client talks to the GoTrue REST API and owns the local session state.
type Client struct {
	baseURL     string
	anonKey     string
	sessionFile string
	httpClient  HTTPClient
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	session *Session

	subMu       sync.RWMutex
	subscribers map[string]Handler
}

// NewClient creates an auth client. baseURL is the GoTrue root
// (.../auth/v1); sessionFile may be empty to disable the on-disk
// session cache.
func NewClient(baseURL, anonKey, sessionFile string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Client{
		baseURL:     baseURL,
		anonKey:     anonKey,
		sessionFile: sessionFile,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		logger:      logger,
		now:         time.Now,
		subscribers: make(map[string]Handler),
	}, nil
}

// Session returns a copy of the current session, or nil when signed out.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Subscribe registers a change handler and returns an unsubscribe token.
func (c *Client) Subscribe(h Handler) string {
	token := uuid.NewString()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers[token] = h
	return token
}

// Unsubscribe removes the handler registered under token.
func (c *Client) Unsubscribe(token string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subscribers, token)
}

func (c *Client) notify(event Event, s *Session) {
	c.subMu.RLock()
	handlers := make([]Handler, 0, len(c.subscribers))
	for _, h := range c.subscribers {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()
	for _, h := range handlers {
		h(event, s)
	}
}

// SignIn exchanges credentials for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var resp tokenResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.post(ctx, "/token?grant_type=password", body, "", &resp); err != nil {
		return nil, err
	}
	s := c.adopt(resp)
	c.logger.Info("signed in", "user", s.User.ID)
	c.notify(EventSignedIn, c.Session())
	return c.Session(), nil
}

// SignUp registers a new account. When the service requires email
// confirmation it returns no session; the caller signs in after
// confirming.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Session, error) {
	var resp tokenResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.post(ctx, "/signup", body, "", &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		c.logger.Info("signup pending confirmation", "email", email)
		return nil, nil
	}
	c.adopt(resp)
	c.logger.Info("signed up", "user", resp.User.ID)
	c.notify(EventSignedIn, c.Session())
	return c.Session(), nil
}

// SignOut revokes the session remotely and always clears local state.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if c.sessionFile != "" {
		if err := os.Remove(c.sessionFile); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove session file", "error", err)
		}
	}

	var remoteErr error
	if s != nil {
		remoteErr = c.post(ctx, "/logout", nil, s.AccessToken, nil)
	}
	c.logger.Info("signed out")
	c.notify(EventSignedOut, nil)
	return remoteErr
}

// Recover requests a password-reset email.
func (c *Client) Recover(ctx context.Context, email string) error {
	return c.post(ctx, "/recover", map[string]string{"email": email}, "", nil)
}

// Refresh exchanges the refresh token for a new session.
func (c *Client) Refresh(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.session == nil || c.session.RefreshToken == "" {
		c.mu.Unlock()
		return nil, ErrNoSession
	}
	refreshToken := c.session.RefreshToken
	c.mu.Unlock()

	var resp tokenResponse
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.post(ctx, "/token?grant_type=refresh_token", body, "", &resp); err != nil {
		return nil, err
	}
	c.adopt(resp)
	c.logger.Info("session refreshed")
	c.notify(EventTokenRefreshed, c.Session())
	return c.Session(), nil
}

// Restore loads the cached session from disk, refreshing it when
// expired. It returns ErrNoSession when nothing usable is cached.
func (c *Client) Restore(ctx context.Context) (*Session, error) {
	if c.sessionFile == "" {
		return nil, ErrNoSession
	}
	data, err := os.ReadFile(c.sessionFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}

	if s.Valid() {
		c.mu.Lock()
		c.session = &s
		c.mu.Unlock()
		c.notify(EventSignedIn, c.Session())
		return c.Session(), nil
	}

	if s.RefreshToken == "" {
		return nil, ErrNoSession
	}
	var resp tokenResponse
	body := map[string]string{"refresh_token": s.RefreshToken}
	if err := c.post(ctx, "/token?grant_type=refresh_token", body, "", &resp); err != nil {
		return nil, fmt.Errorf("failed to refresh cached session: %w", err)
	}
	c.adopt(resp)
	c.logger.Info("restored session", "user", resp.User.ID)
	c.notify(EventSignedIn, c.Session())
	return c.Session(), nil
}

// adopt installs a token response as the current session and persists
// it. Returns the stored session.
func (c *Client) adopt(resp tokenResponse) *Session {
	s := &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    c.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		User:         resp.User,
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	c.persist(s)
	return s
}

func (c *Client) persist(s *Session) {
	if c.sessionFile == "" {
		return
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		c.logger.Warn("failed to marshal session", "error", err)
		return
	}
	if err := os.WriteFile(c.sessionFile, data, 0o600); err != nil {
		c.logger.Warn("failed to write session file", "error", err)
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// errorResponse covers both error shapes GoTrue responds with.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

func (e errorResponse) text() string {
	switch {
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case e.Msg != "":
		return e.Msg
	default:
		return e.Error
	}
}

// post sends a JSON request to the auth service and decodes the
// response into result when non-nil.
func (c *Client) post(ctx context.Context, path string, body any, bearer string, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.text() != "" {
			return errors.New(apiErr.text())
		}
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(raw))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}
