package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("apikey"); got != "anon-key" {
			t.Errorf("apikey header = %q, want %q", got, "anon-key")
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		switch r.URL.Query().Get("grant_type") {
		case "password":
			if body["password"] != "secret" {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{
					"error":             "invalid_grant",
					"error_description": "Invalid login credentials",
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "at-1",
				"refresh_token": "rt-1",
				"expires_in":    3600,
				"user":          map[string]string{"id": "user-1", "email": body["email"]},
			})
		case "refresh_token":
			if body["refresh_token"] == "" {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"msg": "refresh_token required"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "at-2",
				"refresh_token": "rt-2",
				"expires_in":    3600,
				"user":          map[string]string{"id": "user-1", "email": "u@example.com"},
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/signup", func(w http.ResponseWriter, r *http.Request) {
		// Confirmation required: user object, no tokens.
		json.NewEncoder(w).Encode(map[string]any{
			"id": "user-2", "email": "new@example.com",
		})
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			t.Errorf("Authorization header = %q, want %q", got, "Bearer at-1")
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/recover", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	file := filepath.Join(t.TempDir(), "session.json")
	c, err := NewClient(srv.URL, "anon-key", file, discardLogger())
	require.NoError(t, err)
	return c
}

func TestSignIn(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)

	var events []Event
	c.Subscribe(func(e Event, s *Session) { events = append(events, e) })

	s, err := c.SignIn(context.Background(), "u@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "at-1", s.AccessToken)
	assert.Equal(t, "user-1", s.User.ID)
	assert.True(t, s.Valid())

	require.Len(t, events, 1)
	assert.Equal(t, EventSignedIn, events[0])

	got := c.Session()
	require.NotNil(t, got)
	assert.Equal(t, "u@example.com", got.User.Email)
}

func TestSignInBadCredentials(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)

	_, err := c.SignIn(context.Background(), "u@example.com", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid login credentials")
	assert.Nil(t, c.Session())
}

func TestSignUpPendingConfirmation(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)

	called := false
	c.Subscribe(func(Event, *Session) { called = true })

	s, err := c.SignUp(context.Background(), "new@example.com", "secret")
	require.NoError(t, err)
	assert.Nil(t, s, "confirmation-pending signup returns no session")
	assert.False(t, called, "no event without a session")
}

func TestSignOutClearsStateAndFile(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)

	_, err := c.SignIn(context.Background(), "u@example.com", "secret")
	require.NoError(t, err)
	_, statErr := os.Stat(c.sessionFile)
	require.NoError(t, statErr, "session file written on sign-in")

	var events []Event
	c.Subscribe(func(e Event, s *Session) {
		events = append(events, e)
		if e == EventSignedOut && s != nil {
			t.Error("SignedOut event carries a session")
		}
	})

	require.NoError(t, c.SignOut(context.Background()))
	assert.Nil(t, c.Session())
	_, statErr = os.Stat(c.sessionFile)
	assert.True(t, os.IsNotExist(statErr), "session file removed on sign-out")
	require.Len(t, events, 1)
	assert.Equal(t, EventSignedOut, events[0])
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)

	count := 0
	token := c.Subscribe(func(Event, *Session) { count++ })

	_, err := c.SignIn(context.Background(), "u@example.com", "secret")
	require.NoError(t, err)
	c.Unsubscribe(token)
	_, err = c.SignIn(context.Background(), "u@example.com", "secret")
	require.NoError(t, err)

	assert.Equal(t, 1, count, "handler fired after unsubscribe")
}

func TestRestoreValidSession(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)

	cached := Session{
		AccessToken:  "at-cached",
		RefreshToken: "rt-cached",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         User{ID: "user-1", Email: "u@example.com"},
	}
	data, _ := json.Marshal(cached)
	require.NoError(t, os.WriteFile(c.sessionFile, data, 0o600))

	s, err := c.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-cached", s.AccessToken)
}

func TestRestoreExpiredSessionRefreshes(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)

	cached := Session{
		AccessToken:  "at-stale",
		RefreshToken: "rt-stale",
		ExpiresAt:    time.Now().Add(-time.Hour),
		User:         User{ID: "user-1"},
	}
	data, _ := json.Marshal(cached)
	require.NoError(t, os.WriteFile(c.sessionFile, data, 0o600))

	s, err := c.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-2", s.AccessToken, "expired session exchanged for a fresh one")
}

func TestRestoreNoFile(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)

	_, err := c.Restore(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRecover(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)

	if err := c.Recover(context.Background(), "u@example.com"); err != nil {
		t.Errorf("Recover() = %v, want nil", err)
	}
}

func TestErrorResponseText(t *testing.T) {
	tests := []struct {
		name string
		resp errorResponse
		want string
	}{
		{"description preferred", errorResponse{Error: "invalid_grant", ErrorDescription: "bad creds"}, "bad creds"},
		{"msg fallback", errorResponse{Msg: "over quota"}, "over quota"},
		{"error last resort", errorResponse{Error: "invalid_grant"}, "invalid_grant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.resp.text(); got != tt.want {
				t.Errorf("text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionValid(t *testing.T) {
	if (&Session{}).Valid() {
		t.Error("empty session reported valid")
	}
	s := &Session{AccessToken: "t", ExpiresAt: time.Now().Add(10 * time.Second)}
	if s.Valid() {
		t.Error("session expiring within skew window reported valid")
	}
	s.ExpiresAt = time.Now().Add(time.Hour)
	if !s.Valid() {
		t.Error("fresh session reported invalid")
	}
	var nilSession *Session
	if nilSession.Valid() {
		t.Error("nil session reported valid")
	}
}
