// Package store reads and deletes conversation rows through the
// external PostgREST service. The remote tables are the source of
// truth; nothing here writes conversation content.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ResearchChat/internal/conversation"
)

// HTTPClient is the transport dependency, satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

// Client talks to the PostgREST REST API.
type Client struct {
	baseURL    string
	anonKey    string
	token      func() string
	limit      int
	httpClient HTTPClient
	logger     *slog.Logger
}

// NewClient creates a store client. baseURL is the PostgREST root
// (.../rest/v1); token supplies the caller's current access token and
// may return empty when signed out.
func NewClient(baseURL, anonKey string, limit int, token func() string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if token == nil {
		return nil, fmt.Errorf("token source cannot be nil")
	}
	return &Client{
		baseURL:    baseURL,
		anonKey:    anonKey,
		token:      token,
		limit:      limit,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}, nil
}

type summaryRow struct {
	ID        int64  `json:"id"`
	QueryText string `json:"query_text"`
	CreatedAt string `json:"created_at"`
}

// Summaries fetches the user's newest conversations, newest first,
// capped at the configured display limit.
func (c *Client) Summaries(ctx context.Context, userID string) ([]conversation.Summary, error) {
	q := url.Values{}
	q.Set("select", "id,query_text,created_at")
	q.Set("user_id", "eq."+userID)
	q.Set("order", "created_at.desc")
	q.Set("limit", strconv.Itoa(c.limit))

	var rows []summaryRow
	if err := c.do(ctx, http.MethodGet, "/conversations?"+q.Encode(), &rows); err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}

	summaries := make([]conversation.Summary, len(rows))
	for i, row := range rows {
		summaries[i] = conversation.Summary{
			ID:        row.ID,
			QueryText: row.QueryText,
			CreatedAt: parseTimestamp(row.CreatedAt),
		}
	}
	c.logger.Debug("fetched conversation summaries", "user", userID, "count", len(summaries))
	return summaries, nil
}

// DeleteMessages removes all message rows of a conversation.
func (c *Client) DeleteMessages(ctx context.Context, conversationID int64) error {
	q := url.Values{}
	q.Set("conversation_id", "eq."+strconv.FormatInt(conversationID, 10))
	if err := c.do(ctx, http.MethodDelete, "/messages?"+q.Encode(), nil); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// DeleteConversation removes the conversation row itself. Callers
// delete the messages first.
func (c *Client) DeleteConversation(ctx context.Context, conversationID int64) error {
	q := url.Values{}
	q.Set("id", "eq."+strconv.FormatInt(conversationID, 10))
	if err := c.do(ctx, http.MethodDelete, "/conversations?"+q.Encode(), nil); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// errorResponse is the PostgREST error body.
type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (c *Client) do(ctx context.Context, method, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if t := c.token(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return errors.New(apiErr.Message)
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

// parseTimestamp accepts the timestamp variants PostgREST emits. An
// unparseable value yields the zero time rather than failing the fetch.
func parseTimestamp(s string) time.Time {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
