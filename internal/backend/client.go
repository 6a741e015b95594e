// Package backend calls the research backend: the streamed /research
// endpoint, conversation retrieval, and document upload. All inference
// and persistence happen on the backend side.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ResearchChat/internal/conversation"
)

// StreamEventType discriminates stream events.
type StreamEventType int

const (
	EventChunk StreamEventType = iota
	EventDone
	EventError
)

// StreamEvent is one item of a streamed research response. Chunk
// carries raw response bytes; a chunk boundary can split a multi-byte
// character, so consumers decode incrementally.
type StreamEvent struct {
	Type  StreamEventType
	Chunk []byte
	Err   error
}

// ErrUnsupportedFile is returned for uploads the backend cannot ingest.
var ErrUnsupportedFile = errors.New("unsupported file type")

// supportedExtensions lists what the backend's text extractor accepts.
var supportedExtensions = []string{".pdf", ".png", ".jpg", ".jpeg", ".txt", ".md"}

// SupportedFile reports whether the file's extension can be uploaded.
func SupportedFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range supportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// HTTPClient is the transport dependency, satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

// Client talks to the research backend over HTTP.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	logger     *slog.Logger
}

// NewClient creates a backend client.
func NewClient(baseURL string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0, // No timeout: responses stream indefinitely
		},
		logger: logger,
	}, nil
}

type researchRequest struct {
	Query          string `json:"query"`
	UserID         string `json:"user_id"`
	ConversationID *int64 `json:"conversation_id"`
}

// Research posts a query and returns the response stream. A
// conversationID of 0 sends null, which makes the backend create a new
// conversation. Non-2xx responses are returned as an error before any
// event is emitted.
func (c *Client) Research(ctx context.Context, query, userID string, conversationID int64) (<-chan StreamEvent, error) {
	reqBody := researchRequest{Query: query, UserID: userID}
	if conversationID != 0 {
		reqBody.ConversationID = &conversationID
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/research", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, errors.New(errorText(resp))
	}

	c.logger.Debug("research stream opened", "conversation", conversationID)
	events := make(chan StreamEvent, 100)
	go c.streamResponse(resp.Body, events)
	return events, nil
}

// streamResponse reads the body in chunks and forwards them as events.
// The channel is closed after a Done or Error event.
func (c *Client) streamResponse(body io.ReadCloser, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			events <- StreamEvent{Type: EventChunk, Chunk: chunk}
		}
		if err != nil {
			if err == io.EOF {
				events <- StreamEvent{Type: EventDone}
			} else {
				events <- StreamEvent{Type: EventError, Err: err}
			}
			return
		}
	}
}

type messageRow struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LoadConversation fetches a conversation's messages in chronological
// order.
func (c *Client) LoadConversation(ctx context.Context, id int64) ([]conversation.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/conversation/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New(errorText(resp))
	}

	var rows []messageRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	messages := make([]conversation.Message, len(rows))
	for i, row := range rows {
		messages[i] = conversation.Message{
			Role:    conversation.Role(row.Role),
			Content: row.Content,
		}
	}
	c.logger.Debug("loaded conversation", "id", id, "messages", len(messages))
	return messages, nil
}

type uploadResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// UploadDocument uploads a file for retrieval-augmented context and
// returns the backend's status message. The file type is validated
// before any request is issued.
func (c *Client) UploadDocument(ctx context.Context, path, userID string) (string, error) {
	if !SupportedFile(path) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	q := url.Values{}
	q.Set("user_id", userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/upload_document?"+q.Encode(), &body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.New(errorText(resp))
	}

	var result uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	c.logger.Info("uploaded document", "file", filepath.Base(path))
	return result.Message, nil
}

// errorText extracts the backend's error detail from a non-2xx
// response, falling back to the raw body and then the status.
func errorText(resp *http.Response) string {
	raw, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(raw, &apiErr) == nil && len(apiErr.Detail) > 0 {
		var detail string
		if json.Unmarshal(apiErr.Detail, &detail) == nil {
			return detail
		}
		return string(apiErr.Detail)
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		return fmt.Sprintf("HTTP error %d: %s", resp.StatusCode, string(raw))
	}
	return fmt.Sprintf("HTTP error %d", resp.StatusCode)
}
