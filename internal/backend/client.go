// Package backend is the HTTP client for the chat inference endpoint.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/chatwidget/internal/domain"
)

// ErrEmptyReply is returned when the endpoint answers 2xx without a reply.
var ErrEmptyReply = errors.New("backend returned an empty reply")

// maxResponseBytes caps how much of a reply body is read.
const maxResponseBytes = 1 << 20

// Reply is a successful answer from the endpoint.
type Reply struct {
	Text    string
	Sources []domain.Source
}

// Chatter sends one user message and returns the model's reply.
type Chatter interface {
	Chat(ctx context.Context, message, model string) (Reply, error)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Body)
}

// Client posts {message, model} to a single URL.
type Client struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a client for url. A zero timeout leaves requests bounded
// only by their context.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type chatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model"`
}

type chatResponse struct {
	Reply   string     `json:"reply"`
	Sources sourceList `json:"sources"`
}

// sourceList accepts both [{"url": "..."}] and ["..."].
type sourceList []domain.Source

func (s *sourceList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// null or a non-array value carries no sources
		*s = nil
		return nil
	}
	out := make(sourceList, 0, len(raw))
	for _, item := range raw {
		var src domain.Source
		if err := json.Unmarshal(item, &src); err == nil && src.URL != "" {
			out = append(out, src)
			continue
		}
		var url string
		if err := json.Unmarshal(item, &url); err == nil && url != "" {
			out = append(out, domain.Source{URL: url})
		}
	}
	*s = out
	return nil
}

// Chat implements Chatter.
func (c *Client) Chat(ctx context.Context, message, model string) (Reply, error) {
	body, err := json.Marshal(chatRequest{Message: message, Model: model})
	if err != nil {
		return Reply{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("creating request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("calling backend: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Reply{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var decoded chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return Reply{}, fmt.Errorf("decoding response: %w", err)
	}
	if decoded.Reply == "" {
		return Reply{}, ErrEmptyReply
	}

	c.logger.Debug("backend reply received",
		"request_id", requestID,
		"model", model,
		"reply_len", len(decoded.Reply),
		"sources", len(decoded.Sources),
		"duration", time.Since(start),
	)
	return Reply{Text: decoded.Reply, Sources: []domain.Source(decoded.Sources)}, nil
}
