// Package client provides an HTTP client for the batch processing server.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/raphaelgruber/batchwatch/internal/metrics"
	"github.com/raphaelgruber/batchwatch/internal/models"
)

const (
	// DefaultBaseURL is used when neither an explicit URL nor BATCHWATCH_SERVER_URL is set.
	DefaultBaseURL = "http://localhost:8585/api"

	// FormField is the multipart field every submitted file is sent under.
	FormField = "files"

	submitPath   = "/upload"
	progressPath = "/upload/progress/"

	// DefaultTimeout bounds a whole request on the default HTTP client. Large
	// uploads stream through the same client, so it is generous; callers that
	// need another bound pass their own client with WithHTTPClient.
	DefaultTimeout = 10 * time.Minute

	// maxErrorBody caps how much of an error response is kept for messages.
	maxErrorBody = 4 << 10
)

// Client talks to the submission and progress endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records submit and poll timings into m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a new client.
// If baseURL is empty, uses BATCHWATCH_SERVER_URL or DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("BATCHWATCH_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Submit sends every file in one multipart request and returns the session handle.
// An empty files slice is rejected with ErrNoFiles before any network traffic.
// All other failures are returned as *SubmissionError.
func (c *Client) Submit(ctx context.Context, files []models.File) (*models.SessionHandle, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	start := time.Now()
	handle, err := c.submit(ctx, files)
	c.metrics.Record(metrics.OpSubmit, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	c.logger.Info("batch submitted", "session_id", handle.SessionID, "files", len(files))
	return handle, nil
}

func (c *Client) submit(ctx context.Context, files []models.File) (*models.SessionHandle, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(mw, files))
	}()
	defer pr.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, pr)
	if err != nil {
		return nil, &SubmissionError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SubmissionError{Err: fmt.Errorf("execute request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SubmissionError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &SubmissionError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	var handle models.SessionHandle
	if err := sonic.Unmarshal(body, &handle); err != nil {
		return nil, &SubmissionError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if handle.SessionID == "" {
		return nil, &SubmissionError{StatusCode: resp.StatusCode, Message: "response missing sessionId"}
	}
	return &handle, nil
}

// writeParts streams every file into the multipart writer and closes it.
func writeParts(mw *multipart.Writer, files []models.File) error {
	for _, f := range files {
		if err := writePart(mw, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writePart(mw *multipart.Writer, f models.File) error {
	if f.Open == nil {
		return fmt.Errorf("file %q has no content", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	part, err := mw.CreateFormFile(FormField, f.Name)
	if err != nil {
		return fmt.Errorf("create part for %s: %w", f.Name, err)
	}
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("copy %s: %w", f.Name, err)
	}
	return nil
}

// =============================================================================
// PROGRESS
// =============================================================================

// GetProgress fetches the complete progress snapshot for a session.
// Returns ErrSessionNotFound (wrapped) when the server does not know the session.
func (c *Client) GetProgress(ctx context.Context, sessionID string) (*models.UploadProgress, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("get progress: empty session id")
	}

	start := time.Now()
	p, err := c.getProgress(ctx, sessionID)
	c.metrics.Record(metrics.OpPoll, time.Since(start), err)
	return p, err
}

func (c *Client) getProgress(ctx context.Context, sessionID string) (*models.UploadProgress, error) {
	endpoint := c.baseURL + progressPath + url.PathEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	case resp.StatusCode != http.StatusOK:
		msg := errorMessage(body)
		if msg == "" {
			return nil, fmt.Errorf("server error: %s", resp.Status)
		}
		return nil, fmt.Errorf("server error: %s - %s", resp.Status, msg)
	}

	var p models.UploadProgress
	if err := sonic.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if p.SessionID == "" {
		p.SessionID = sessionID
	}
	return &p, nil
}

// errorMessage extracts the optional "message" field from an error body,
// falling back to the trimmed raw body.
func errorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := sonic.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}
