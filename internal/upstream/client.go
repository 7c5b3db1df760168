// ABOUTME: HTTP client for the upstream workflow API and the chat session endpoint
// ABOUTME: Opens streaming runs, performs blocking runs and mints client secrets

package upstream

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

	"github.com/tidwall/gjson"
)

// DefaultAPIBase is used when no base URL is configured.
const DefaultAPIBase = "https://api.openai.com"

const (
	responsesPath = "/v1/responses"
	sessionsPath  = "/v1/chatkit/sessions"

	// maxErrorBody bounds how much of a failed response is kept.
	maxErrorBody = 4096
)

// ErrTransport is wrapped by every failure to reach or read the upstream.
var ErrTransport = errors.New("upstream transport error")

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("upstream not configured")

// ErrMissingSecret is returned when a session response has no client secret.
var ErrMissingSecret = errors.New("missing client secret in response")

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap lets errors.Is(err, ErrTransport) match status failures.
func (e *StatusError) Unwrap() error {
	return ErrTransport
}

// Message extracts a human readable error from the response body.
// JSON bodies shaped {"error":"..."} or {"error":{"message":"..."}} are understood.
func (e *StatusError) Message() string {
	if gjson.Valid(e.Body) {
		errField := gjson.Get(e.Body, "error")
		if errField.Type == gjson.String && errField.String() != "" {
			return errField.String()
		}
		if msg := errField.Get("message").String(); msg != "" {
			return msg
		}
	}
	if e.Body != "" {
		return e.Body
	}
	return http.StatusText(e.StatusCode)
}

// Request describes one workflow run.
type Request struct {
	Workflow string `json:"workflow"`
	Input    string `json:"input"`
	Stream   bool   `json:"stream"`
	Version  string `json:"version,omitempty"`
}

// Config holds client settings.
type Config struct {
	APIBase string
	APIKey  string
	// Timeout bounds blocking calls. Streams are bounded by their context only.
	Timeout time.Duration
}

// Client talks to the upstream API.
type Client struct {
	apiBase    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. A nil httpClient uses a default client without
// an overall timeout so long streams are not cut off.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = DefaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiBase:    base,
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger.With("component", "upstream"),
	}
}

// Configured reports whether the client has credentials.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Stream is an open streaming response.
type Stream struct {
	body   io.ReadCloser
	reader *Reader
}

// Next returns the next delta, io.EOF at the end.
// Read failures are wrapped with ErrTransport.
func (s *Stream) Next() (Delta, error) {
	d, err := s.reader.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		return Delta{}, fmt.Errorf("%w: reading stream: %w", ErrTransport, err)
	}
	return d, err
}

// Malformed returns the number of dropped frames.
func (s *Stream) Malformed() int {
	return s.reader.Malformed()
}

// Close releases the response body. Safe to call more than once.
func (s *Stream) Close() error {
	return s.body.Close()
}

// Stream starts a streaming run. Cancelling ctx aborts the request and
// unblocks any pending Next.
func (c *Client) Stream(ctx context.Context, req Request) (*Stream, error) {
	req.Stream = true
	resp, err := c.post(ctx, responsesPath, req, map[string]string{"Accept": "text/event-stream"})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("upstream stream opened", "workflow", req.Workflow)
	return &Stream{body: resp.Body, reader: NewReader(resp.Body)}, nil
}

// Complete performs a blocking run and returns the extracted reply text.
// An empty string means the response carried no text.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req.Stream = false
	resp, err := c.post(ctx, responsesPath, req, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}
	return ExtractOutputText(body), nil
}

// ExtractOutputText pulls reply text from a Responses API body. The
// top-level output_text wins; otherwise text parts under output[].content[]
// are concatenated.
func ExtractOutputText(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	doc := gjson.ParseBytes(body)

	if ot := doc.Get("output_text"); ot.Type == gjson.String && ot.String() != "" {
		return ot.String()
	}

	var b strings.Builder
	doc.Get("output").ForEach(func(_, item gjson.Result) bool {
		item.Get("content").ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "output_text", "text":
				if t := part.Get("text"); t.Type == gjson.String {
					b.WriteString(t.String())
				}
			}
			return true
		})
		return true
	})
	return b.String()
}

// Session is the result of a chat session exchange.
type Session struct {
	ClientSecret string          `json:"client_secret"`
	ExpiresAfter json.RawMessage `json:"expires_after,omitempty"`
}

type sessionRequest struct {
	Workflow struct {
		ID string `json:"id"`
	} `json:"workflow"`
	User string `json:"user"`
}

// CreateSession exchanges a workflow id for a short-lived client secret.
func (c *Client) CreateSession(ctx context.Context, workflowID, user string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var body sessionRequest
	body.Workflow.ID = workflowID
	body.User = user

	resp, err := c.post(ctx, sessionsPath, body, map[string]string{"OpenAI-Beta": "chatkit_beta=v1"})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading session response: %v", ErrTransport, err)
	}

	secret := gjson.GetBytes(raw, "client_secret")
	if secret.Type != gjson.String || secret.String() == "" {
		return nil, ErrMissingSecret
	}

	session := &Session{ClientSecret: secret.String()}
	if exp := gjson.GetBytes(raw, "expires_after"); exp.Exists() {
		session.ExpiresAfter = json.RawMessage(exp.Raw)
	}

	c.logger.Info("chat session created", "workflow", workflowID)
	return session, nil
}

// post sends a JSON body and returns the response when it is 2xx.
// The caller owns the body.
func (c *Client) post(ctx context.Context, path string, payload any, headers map[string]string) (*http.Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("upstream returned error status",
			"path", path,
			"status", resp.StatusCode)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return resp, nil
}
