package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSink posts records as JSON to a list ingest endpoint at
// <base>/api/lists/<name>/items.
type HTTPSink struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// HTTPSinkOption customizes an HTTPSink.
type HTTPSinkOption func(*HTTPSink)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) HTTPSinkOption {
	return func(s *HTTPSink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) HTTPSinkOption {
	return func(s *HTTPSink) {
		s.apiKey = key
	}
}

// NewHTTPSink creates a sink for the list name on the server at base.
func NewHTTPSink(base, name string, opts ...HTTPSinkOption) (*HTTPSink, error) {
	if !ValidSinkName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSinkName, name)
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sink locator: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported sink locator scheme %q", u.Scheme)
	}
	u = u.JoinPath("api", "lists", name, "items")

	s := &HTTPSink{
		endpoint: u.String(),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Endpoint returns the URL records are posted to.
func (s *HTTPSink) Endpoint() string {
	return s.endpoint
}

// AddRecord posts r. Any non-2xx answer is an error.
func (s *HTTPSink) AddRecord(ctx context.Context, r Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post record: %w", err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sink answered %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
