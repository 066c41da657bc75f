package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	IdempotencyHeader  = "Idempotency-Key"
	defaultSendTimeout = 30 * time.Second
	maxErrorBody       = 512
)

// StatusError is returned by HTTPSender when the server answers non-2xx.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string // first bytes of the response body
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.Code, http.StatusText(e.Code), e.Body)
}

// HTTPSender replays mutations as JSON requests against BaseURL + Path.
// Every replay of a mutation carries the same Idempotency-Key.
type HTTPSender struct {
	BaseURL string
	Client  *http.Client // nil => a client with a 30s timeout
	// Prepare can add credentials or tracing headers.
	Prepare func(*http.Request) error
}

func (s *HTTPSender) Send(ctx context.Context, m Mutation) error {
	var body io.Reader
	if len(m.Payload) > 0 {
		body = bytes.NewReader(m.Payload)
	}
	u := strings.TrimSuffix(s.BaseURL, "/") + m.Path
	req, err := http.NewRequestWithContext(ctx, m.Method, u, body)
	if err != nil {
		return fmt.Errorf("queue: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(IdempotencyHeader, m.IdempotencyKey)
	if s.Prepare != nil {
		if err := s.Prepare(req); err != nil {
			return err
		}
	}

	c := s.Client
	if c == nil {
		c = &http.Client{Timeout: defaultSendTimeout}
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Method: m.Method, URL: u, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}
