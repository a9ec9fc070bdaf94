package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type client struct {
	baseURL string
	http    *http.Client
	retries int
	backoff time.Duration
	out     io.Writer
}

type apiError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server answered %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newClient(baseURL string, timeout time.Duration, retries int, out io.Writer) *client {
	if retries < 0 {
		retries = 0
	}
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		retries: retries,
		backoff: 500 * time.Millisecond,
		out:     out,
	}
}

func (c *client) get(ctx context.Context, path string, params map[string]string) error {
	return c.do(ctx, http.MethodGet, path, params, nil, "")
}

// post sends a POST request. Requests carrying an idempotency key are retried
// on transport errors and 503 answers with the same key.
func (c *client) post(ctx context.Context, path string, params map[string]string, body interface{}, requestID string) error {
	attempts := 1
	if requestID != "" {
		attempts += c.retries
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
		err = c.do(ctx, http.MethodPost, path, params, body, requestID)
		if !retryable(err) {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusServiceUnavailable
	}
	return !errors.Is(err, context.Canceled)
}

func (c *client) do(ctx context.Context, method, path string, params map[string]string, body interface{}, requestID string) error {
	target, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	query := target.Query()
	for key, value := range params {
		query.Set(key, value)
	}
	target.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set("Idempotency-Key", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	return c.print(data)
}

func (c *client) print(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		_, err = c.out.Write(data)
		return err
	}
	pretty.WriteByte('\n')
	_, err := c.out.Write(pretty.Bytes())
	return err
}
