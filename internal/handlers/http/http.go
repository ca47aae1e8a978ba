package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTP probes an endpoint. The caller's context carries the deadline.
type HTTP struct {
	Client *http.Client
}

type Request struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	// Expect is the required status code. Zero accepts anything below 400.
	Expect int `json:"expect"`
}

func (h HTTP) Handle(ctx context.Context, payload json.RawMessage) error {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("invalid HTTP request payload: %w", err)
	}
	if req.URL == "" {
		return fmt.Errorf("url is required")
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	var body io.Reader
	if req.Body != "" {
		body = bytes.NewReader([]byte(req.Body))
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case req.Expect != 0 && resp.StatusCode != req.Expect:
		return fmt.Errorf("%s %s: status %d, want %d", req.Method, req.URL, resp.StatusCode, req.Expect)
	case req.Expect == 0 && resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL, resp.StatusCode)
	}
	return nil
}
