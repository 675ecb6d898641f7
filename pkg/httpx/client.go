package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxResponseBytes = 4 << 20

// StatusError is returned when a peer answers with a status the caller did not expect.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

type Response struct {
	StatusCode int
	Body       []byte
}

// Expect returns a *StatusError unless the response code is one of codes.
// With no codes any 2xx is accepted.
func (r Response) Expect(codes ...int) error {
	if len(codes) == 0 {
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			return nil
		}
	}
	for _, code := range codes {
		if r.StatusCode == code {
			return nil
		}
	}
	return &StatusError{Code: r.StatusCode, Body: trimBody(r.Body, 2048)}
}

func (r Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// DoJSON sends payload (when non-nil) as a JSON body with an optional bearer
// token. Only transport failures are returned as errors; status handling is
// left to the caller through Response.Expect.
func DoJSON(ctx context.Context, client *http.Client, method, url, bearer string, payload any) (Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Response{}, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := strings.TrimSpace(bearer); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

func trimBody(body []byte, max int) string {
	text := strings.TrimSpace(string(body))
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
