package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const DefaultBaseURL = "http://127.0.0.1:9222"

const (
	defaultCallTimeout = 20 * time.Second
	defaultWaitTimeout = 12 * time.Second
	pollInterval       = 150 * time.Millisecond
)

var ErrNotFound = errors.New("element not found")

// Client speaks the DevTools protocol to a single page target. Calls are
// serialised; the page is owned by one run at a time.
type Client struct {
	conn      *websocket.Conn
	baseURL   string
	idCounter int64
	mu        sync.Mutex
	enabled   map[string]bool
}

type targetResponse struct {
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

type envelope struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *responseError  `json:"error,omitempty"`
}

type responseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Dial attaches to the first page target of the browser whose HTTP debugging
// endpoint is baseURL.
func Dial(ctx context.Context, baseURL string) (*Client, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimmed+"/json/list", nil)
	if err != nil {
		return nil, fmt.Errorf("build target request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query cdp target endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cdp target endpoint returned status %d", resp.StatusCode)
	}

	var targets []targetResponse
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("decode cdp target response: %w", err)
	}

	var pageSocketURL string
	for _, target := range targets {
		if target.Type == "page" && strings.TrimSpace(target.WebSocketDebuggerURL) != "" {
			pageSocketURL = target.WebSocketDebuggerURL
			break
		}
	}
	if pageSocketURL == "" {
		return nil, errors.New("no page target websocket found")
	}

	conn, _, err := websocket.Dial(ctx, pageSocketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial cdp websocket: %w", err)
	}
	conn.SetReadLimit(32 << 20)

	return &Client{conn: conn, baseURL: trimmed, enabled: map[string]bool{}}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "closing")
}

// Navigate loads targetURL. Chrome reports network failures in errorText
// rather than as a protocol error.
func (c *Client) Navigate(ctx context.Context, targetURL string) error {
	if err := c.enable(ctx, "Page"); err != nil {
		return err
	}
	var response struct {
		ErrorText string `json:"errorText"`
	}
	if err := c.Call(ctx, "Page.navigate", map[string]any{"url": targetURL}, &response); err != nil {
		return err
	}
	if response.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", targetURL, response.ErrorText)
	}
	return nil
}

// WaitForLoad polls document.readyState until the page has finished loading.
func (c *Client) WaitForLoad(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	return c.poll(ctx, timeout, `document.readyState === "complete"`, "page load")
}

func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	return c.EvaluateString(ctx, `String(window.location.href || "")`)
}

func (c *Client) CaptureScreenshot(ctx context.Context) (string, error) {
	if err := c.enable(ctx, "Page"); err != nil {
		return "", err
	}
	var response struct {
		Data string `json:"data"`
	}
	if err := c.Call(ctx, "Page.captureScreenshot", map[string]any{"format": "png"}, &response); err != nil {
		return "", err
	}
	return response.Data, nil
}

func (c *Client) EvaluateString(ctx context.Context, expression string) (string, error) {
	value, err := c.EvaluateAny(ctx, expression)
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	return fmt.Sprint(value), nil
}

func (c *Client) EvaluateAny(ctx context.Context, expression string) (any, error) {
	var response struct {
		Result struct {
			Value any `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := c.evaluate(ctx, expression, &response); err != nil {
		return nil, err
	}
	if response.ExceptionDetails != nil {
		return nil, fmt.Errorf("evaluate: %s", response.ExceptionDetails.Text)
	}
	return response.Result.Value, nil
}

// EvaluateInto runs expression and decodes its JSON-compatible result.
func (c *Client) EvaluateInto(ctx context.Context, expression string, out any) error {
	var response struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := c.evaluate(ctx, expression, &response); err != nil {
		return err
	}
	if response.ExceptionDetails != nil {
		return fmt.Errorf("evaluate: %s", response.ExceptionDetails.Text)
	}
	if len(response.Result.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(response.Result.Value, out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

func (c *Client) evaluate(ctx context.Context, expression string, out any) error {
	if err := c.enable(ctx, "Runtime"); err != nil {
		return err
	}
	return c.Call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	}, out)
}

func (c *Client) enable(ctx context.Context, domain string) error {
	c.mu.Lock()
	done := c.enabled[domain]
	c.mu.Unlock()
	if done {
		return nil
	}
	if err := c.Call(ctx, domain+".enable", nil, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.enabled[domain] = true
	c.mu.Unlock()
	return nil
}

func (c *Client) poll(ctx context.Context, timeout time.Duration, expression, what string) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		value, err := c.EvaluateAny(waitCtx, expression)
		if err != nil && waitCtx.Err() == nil {
			return err
		}
		if ok, _ := value.(bool); ok {
			return nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("timeout waiting for %s", what)
		case <-time.After(pollInterval):
		}
	}
}

// Call sends one protocol command and waits for its response, skipping
// events and responses to other ids.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.idCounter++
	requestID := c.idCounter

	payload := map[string]any{
		"id":     requestID,
		"method": method,
	}
	if params != nil {
		payload["params"] = params
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode cdp request: %w", err)
	}

	deadline := time.Now().Add(defaultCallTimeout)
	if explicit, ok := ctx.Deadline(); ok && explicit.Before(deadline) {
		deadline = explicit
	}
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if err := c.conn.Write(callCtx, websocket.MessageText, raw); err != nil {
		return fmt.Errorf("write cdp request: %w", err)
	}

	for {
		_, message, err := c.conn.Read(callCtx)
		if err != nil {
			return fmt.Errorf("read cdp response: %w", err)
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil || env.ID != requestID {
			continue
		}
		if env.Error != nil {
			return fmt.Errorf("cdp %s failed (%d): %s", method, env.Error.Code, env.Error.Message)
		}
		if out != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, out); err != nil {
				return fmt.Errorf("decode %s response: %w", method, err)
			}
		}
		return nil
	}
}
