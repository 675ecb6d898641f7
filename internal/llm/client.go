package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/VenkatGGG/shopping-agent/pkg/httpx"
)

const (
	DefaultBaseURL = "https://api.keywordsai.co/api/chat/completions"
	DefaultModel   = "gpt-4o"
)

var (
	ErrEmptyAPIKey     = errors.New("keywords api key is empty")
	ErrInvalidContent  = errors.New("invalid JSON in completion content")
	ErrMissingPromptID = errors.New("prompt id is required")
)

// Completer runs a managed prompt and returns the decoded JSON value the
// model produced. The value is untrusted: callers normalise its shape.
type Completer interface {
	Complete(ctx context.Context, req Request) (any, error)
}

type Request struct {
	PromptID        string
	Variables       map[string]string
	Metadata        map[string]any
	SessionID       string
	UserID          string
	Model           string
	DisableJSONMode bool
}

type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	Timeout         time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
	Debug           bool
}

type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

type chatRequest struct {
	Prompt         *promptSpec     `json:"prompt,omitempty"`
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	CustomerParams map[string]any  `json:"customer_params,omitempty"`
}

type promptSpec struct {
	PromptID  string            `json:"prompt_id"`
	Variables map[string]string `json:"variables"`
	Override  bool              `json:"override"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrEmptyAPIKey
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = 5 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		sleep:  sleepWithContext,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "keywords",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransportError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("circuit breaker state change: name=%s from=%s to=%s", name, from, to)
		},
	})
	return c, nil
}

func (c *Client) Complete(ctx context.Context, req Request) (any, error) {
	if strings.TrimSpace(req.PromptID) == "" {
		return nil, ErrMissingPromptID
	}

	payload := c.buildPayload(req)
	if c.cfg.Debug {
		c.logger.Printf("keywords request: prompt=%s variables=%d", promptName(req.PromptID), len(req.Variables))
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.post(ctx, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("keywords %s: %w", promptName(req.PromptID), err)
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode keywords response: %w", err)
	}

	content := "{}"
	if len(decoded.Choices) > 0 && decoded.Choices[0].Message.Content != nil {
		content = *decoded.Choices[0].Message.Content
	}

	value, err := DecodeContent(content)
	if err != nil {
		c.logger.Printf("keywords returned undecodable content: prompt=%s content=%q", promptName(req.PromptID), trimSnippet(content, 200))
		return nil, err
	}
	if c.cfg.Debug {
		c.logger.Printf("keywords response: prompt=%s content=%s", promptName(req.PromptID), trimSnippet(content, 400))
	}
	return value, nil
}

func (c *Client) buildPayload(req Request) chatRequest {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.cfg.Model
	}
	variables := req.Variables
	if variables == nil {
		variables = map[string]string{}
	}

	payload := chatRequest{
		Prompt: &promptSpec{
			PromptID:  req.PromptID,
			Variables: variables,
			Override:  true,
		},
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: "placeholder"}},
	}
	if !req.DisableJSONMode {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	customer := map[string]any{}
	if strings.TrimSpace(req.UserID) != "" {
		customer["customer_identifier"] = req.UserID
	}
	if len(req.Metadata) > 0 || strings.TrimSpace(req.SessionID) != "" {
		metadata := make(map[string]any, len(req.Metadata)+1)
		for key, value := range req.Metadata {
			metadata[key] = value
		}
		if strings.TrimSpace(req.SessionID) != "" {
			metadata["session_id"] = req.SessionID
		}
		customer["metadata"] = metadata
	}
	if len(customer) > 0 {
		payload.CustomerParams = customer
	}
	return payload
}

// post retries only when no HTTP response came back. Any status code, good
// or bad, is final.
func (c *Client) post(ctx context.Context, payload chatRequest) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, err := httpx.DoJSON(ctx, c.http, http.MethodPost, c.cfg.BaseURL, c.cfg.APIKey, payload)
		if err == nil {
			if statusErr := resp.Expect(http.StatusOK); statusErr != nil {
				c.logger.Printf("keywords error: %v", statusErr)
				return nil, statusErr
			}
			return resp.Body, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isRetriableError(err) || attempt == c.cfg.MaxRetries {
			break
		}
		delay := c.retryDelay(attempt + 1)
		c.logger.Printf("keywords transport error, retrying: attempt=%d delay=%s err=%v", attempt+1, delay, err)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, lastErr
}

func (c *Client) retryDelay(attempt int) time.Duration {
	exponent := math.Max(0, float64(attempt-1))
	delay := float64(c.cfg.RetryBaseDelay) * math.Pow(2, exponent)
	if delay > float64(c.cfg.RetryMaxDelay) {
		delay = float64(c.cfg.RetryMaxDelay)
	}
	return time.Duration(delay)
}

// DecodeContent turns completion text into a JSON value. Markdown code
// fences are tolerated; anything else that is not JSON is an error.
func DecodeContent(content string) (any, error) {
	trimmed := stripCodeFence(content)
	value, err := decodeJSON(trimmed)
	if err == nil {
		return value, nil
	}
	if object := extractJSONObject(trimmed); object != trimmed {
		if value, objErr := decodeJSON(object); objErr == nil {
			return value, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
}

func decodeJSON(text string) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader([]byte(text)))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if decoder.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return value, nil
}

func stripCodeFence(value string) string {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

func extractJSONObject(value string) string {
	start := strings.Index(value, "{")
	end := strings.LastIndex(value, "}")
	if start >= 0 && end > start {
		return strings.TrimSpace(value[start : end+1])
	}
	return value
}

func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *httpx.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	signals := []string{
		"timeout",
		"temporarily",
		"connection refused",
		"connection reset",
		"no such host",
		"dial tcp",
		"eof",
	}
	for _, signal := range signals {
		if strings.Contains(msg, signal) {
			return true
		}
	}
	return false
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func trimSnippet(value string, max int) string {
	value = strings.TrimSpace(value)
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max] + "..."
}
