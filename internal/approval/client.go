package approval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VenkatGGG/shopping-agent/internal/cart"
	"github.com/VenkatGGG/shopping-agent/internal/plan"
	"github.com/VenkatGGG/shopping-agent/internal/validate"
	"github.com/VenkatGGG/shopping-agent/pkg/httpx"
)

const DefaultBaseURL = "https://fortunate-tern-109.convex.site/api/v1"

var ErrEmptyAPIKey = errors.New("paytato api key is required")

// Intent statuses after which credentials will never be released.
var terminalStatuses = map[string]bool{
	"rejected":  true,
	"cancelled": true,
	"failed":    true,
	"expired":   true,
}

type Config struct {
	BaseURL    string
	APIKey     string
	PrivateKey string
	Timeout    time.Duration
}

// Client talks to the Paytato agent API. It remembers the run started by
// StartRun and attaches it to later intents.
type Client struct {
	baseURL    string
	apiKey     string
	privateKey string
	httpClient *http.Client
	logger     *log.Logger

	runID string

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

type Run struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

type IntentItem struct {
	Name           string `json:"name"`
	Qty            int64  `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Currency       string `json:"currency"`
	SKU            string `json:"sku"`
}

type Merchant struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

type Constraints struct {
	MaxAmountCents    int64 `json:"max_amount_cents"`
	MustMatchCurrency bool  `json:"must_match_currency"`
}

type IntentRequest struct {
	IntentID         string       `json:"intent_id"`
	Items            []IntentItem `json:"items"`
	TotalAmountCents int64        `json:"total_amount_cents"`
	Currency         string       `json:"currency"`
	PaymentLink      string       `json:"payment_link"`
	PaymentLinkType  string       `json:"payment_link_type"`
	Merchant         Merchant     `json:"merchant"`
	RunID            string       `json:"run_id,omitempty"`
	Constraints      *Constraints `json:"constraints,omitempty"`
}

type SubmitResult struct {
	IntentID    string `json:"intentId"`
	Status      string `json:"status"`
	IsDuplicate bool   `json:"isDuplicate"`
}

type Intent struct {
	IntentID    string `json:"intentId"`
	Status      string `json:"status"`
	ErrorReason string `json:"error_reason"`
}

type Credentials struct {
	Ready                  bool                    `json:"ready"`
	EncryptedPaymentMethod *EncryptedPaymentMethod `json:"encryptedPaymentMethod"`
}

// Completion is the metadata reported when an intent is completed.
type Completion struct {
	Success            bool    `json:"success"`
	ConfirmationNumber *string `json:"confirmation_number"`
	ReceiptURL         *string `json:"receipt_url"`
	ErrorMessage       *string `json:"error_message"`
}

func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrEmptyAPIKey
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		privateKey: strings.TrimSpace(cfg.PrivateKey),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
	}, nil
}

func (c *Client) RunID() string {
	return c.runID
}

// CanDecrypt reports whether a private key is configured.
func (c *Client) CanDecrypt() bool {
	return c.privateKey != ""
}

// StartRun opens an agent run. With force set, any active run is abandoned.
func (c *Client) StartRun(ctx context.Context, runID string, force bool) (Run, error) {
	payload := map[string]any{"force": force}
	if runID != "" {
		payload["run_id"] = runID
	}
	var run Run
	if err := c.call(ctx, http.MethodPost, "/agent-runs/start", payload, &run); err != nil {
		return Run{}, fmt.Errorf("start run: %w", err)
	}
	c.runID = run.RunID
	c.logger.Printf("paytato run started: run_id=%s status=%s", run.RunID, run.Status)
	return run, nil
}

// NewIntentID returns "intent_" followed by 16 hex characters.
func NewIntentID() string {
	return "intent_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// BuildIntent maps a cart onto the intent payload. The budget becomes an
// amount constraint when the plan sets one.
func BuildIntent(p plan.ShoppingPlan, c cart.Cart, intentID, runID string) IntentRequest {
	items := make([]IntentItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, IntentItem{
			Name:           item.Title,
			Qty:            item.Quantity,
			UnitPriceCents: item.PriceCents,
			Currency:       c.Totals.Currency,
			SKU:            item.ItemID,
		})
	}
	domain := validate.MerchantDomain(c.MerchantOrigin)
	req := IntentRequest{
		IntentID:         intentID,
		Items:            items,
		TotalAmountCents: c.Totals.TotalCents,
		Currency:         c.Totals.Currency,
		PaymentLink:      c.CheckoutURL,
		PaymentLinkType:  "checkout",
		Merchant:         Merchant{Name: domain, Domain: domain},
		RunID:            runID,
	}
	if maxTotal := p.Budget.MaxTotalCents; maxTotal != nil && *maxTotal != 0 {
		req.Constraints = &Constraints{MaxAmountCents: *maxTotal, MustMatchCurrency: true}
	}
	return req
}

// SubmitIntent asks for approval to pay for c. An empty intentID gets a
// fresh one.
func (c *Client) SubmitIntent(ctx context.Context, p plan.ShoppingPlan, crt cart.Cart, intentID string) (SubmitResult, error) {
	if intentID == "" {
		intentID = NewIntentID()
	}
	req := BuildIntent(p, crt, intentID, c.runID)
	c.logger.Printf("submitting intent: intent_id=%s items=%d total_cents=%d currency=%s merchant=%s",
		intentID, len(req.Items), req.TotalAmountCents, req.Currency, req.Merchant.Domain)

	var result SubmitResult
	if err := c.call(ctx, http.MethodPost, "/intents", req, &result); err != nil {
		return SubmitResult{}, fmt.Errorf("submit intent: %w", err)
	}
	c.logger.Printf("intent submitted: intent_id=%s status=%s duplicate=%t", result.IntentID, result.Status, result.IsDuplicate)
	return result, nil
}

func (c *Client) IntentStatus(ctx context.Context, intentID string) (Intent, error) {
	var intent Intent
	if err := c.call(ctx, http.MethodGet, "/intents/"+url.PathEscape(intentID), nil, &intent); err != nil {
		return Intent{}, fmt.Errorf("get intent: %w", err)
	}
	return intent, nil
}

// Credentials fetches the encrypted card for an approved intent. It returns
// nil while approval is pending (202) and when the service answers with any
// other non-200 status.
func (c *Client) Credentials(ctx context.Context, intentID string) (*Credentials, error) {
	resp, err := httpx.DoJSON(ctx, c.httpClient, http.MethodGet, c.url("/intents/"+url.PathEscape(intentID)+"/credentials"), c.apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	if resp.StatusCode == http.StatusAccepted {
		return nil, nil
	}
	if err := resp.Expect(http.StatusOK); err != nil {
		c.logger.Printf("get credentials failed: intent_id=%s err=%v", intentID, err)
		return nil, nil
	}
	var creds Credentials
	if err := resp.Decode(&creds); err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	return &creds, nil
}

// Complete reports the payment outcome for an intent.
func (c *Client) Complete(ctx context.Context, intentID string, metadata any) error {
	payload := map[string]any{}
	if metadata != nil {
		payload["metadata"] = metadata
	}
	var result struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, http.MethodPost, "/intents/"+url.PathEscape(intentID)+"/complete", payload, &result); err != nil {
		return fmt.Errorf("complete intent: %w", err)
	}
	c.logger.Printf("intent completed: intent_id=%s status=%s", intentID, result.Status)
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	resp, err := httpx.DoJSON(ctx, c.httpClient, method, c.url(path), c.apiKey, payload)
	if err != nil {
		return err
	}
	if err := resp.Expect(http.StatusOK); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
