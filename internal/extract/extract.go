package extract

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/VenkatGGG/shopping-agent/internal/cart"
	"github.com/VenkatGGG/shopping-agent/internal/llm"
	"github.com/VenkatGGG/shopping-agent/internal/plan"
)

// MaxSnapshotChars caps the cart page text sent to the model.
const MaxSnapshotChars = 3000

const UnknownTitle = "Unknown Item"

// Input carries what the cart builder needs besides the model output.
type Input struct {
	Plan           plan.ShoppingPlan
	MerchantOrigin string
	CurrentURL     string
	Profile        *cart.BrowserProfile
	Now            time.Time
}

// Snapshot collapses whitespace runs to single spaces and truncates to
// MaxSnapshotChars characters.
func Snapshot(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) > MaxSnapshotChars {
		return string(runes[:MaxSnapshotChars])
	}
	return collapsed
}

// Normalize coerces the model output into an object: a bare list becomes
// {"items": list}, anything else that is not an object becomes {}.
func Normalize(raw any) map[string]any {
	switch value := raw.(type) {
	case map[string]any:
		return value
	case []any:
		return map[string]any{"items": value}
	default:
		return map[string]any{}
	}
}

// Build turns extraction output into a cart. It never fails: missing or
// malformed values take defaults and negative amounts are clamped to zero
// with a flag. The fingerprint is left empty for the caller to compute.
func Build(raw any, in Input) cart.Cart {
	data := Normalize(raw)
	b := &builder{}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	items := make([]cart.Item, 0)
	rawItems, ok := llm.List(data["items"])
	if !ok && data["items"] != nil {
		b.flag("items_not_list")
	}
	for i, rawItem := range rawItems {
		obj, ok := llm.Object(rawItem)
		if !ok {
			b.flag("non_object_item_skipped")
			continue
		}
		items = append(items, cart.Item{
			ItemID:     cart.NewID(),
			PlanItemID: in.Plan.ItemID(i),
			Title:      title(obj["title"]),
			URL:        in.CurrentURL,
			PriceCents: b.amount("price_cents", obj["price_cents"], 0),
			Quantity:   b.quantity(obj["quantity"]),
			Attributes: map[string]string{},
		})
	}

	return cart.Cart{
		CartID:         cart.NewID(),
		PlanID:         in.Plan.PlanID,
		MerchantOrigin: in.MerchantOrigin,
		CheckoutURL:    in.CurrentURL,
		Items:          items,
		Totals: cart.Totals{
			SubtotalCents: b.amount("subtotal_cents", data["subtotal_cents"], 0),
			TaxCents:      b.optionalAmount("tax_cents", data["tax_cents"]),
			ShippingCents: b.optionalAmount("shipping_cents", data["shipping_cents"]),
			TotalCents:    b.amount("total_cents", data["total_cents"], 0),
			Currency:      cart.DefaultCurrency,
		},
		CreatedAt:       now,
		ExpiresAt:       now.Add(cart.TTL),
		BrowserProfile:  in.Profile,
		ExtractionFlags: b.flags,
	}
}

type builder struct {
	flags []string
}

func (b *builder) flag(name string) {
	for _, existing := range b.flags {
		if existing == name {
			return
		}
	}
	b.flags = append(b.flags, name)
}

func (b *builder) amount(field string, raw any, fallback int64) int64 {
	value, ok := llm.Int(raw)
	if !ok {
		return fallback
	}
	if value < 0 {
		b.flag("negative_" + field + "_coerced")
		return 0
	}
	return value
}

func (b *builder) optionalAmount(field string, raw any) *int64 {
	if _, ok := llm.Int(raw); !ok {
		return nil
	}
	value := b.amount(field, raw, 0)
	return &value
}

func (b *builder) quantity(raw any) int64 {
	value, ok := llm.Int(raw)
	if !ok || value == 0 {
		return 1
	}
	if value < 0 {
		b.flag("negative_quantity_coerced")
		return 1
	}
	return value
}

func title(raw any) string {
	value, ok := llm.String(raw)
	if !ok || strings.TrimSpace(value) == "" {
		return UnknownTitle
	}
	return value
}

// Extractor reads a cart page through the cart_extraction prompt.
type Extractor struct {
	llm       llm.Completer
	sessionID string
	logger    *log.Logger
}

func NewExtractor(completer llm.Completer, sessionID string, logger *log.Logger) *Extractor {
	if logger == nil {
		logger = log.Default()
	}
	return &Extractor{llm: completer, sessionID: sessionID, logger: logger}
}

// Extract snapshots pageText, asks the model for the cart, and builds it.
// Only transport errors are returned.
func (e *Extractor) Extract(ctx context.Context, pageText string, in Input) (cart.Cart, error) {
	snapshot := Snapshot(pageText)
	raw, err := e.llm.Complete(ctx, llm.Request{
		PromptID:  llm.PromptCartExtraction,
		Variables: map[string]string{"page_text": snapshot},
		Metadata:  map[string]any{"stage": "cart_extraction"},
		SessionID: e.sessionID,
	})
	if err != nil {
		return cart.Cart{}, fmt.Errorf("extract cart: %w", err)
	}

	switch raw.(type) {
	case map[string]any, []any, nil:
	default:
		e.logger.Printf("unexpected cart extraction type: %T", raw)
	}

	c := Build(raw, in)
	e.logger.Printf("cart extracted: items=%d total_cents=%d flags=%v", len(c.Items), c.Totals.TotalCents, c.ExtractionFlags)
	return c, nil
}
