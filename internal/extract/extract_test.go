package extract

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VenkatGGG/shopping-agent/internal/cart"
	"github.com/VenkatGGG/shopping-agent/internal/llm"
	"github.com/VenkatGGG/shopping-agent/internal/plan"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func testInput() Input {
	return Input{
		Plan: plan.ShoppingPlan{
			PlanID: "plan-7",
			Items: []plan.Item{
				{ID: "p1", Description: "mouse", Quantity: 1},
				{ID: "p2", Description: "hub", Quantity: 1},
			},
		},
		MerchantOrigin: "https://joy-buy-test.lovable.app",
		CurrentURL:     "https://joy-buy-test.lovable.app/cart",
		Profile:        &cart.BrowserProfile{UserDataDir: cart.StringPtr("/tmp/profile")},
		Now:            now,
	}
}

func decode(t *testing.T, text string) any {
	t.Helper()
	value, err := llm.DecodeContent(text)
	require.NoError(t, err)
	return value
}

func TestSnapshotCollapsesAndTruncates(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Your cart Mouse $29.99", Snapshot("  Your cart\n\n\tMouse   $29.99 \n"))

	long := strings.Repeat("é", MaxSnapshotChars+50)
	got := Snapshot(long)
	assert.Equal(t, MaxSnapshotChars, len([]rune(got)))
	assert.True(t, strings.HasPrefix(long, got))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	list := []any{map[string]any{"title": "x"}}
	assert.Equal(t, map[string]any{"items": list}, Normalize(list))
	assert.Equal(t, map[string]any{}, Normalize(nil))
	assert.Equal(t, map[string]any{}, Normalize("cart"))
	assert.Equal(t, map[string]any{}, Normalize(json.Number("3")))
	obj := map[string]any{"total_cents": json.Number("5")}
	assert.Equal(t, obj, Normalize(obj))
}

func TestBuildFromWellFormedOutput(t *testing.T) {
	t.Parallel()

	raw := decode(t, `{
		"items": [
			{"title": "Wireless Mouse", "price_cents": 2999, "quantity": 1},
			{"title": "USB-C Hub", "price_cents": "4550", "quantity": 2},
			{"title": "Gift Wrap", "price_cents": 0}
		],
		"subtotal_cents": 12099,
		"tax_cents": null,
		"shipping_cents": 500,
		"total_cents": 12599
	}`)

	c := Build(raw, testInput())

	require.Len(t, c.Items, 3)
	assert.Equal(t, "Wireless Mouse", c.Items[0].Title)
	assert.EqualValues(t, 4550, c.Items[1].PriceCents)
	assert.EqualValues(t, 2, c.Items[1].Quantity)
	assert.EqualValues(t, 1, c.Items[2].Quantity)

	require.NotNil(t, c.Items[0].PlanItemID)
	assert.Equal(t, "p1", *c.Items[0].PlanItemID)
	require.NotNil(t, c.Items[1].PlanItemID)
	assert.Equal(t, "p2", *c.Items[1].PlanItemID)
	assert.Nil(t, c.Items[2].PlanItemID)
	for _, item := range c.Items {
		assert.Equal(t, "https://joy-buy-test.lovable.app/cart", item.URL)
		assert.NotEmpty(t, item.ItemID)
	}

	assert.EqualValues(t, 12099, c.Totals.SubtotalCents)
	assert.Nil(t, c.Totals.TaxCents)
	require.NotNil(t, c.Totals.ShippingCents)
	assert.EqualValues(t, 500, *c.Totals.ShippingCents)
	assert.EqualValues(t, 12599, c.Totals.TotalCents)
	assert.Equal(t, "USD", c.Totals.Currency)

	assert.Equal(t, "plan-7", c.PlanID)
	assert.Equal(t, "https://joy-buy-test.lovable.app", c.MerchantOrigin)
	assert.Equal(t, "https://joy-buy-test.lovable.app/cart", c.CheckoutURL)
	assert.Equal(t, now, c.CreatedAt)
	assert.Equal(t, now.Add(time.Hour), c.ExpiresAt)
	assert.NotEmpty(t, c.CartID)
	assert.Empty(t, c.Fingerprint)
	assert.Empty(t, c.ExtractionFlags)
	require.NotNil(t, c.BrowserProfile)
	assert.Equal(t, "/tmp/profile", *c.BrowserProfile.UserDataDir)
}

func TestBuildToleratesMalformedOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		raw   any
		items int
		flags []string
	}{
		{name: "null", raw: nil, items: 0},
		{name: "string", raw: "no cart here", items: 0},
		{name: "items not a list", raw: map[string]any{"items": "two mice"}, items: 0, flags: []string{"items_not_list"}},
		{name: "bare list", raw: []any{map[string]any{"title": "Mouse"}}, items: 1},
		{name: "non object item", raw: []any{"Mouse", map[string]any{}}, items: 1, flags: []string{"non_object_item_skipped"}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := Build(tc.raw, testInput())
			assert.Len(t, c.Items, tc.items)
			assert.Equal(t, tc.flags, c.ExtractionFlags)
			assert.EqualValues(t, 0, c.Totals.TotalCents)
			assert.EqualValues(t, 0, c.Totals.SubtotalCents)
			assert.NotNil(t, c.Items)
		})
	}
}

func TestBuildDefaultsItemFields(t *testing.T) {
	t.Parallel()

	raw := decode(t, `{"items": [{"title": "", "price_cents": null, "quantity": 0}, {"title": 42, "quantity": null}]}`)
	c := Build(raw, testInput())

	require.Len(t, c.Items, 2)
	for _, item := range c.Items {
		assert.Equal(t, UnknownTitle, item.Title)
		assert.EqualValues(t, 0, item.PriceCents)
		assert.EqualValues(t, 1, item.Quantity)
		assert.NotNil(t, item.Attributes)
	}
}

func TestBuildClampsNegativeAmounts(t *testing.T) {
	t.Parallel()

	raw := decode(t, `{"items": [{"title": "Coupon", "price_cents": -500, "quantity": -1}], "subtotal_cents": -500, "tax_cents": -10, "total_cents": -510}`)
	c := Build(raw, testInput())

	require.Len(t, c.Items, 1)
	assert.EqualValues(t, 0, c.Items[0].PriceCents)
	assert.EqualValues(t, 1, c.Items[0].Quantity)
	assert.EqualValues(t, 0, c.Totals.SubtotalCents)
	require.NotNil(t, c.Totals.TaxCents)
	assert.EqualValues(t, 0, *c.Totals.TaxCents)
	assert.EqualValues(t, 0, c.Totals.TotalCents)
	assert.Equal(t, []string{
		"negative_price_cents_coerced",
		"negative_quantity_coerced",
		"negative_subtotal_cents_coerced",
		"negative_tax_cents_coerced",
		"negative_total_cents_coerced",
	}, c.ExtractionFlags)
}

type stubCompleter struct {
	value any
	err   error
	got   llm.Request
	calls int
}

func (s *stubCompleter) Complete(_ context.Context, req llm.Request) (any, error) {
	s.calls++
	s.got = req
	return s.value, s.err
}

func TestExtractorSendsSnapshot(t *testing.T) {
	t.Parallel()

	stub := &stubCompleter{value: []any{map[string]any{"title": "Mouse", "price_cents": json.Number("2999")}}}
	extractor := NewExtractor(stub, "sess-2", log.New(io.Discard, "", 0))

	c, err := extractor.Extract(context.Background(), "Cart\n\n  Mouse  $29.99", testInput())
	require.NoError(t, err)

	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, llm.PromptCartExtraction, stub.got.PromptID)
	assert.Equal(t, "Cart Mouse $29.99", stub.got.Variables["page_text"])
	assert.Equal(t, "cart_extraction", stub.got.Metadata["stage"])
	assert.Equal(t, "sess-2", stub.got.SessionID)
	require.Len(t, c.Items, 1)
	assert.EqualValues(t, 2999, c.Items[0].PriceCents)
}

func TestExtractorReturnsTransportErrorsWithoutRetry(t *testing.T) {
	t.Parallel()

	boom := errors.New("dial tcp: connection refused")
	stub := &stubCompleter{err: boom}
	_, err := NewExtractor(stub, "", log.New(io.Discard, "", 0)).Extract(context.Background(), "cart", testInput())
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, stub.calls)
}
