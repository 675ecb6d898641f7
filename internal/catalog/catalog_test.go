package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/VenkatGGG/shopping-agent/internal/llm"
)

const storefrontText = `Joy Buy
Shop the latest gear
ELECTRONICS
Wireless Mouse
Ergonomic 2.4GHz mouse
$29.99
Add
ACCESSORIES
USB-C Hub
7-in-1 adapter
$45.50
Add
Clearance
$5.00
Add
$1,299.00`

func TestParseRecoversProducts(t *testing.T) {
	t.Parallel()

	products := Parse(storefrontText)
	if len(products) != 3 {
		t.Fatalf("expected 3 products, got %d: %#v", len(products), products)
	}

	first := products[0]
	if first.Name != "Wireless Mouse" || first.Description != "Ergonomic 2.4GHz mouse" || first.Price != "$29.99" || first.Category != "ELECTRONICS" {
		t.Fatalf("unexpected first product: %#v", first)
	}
	if products[1].Name != "USB-C Hub" || products[1].Category != "ACCESSORIES" {
		t.Fatalf("unexpected second product: %#v", products[1])
	}
	// "$5.00" has "Add" two lines above it, so it parses as a bogus product.
	// "$1,299.00" is skipped because its name line is itself a price.
	if products[2].Name != "Add" || products[2].Description != "Clearance" || products[2].Price != "$5.00" {
		t.Fatalf("unexpected third product: %#v", products[2])
	}
}

func TestParseNeedsTwoLinesAbovePrice(t *testing.T) {
	t.Parallel()

	if got := Parse("$10\nfoo"); len(got) != 0 {
		t.Fatalf("expected no products, got %#v", got)
	}
	got := Parse("Name\nDesc\n$3")
	if len(got) != 1 || got[0].Category != "" {
		t.Fatalf("expected one uncategorised product, got %#v", got)
	}
}

func TestFormatNumbersFromZero(t *testing.T) {
	t.Parallel()

	text := Format([]Product{
		{Name: "A", Description: "first", Price: "$1"},
		{Name: "B", Description: "second", Price: "$2"},
	})
	want := "0. A | first | $1\n1. B | second | $2"
	if text != want {
		t.Fatalf("unexpected format:\n%s", text)
	}
	if Format(nil) != "" {
		t.Fatalf("expected empty format for empty catalog")
	}
}

func TestPriceCents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{in: "$29.99", want: 2999, ok: true},
		{in: "$1,299.00", want: 129900, ok: true},
		{in: " $45.5 ", want: 4550, ok: true},
		{in: "$19.99 $24.99", want: 1999, ok: true},
		{in: "free", ok: false},
		{in: "", ok: false},
	}
	for _, tc := range tests {
		got, ok := PriceCents(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("PriceCents(%q) = %d,%v want %d,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestSelectMatch(t *testing.T) {
	t.Parallel()

	products := Parse(storefrontText)
	tests := []struct {
		name string
		raw  any
		want Match
	}{
		{
			name: "in range index uses catalog name",
			raw:  map[string]any{"found": true, "product_index": json.Number("1"), "product_name": "usb hub", "reasoning": "closest"},
			want: Match{Found: true, Index: 1, Name: "USB-C Hub", Reasoning: "closest"},
		},
		{
			name: "string index",
			raw:  map[string]any{"found": true, "product_index": "0"},
			want: Match{Found: true, Index: 0, Name: "Wireless Mouse"},
		},
		{
			name: "out of range index is found by name",
			raw:  map[string]any{"found": true, "product_index": json.Number("99"), "product_name": "Mystery Box"},
			want: Match{Found: true, Index: -1, Name: "Mystery Box", ByName: true},
		},
		{
			name: "missing index is found by name",
			raw:  map[string]any{"found": true, "product_name": "USB-C Hub"},
			want: Match{Found: true, Index: -1, Name: "USB-C Hub", ByName: true},
		},
		{
			name: "not found keeps reasoning",
			raw:  map[string]any{"found": false, "reasoning": "nothing similar"},
			want: Match{Index: -1, Reasoning: "nothing similar"},
		},
		{
			name: "non object",
			raw:  []any{"x"},
			want: Match{Index: -1},
		},
		{
			name: "null",
			raw:  nil,
			want: Match{Index: -1},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := SelectMatch(tc.raw, products); got != tc.want {
				t.Fatalf("unexpected match: got %#v want %#v", got, tc.want)
			}
		})
	}
}

type stubCompleter struct {
	value any
	err   error
	got   llm.Request
}

func (s *stubCompleter) Complete(_ context.Context, req llm.Request) (any, error) {
	s.got = req
	return s.value, s.err
}

func TestMatcherSendsCatalogAndDescription(t *testing.T) {
	t.Parallel()

	stub := &stubCompleter{value: map[string]any{"found": true, "product_index": json.Number("0")}}
	matcher := NewMatcher(stub, "sess-1", log.New(io.Discard, "", 0))
	products := Parse(storefrontText)

	match, err := matcher.Match(context.Background(), "a computer mouse", products)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !match.Found || match.Name != "Wireless Mouse" {
		t.Fatalf("unexpected match %#v", match)
	}
	if stub.got.PromptID != llm.PromptFindProduct || stub.got.SessionID != "sess-1" {
		t.Fatalf("unexpected request %#v", stub.got)
	}
	if stub.got.Variables["item_description"] != "a computer mouse" {
		t.Fatalf("missing item description variable")
	}
	if !strings.HasPrefix(stub.got.Variables["products_text"], "0. Wireless Mouse | ") {
		t.Fatalf("unexpected products_text %q", stub.got.Variables["products_text"])
	}
	if stub.got.Metadata["stage"] != "find_product" || stub.got.Metadata["item"] != "a computer mouse" {
		t.Fatalf("unexpected metadata %#v", stub.got.Metadata)
	}
}

func TestMatcherPropagatesTransportErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	matcher := NewMatcher(&stubCompleter{err: boom}, "", log.New(io.Discard, "", 0))
	match, err := matcher.Match(context.Background(), "anything", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if match.Found || match.Index != -1 {
		t.Fatalf("expected empty match on error, got %#v", match)
	}
}

func TestPickAddButton(t *testing.T) {
	t.Parallel()

	product := Box{X: 100, Y: 100, Width: 200, Height: 20}
	buttons := []Button{
		{Text: "Add", Visible: true, Box: Box{X: 500, Y: 100, Width: 60, Height: 20}},
		{Text: "Add", Visible: false, Box: Box{X: 150, Y: 105, Width: 60, Height: 20}},
		{Text: "Add to wishlist", Visible: true, Box: Box{X: 170, Y: 100, Width: 60, Height: 20}},
		{Text: " add ", Visible: true, Box: Box{X: 180, Y: 160, Width: 60, Height: 20}},
		{Text: "Add", Visible: true, Box: Box{X: 170, Y: 400, Width: 60, Height: 20}},
	}

	// Candidate 0: y=0, x=330 -> 165. Candidate 3: y=60, x=10 -> 65.
	if got := PickAddButton(product, buttons); got != 3 {
		t.Fatalf("expected button 3, got %d", got)
	}
	if got := PickAddButton(product, buttons[4:]); got != -1 {
		t.Fatalf("expected no button beyond row distance, got %d", got)
	}
	if got := PickAddButton(product, nil); got != -1 {
		t.Fatalf("expected -1 for no buttons, got %d", got)
	}
}
