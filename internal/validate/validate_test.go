package validate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"reflect"
	"strings"
	"testing"

	"github.com/VenkatGGG/shopping-agent/internal/cart"
	"github.com/VenkatGGG/shopping-agent/internal/llm"
	"github.com/VenkatGGG/shopping-agent/internal/plan"
)

func budget(cents int64) plan.Budget {
	return plan.Budget{MaxTotalCents: &cents, Currency: "USD"}
}

func twoItemPlan(b plan.Budget) plan.ShoppingPlan {
	return plan.ShoppingPlan{
		PlanID: "plan-1",
		Items: []plan.Item{
			{ID: "a", Description: "mouse", Quantity: 1},
			{ID: "b", Description: "hub", Quantity: 1},
		},
		Budget: b,
	}
}

func cartWith(total int64, prices ...int64) cart.Cart {
	c := cart.Cart{
		CartID:         "cart-1",
		MerchantOrigin: "https://joy-buy-test.lovable.app",
		Totals:         cart.Totals{TotalCents: total, Currency: "USD"},
	}
	for _, price := range prices {
		c.Items = append(c.Items, cart.Item{Title: "item", PriceCents: price, Quantity: 1})
	}
	return c
}

func TestQuick(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		plan      plan.ShoppingPlan
		cart      cart.Cart
		decision  Decision
		flags     []string
		reasoning string
	}{
		{
			name:      "clean allow",
			plan:      twoItemPlan(budget(10000)),
			cart:      cartWith(5000, 2000, 3000),
			decision:  Allow,
			flags:     []string{},
			reasoning: "Cart matches plan within constraints",
		},
		{
			name:      "ten percent over is minor",
			plan:      twoItemPlan(budget(5000)),
			cart:      cartWith(5500, 2000, 3500),
			decision:  AllowWithFlags,
			flags:     []string{"over_budget_by_10_percent"},
			reasoning: "Minor issues found but acceptable for approval",
		},
		{
			name:      "exactly fifty percent over is critical",
			plan:      twoItemPlan(budget(10000)),
			cart:      cartWith(15000, 5000, 10000),
			decision:  Reject,
			flags:     []string{"over_budget_by_50_percent"},
			reasoning: "Critical validation issues found",
		},
		{
			name:     "sixty percent over is not critical",
			plan:     twoItemPlan(budget(10000)),
			cart:     cartWith(16000, 6000, 10000),
			decision: AllowWithFlags,
			flags:    []string{"over_budget_by_60_percent"},
		},
		{
			name:     "one hundred fifty percent over is not critical",
			plan:     twoItemPlan(budget(10000)),
			cart:     cartWith(25000, 5000, 20000),
			decision: AllowWithFlags,
			flags:    []string{"over_budget_by_150_percent"},
		},
		{
			name:     "missing item",
			plan:     twoItemPlan(budget(10000)),
			cart:     cartWith(2000, 2000),
			decision: Reject,
			flags:    []string{"item_missing"},
		},
		{
			name:     "unexpected item",
			plan:     twoItemPlan(budget(10000)),
			cart:     cartWith(3000, 1000, 1000, 1000),
			decision: AllowWithFlags,
			flags:    []string{"unexpected_item"},
		},
		{
			name:     "default budget applies when unset",
			plan:     twoItemPlan(plan.Budget{Currency: "USD"}),
			cart:     cartWith(110000, 50000, 60000),
			decision: AllowWithFlags,
			flags:    []string{"over_budget_by_10_percent"},
		},
		{
			name: "blocked merchant short circuits",
			plan: func() plan.ShoppingPlan {
				p := twoItemPlan(budget(100))
				p.Merchants.Blocklist = []string{"joy-buy-test.lovable.app"}
				return p
			}(),
			cart:      cartWith(99999, 1),
			decision:  Reject,
			flags:     []string{"merchant_blocked"},
			reasoning: "Merchant joy-buy-test.lovable.app is in blocklist",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Quick(tc.plan, tc.cart)
			if got.Decision != tc.decision {
				t.Fatalf("decision: got %s want %s (flags %v)", got.Decision, tc.decision, got.Flags)
			}
			if !reflect.DeepEqual(got.Flags, tc.flags) {
				t.Fatalf("flags: got %#v want %#v", got.Flags, tc.flags)
			}
			if tc.reasoning != "" && got.Reasoning != tc.reasoning {
				t.Fatalf("reasoning: got %q want %q", got.Reasoning, tc.reasoning)
			}
		})
	}
}

func TestQuickRoundsHalfToEven(t *testing.T) {
	t.Parallel()

	// 10250 over 10000 is exactly 2.5 percent.
	got := Quick(twoItemPlan(budget(10000)), cartWith(10250, 5000, 5250))
	if len(got.Flags) != 1 || got.Flags[0] != "over_budget_by_2_percent" {
		t.Fatalf("unexpected flags %v", got.Flags)
	}
}

func TestMerchantDomain(t *testing.T) {
	t.Parallel()

	if got := MerchantDomain("https://shop.example"); got != "shop.example" {
		t.Fatalf("unexpected domain %q", got)
	}
	if got := MerchantDomain("http://shop.example:8080"); got != "shop.example:8080" {
		t.Fatalf("unexpected domain %q", got)
	}
}

func TestParseResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  any
		want Result
	}{
		{
			name: "well formed",
			raw:  map[string]any{"decision": "REJECT", "flags": []any{"price_mismatch"}, "reasoning": "wrong item"},
			want: Result{Decision: Reject, Flags: []string{"price_mismatch"}, Reasoning: "wrong item"},
		},
		{
			name: "unknown decision",
			raw:  map[string]any{"decision": "MAYBE"},
			want: Result{Decision: AllowWithFlags, Flags: []string{}},
		},
		{
			name: "non string flags dropped",
			raw:  map[string]any{"decision": "ALLOW", "flags": []any{"ok", json.Number("1"), nil}},
			want: Result{Decision: Allow, Flags: []string{"ok"}},
		},
		{
			name: "not an object",
			raw:  []any{"ALLOW"},
			want: Result{Decision: AllowWithFlags, Flags: []string{}},
		},
		{
			name: "null",
			raw:  nil,
			want: Result{Decision: AllowWithFlags, Flags: []string{}},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseResult(tc.raw); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %#v want %#v", got, tc.want)
			}
		})
	}
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

func TestLLMValidatorBuildsRequest(t *testing.T) {
	t.Parallel()

	stub := &stubCompleter{value: map[string]any{"decision": "ALLOW", "flags": []any{}}}
	v := NewLLM(stub, log.New(io.Discard, "", 0))

	c := cartWith(5000, 2000, 3000)
	c.ComputeFingerprint()
	p := twoItemPlan(budget(10000))

	got, err := v.Validate(context.Background(), p, c)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.Decision != Allow {
		t.Fatalf("unexpected decision %s", got.Decision)
	}

	req := stub.got
	if req.PromptID != llm.PromptCartValidator || req.SessionID != "cart-1" {
		t.Fatalf("unexpected request %#v", req)
	}
	if req.Variables["total_cents"] != "5000" || req.Variables["merchant_origin"] != c.MerchantOrigin {
		t.Fatalf("unexpected variables %#v", req.Variables)
	}
	if !strings.Contains(req.Variables["plan_json"], "\n  \"plan_id\": \"plan-1\"") {
		t.Fatalf("plan_json not indented by two spaces: %s", req.Variables["plan_json"])
	}
	if !strings.Contains(req.Variables["cart_json"], c.Fingerprint) {
		t.Fatalf("cart_json missing fingerprint")
	}
	if req.Metadata["cart_hash"] != c.Fingerprint || req.Metadata["plan_id"] != "plan-1" || req.Metadata["stage"] != "cart_validation" {
		t.Fatalf("unexpected metadata %#v", req.Metadata)
	}
	if req.Metadata["total_cents"] != int64(5000) {
		t.Fatalf("expected numeric total in metadata, got %#v", req.Metadata["total_cents"])
	}
}

func TestChain(t *testing.T) {
	t.Parallel()

	p := twoItemPlan(budget(10000))

	t.Run("pre-check reject skips model", func(t *testing.T) {
		t.Parallel()
		stub := &stubCompleter{value: map[string]any{"decision": "ALLOW"}}
		chain := Chain{Pre: Deterministic{}, Main: NewLLM(stub, log.New(io.Discard, "", 0))}
		got, err := chain.Validate(context.Background(), p, cartWith(2000, 2000))
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if got.Decision != Reject || stub.calls != 0 {
			t.Fatalf("expected reject without model call, got %s after %d calls", got.Decision, stub.calls)
		}
	})

	t.Run("model decides otherwise", func(t *testing.T) {
		t.Parallel()
		stub := &stubCompleter{value: map[string]any{"decision": "REJECT", "flags": []any{"wrong_color"}}}
		chain := Chain{Pre: Deterministic{}, Main: NewLLM(stub, log.New(io.Discard, "", 0))}
		got, err := chain.Validate(context.Background(), p, cartWith(5000, 2000, 3000))
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if got.Decision != Reject || len(got.Flags) != 1 || got.Flags[0] != "wrong_color" || stub.calls != 1 {
			t.Fatalf("unexpected chain result %#v after %d calls", got, stub.calls)
		}
	})

	t.Run("model errors propagate", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("keywords down")
		chain := Chain{Pre: Deterministic{}, Main: NewLLM(&stubCompleter{err: boom}, log.New(io.Discard, "", 0))}
		if _, err := chain.Validate(context.Background(), p, cartWith(5000, 2000, 3000)); !errors.Is(err, boom) {
			t.Fatalf("expected wrapped error, got %v", err)
		}
	})
}
