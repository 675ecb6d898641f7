package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/VenkatGGG/shopping-agent/internal/cart"
	"github.com/VenkatGGG/shopping-agent/internal/plan"
)

type Decision string

const (
	Allow          Decision = "ALLOW"
	AllowWithFlags Decision = "ALLOW_WITH_FLAGS"
	Reject         Decision = "REJECT"
)

func (d Decision) Valid() bool {
	switch d {
	case Allow, AllowWithFlags, Reject:
		return true
	default:
		return false
	}
}

// Result is the reconciliation verdict (validation.json).
type Result struct {
	Decision  Decision `json:"decision"`
	Flags     []string `json:"flags"`
	Reasoning string   `json:"reasoning,omitempty"`
}

type Validator interface {
	Validate(ctx context.Context, p plan.ShoppingPlan, c cart.Cart) (Result, error)
}

var criticalFlags = []string{"over_budget_by_50_percent", "item_missing"}

// Quick checks a cart against the plan without any model call: total
// against the effective budget, item count, and the merchant blocklist.
//
// Criticality is a substring test: only an overrun that rounds to exactly
// 50 percent is critical, 51 percent and above are not.
func Quick(p plan.ShoppingPlan, c cart.Cart) Result {
	flags := []string{}

	maxBudget := p.Budget.EffectiveMaxTotalCents()
	if c.Totals.TotalCents > maxBudget {
		over := float64(c.Totals.TotalCents-maxBudget) / float64(maxBudget) * 100
		flags = append(flags, fmt.Sprintf("over_budget_by_%.0f_percent", over))
	}

	if len(c.Items) != len(p.Items) {
		if len(c.Items) < len(p.Items) {
			flags = append(flags, "item_missing")
		} else {
			flags = append(flags, "unexpected_item")
		}
	}

	domain := MerchantDomain(c.MerchantOrigin)
	if p.Merchants.Blocked(domain) {
		return Result{
			Decision:  Reject,
			Flags:     []string{"merchant_blocked"},
			Reasoning: fmt.Sprintf("Merchant %s is in blocklist", domain),
		}
	}

	if len(flags) == 0 {
		return Result{Decision: Allow, Flags: flags, Reasoning: "Cart matches plan within constraints"}
	}
	for _, flag := range flags {
		for _, critical := range criticalFlags {
			if strings.Contains(flag, critical) {
				return Result{Decision: Reject, Flags: flags, Reasoning: "Critical validation issues found"}
			}
		}
	}
	return Result{Decision: AllowWithFlags, Flags: flags, Reasoning: "Minor issues found but acceptable for approval"}
}

// MerchantDomain strips the http(s) scheme from an origin.
func MerchantDomain(origin string) string {
	domain := strings.ReplaceAll(origin, "https://", "")
	return strings.ReplaceAll(domain, "http://", "")
}

// Deterministic adapts Quick to the Validator interface.
type Deterministic struct{}

func (Deterministic) Validate(_ context.Context, p plan.ShoppingPlan, c cart.Cart) (Result, error) {
	return Quick(p, c), nil
}
