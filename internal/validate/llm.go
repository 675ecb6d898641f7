package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/VenkatGGG/shopping-agent/internal/cart"
	"github.com/VenkatGGG/shopping-agent/internal/llm"
	"github.com/VenkatGGG/shopping-agent/internal/plan"
)

// LLM validates through the cart_vs_plan_validator prompt.
type LLM struct {
	llm    llm.Completer
	logger *log.Logger
}

func NewLLM(completer llm.Completer, logger *log.Logger) *LLM {
	if logger == nil {
		logger = log.Default()
	}
	return &LLM{llm: completer, logger: logger}
}

func (v *LLM) Validate(ctx context.Context, p plan.ShoppingPlan, c cart.Cart) (Result, error) {
	planJSON, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("encode plan: %w", err)
	}
	cartJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("encode cart: %w", err)
	}

	raw, err := v.llm.Complete(ctx, llm.Request{
		PromptID: llm.PromptCartValidator,
		Variables: map[string]string{
			"plan_json":       string(planJSON),
			"cart_json":       string(cartJSON),
			"merchant_origin": c.MerchantOrigin,
			"total_cents":     strconv.FormatInt(c.Totals.TotalCents, 10),
		},
		Metadata: map[string]any{
			"stage":           "cart_validation",
			"merchant_origin": c.MerchantOrigin,
			"cart_hash":       c.Fingerprint,
			"total_cents":     c.Totals.TotalCents,
			"plan_id":         p.PlanID,
		},
		SessionID: c.CartID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("validate cart: %w", err)
	}

	if _, ok := llm.Object(raw); !ok {
		v.logger.Printf("validation result is not an object, defaulting to %s", AllowWithFlags)
	}
	result := ParseResult(raw)
	v.logger.Printf("validation result: decision=%s flags=%v", result.Decision, result.Flags)
	return result, nil
}

// ParseResult normalises validator output. Anything unusable degrades to
// ALLOW_WITH_FLAGS rather than failing the run.
func ParseResult(raw any) Result {
	obj, _ := llm.Object(raw)

	decision := AllowWithFlags
	if value, ok := llm.String(obj["decision"]); ok && Decision(value).Valid() {
		decision = Decision(value)
	}
	reasoning, _ := llm.String(obj["reasoning"])
	return Result{
		Decision:  decision,
		Flags:     llm.Strings(obj["flags"]),
		Reasoning: reasoning,
	}
}

// Chain runs a cheap pre-check first and only consults Main when the
// pre-check does not reject.
type Chain struct {
	Pre  Validator
	Main Validator
}

func (c Chain) Validate(ctx context.Context, p plan.ShoppingPlan, crt cart.Cart) (Result, error) {
	if c.Pre != nil {
		pre, err := c.Pre.Validate(ctx, p, crt)
		if err != nil {
			return Result{}, err
		}
		if pre.Decision == Reject || c.Main == nil {
			return pre, nil
		}
	}
	if c.Main == nil {
		return Result{}, fmt.Errorf("validate cart: no validator configured")
	}
	return c.Main.Validate(ctx, p, crt)
}
