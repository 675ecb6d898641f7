package plan

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VenkatGGG/shopping-agent/internal/llm"
)

var ErrIntakeNotObject = errors.New("intake output is not a JSON object")

// FromIntake builds a plan from the intake prompt output, filling the
// defaults the model tends to leave out. It does not validate; call Validate.
func FromIntake(raw any, now time.Time) (ShoppingPlan, error) {
	obj, ok := llm.Object(raw)
	if !ok {
		return ShoppingPlan{}, ErrIntakeNotObject
	}

	p := ShoppingPlan{
		PlanID:        stringOr(obj["plan_id"], uuid.NewString()),
		UserID:        stringOr(obj["user_id"], DefaultUserID),
		CreatedAt:     parseTime(obj["created_at"], now),
		Items:         []Item{},
		Budget:        budgetFrom(obj["budget"]),
		Merchants:     merchantsFrom(obj["merchants"]),
		Delivery:      deliveryFrom(obj["delivery"]),
		ApprovalRules: approvalRulesFrom(obj["approval_rules"]),
		Flags:         llm.Strings(obj["flags"]),
	}

	items, _ := llm.List(obj["items"])
	for _, rawItem := range items {
		itemObj, ok := llm.Object(rawItem)
		if !ok {
			continue
		}
		p.Items = append(p.Items, itemFrom(itemObj))
	}
	return p, nil
}

func itemFrom(obj map[string]any) Item {
	item := Item{
		ID:                  stringOr(obj["id"], uuid.NewString()),
		Description:         strings.TrimSpace(stringOr(obj["description"], "")),
		Quantity:            1,
		MaxPriceCents:       optionalInt(obj["max_price_cents"]),
		PreferredMerchants:  llm.Strings(obj["preferred_merchants"]),
		SubstitutionAllowed: true,
		SubstitutionRules:   optionalString(obj["substitution_rules"]),
		Size:                optionalString(obj["size"]),
		Color:               optionalString(obj["color"]),
		Attributes:          stringMap(obj["attributes"]),
	}
	if qty, ok := llm.Int(obj["quantity"]); ok && qty != 0 {
		item.Quantity = qty
	}
	if allowed, ok := llm.Bool(obj["substitution_allowed"]); ok {
		item.SubstitutionAllowed = allowed
	}
	return item
}

func budgetFrom(raw any) Budget {
	maxTotal := DefaultMaxTotalCents
	budget := Budget{MaxTotalCents: &maxTotal, Currency: DefaultCurrency}

	obj, ok := llm.Object(raw)
	if !ok {
		return budget
	}
	if value, ok := llm.Int(obj["max_total_cents"]); ok {
		budget.MaxTotalCents = &value
	}
	budget.MaxPerItemCents = optionalInt(obj["max_per_item_cents"])
	if currency := strings.ToUpper(strings.TrimSpace(stringOr(obj["currency"], ""))); currency != "" {
		budget.Currency = currency
	}
	return budget
}

func merchantsFrom(raw any) MerchantRules {
	obj, _ := llm.Object(raw)
	return MerchantRules{
		Allowlist: llm.Strings(obj["allowlist"]),
		Blocklist: llm.Strings(obj["blocklist"]),
	}
}

func deliveryFrom(raw any) DeliveryPreferences {
	obj, _ := llm.Object(raw)
	return DeliveryPreferences{
		Deadline:  optionalString(obj["deadline"]),
		AddressID: optionalString(obj["address_id"]),
		Notes:     optionalString(obj["notes"]),
	}
}

func approvalRulesFrom(raw any) ApprovalRules {
	rules := DefaultApprovalRules()
	obj, ok := llm.Object(raw)
	if !ok {
		return rules
	}
	if value, ok := llm.Int(obj["auto_approve_under_cents"]); ok {
		rules.AutoApproveUnderCents = value
	}
	if value, ok := llm.Bool(obj["require_email_approval"]); ok {
		rules.RequireEmailApproval = value
	}
	if value, ok := llm.Bool(obj["notify_on_substitution"]); ok {
		rules.NotifyOnSubstitution = value
	}
	return rules
}

func stringOr(raw any, fallback string) string {
	if value, ok := llm.String(raw); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func optionalString(raw any) *string {
	value, ok := llm.String(raw)
	if !ok {
		return nil
	}
	return &value
}

func optionalInt(raw any) *int64 {
	value, ok := llm.Int(raw)
	if !ok {
		return nil
	}
	return &value
}

func stringMap(raw any) map[string]string {
	out := map[string]string{}
	obj, ok := llm.Object(raw)
	if !ok {
		return out
	}
	for key, value := range obj {
		if s, ok := value.(string); ok {
			out[key] = s
		}
	}
	return out
}

func parseTime(raw any, fallback time.Time) time.Time {
	value, ok := llm.String(raw)
	if ok {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, value); err == nil {
				return parsed.UTC()
			}
		}
	}
	return fallback.UTC()
}
