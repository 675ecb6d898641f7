package plan

import (
	"time"
)

// DefaultMaxTotalCents is the budget applied when the user gave none ($1000).
const DefaultMaxTotalCents int64 = 100000

const (
	DefaultUserID   = "demo-user"
	DefaultCurrency = "USD"
)

type Item struct {
	ID                  string            `json:"id" validate:"required"`
	Description         string            `json:"description" validate:"required"`
	Quantity            int64             `json:"quantity" validate:"gte=1"`
	MaxPriceCents       *int64            `json:"max_price_cents" validate:"omitempty,gte=0"`
	PreferredMerchants  []string          `json:"preferred_merchants"`
	SubstitutionAllowed bool              `json:"substitution_allowed"`
	SubstitutionRules   *string           `json:"substitution_rules"`
	Size                *string           `json:"size"`
	Color               *string           `json:"color"`
	Attributes          map[string]string `json:"attributes"`
}

type Budget struct {
	MaxTotalCents   *int64 `json:"max_total_cents" validate:"omitempty,gte=0"`
	MaxPerItemCents *int64 `json:"max_per_item_cents" validate:"omitempty,gte=0"`
	Currency        string `json:"currency" validate:"oneof=USD EUR GBP"`
}

// EffectiveMaxTotalCents is the configured cap, or DefaultMaxTotalCents when
// the cap is unset or not positive.
func (b Budget) EffectiveMaxTotalCents() int64 {
	if b.MaxTotalCents != nil && *b.MaxTotalCents > 0 {
		return *b.MaxTotalCents
	}
	return DefaultMaxTotalCents
}

type MerchantRules struct {
	Allowlist []string `json:"allowlist"`
	Blocklist []string `json:"blocklist"`
}

// Blocked reports whether domain appears in the blocklist.
func (m MerchantRules) Blocked(domain string) bool {
	for _, blocked := range m.Blocklist {
		if blocked == domain {
			return true
		}
	}
	return false
}

type DeliveryPreferences struct {
	Deadline  *string `json:"deadline"`
	AddressID *string `json:"address_id"`
	Notes     *string `json:"notes"`
}

type ApprovalRules struct {
	AutoApproveUnderCents int64 `json:"auto_approve_under_cents" validate:"gte=0"`
	RequireEmailApproval  bool  `json:"require_email_approval"`
	NotifyOnSubstitution  bool  `json:"notify_on_substitution"`
}

func DefaultApprovalRules() ApprovalRules {
	return ApprovalRules{
		AutoApproveUnderCents: 0,
		RequireEmailApproval:  true,
		NotifyOnSubstitution:  true,
	}
}

// ShoppingPlan is the structured form of the user's requirements
// (shopping_plan.json). Items are not modified after intake.
type ShoppingPlan struct {
	PlanID        string              `json:"plan_id" validate:"required"`
	UserID        string              `json:"user_id"`
	CreatedAt     time.Time           `json:"created_at"`
	Items         []Item              `json:"items" validate:"required,min=1,dive"`
	Budget        Budget              `json:"budget"`
	Merchants     MerchantRules       `json:"merchants"`
	Delivery      DeliveryPreferences `json:"delivery"`
	ApprovalRules ApprovalRules       `json:"approval_rules"`
	Flags         []string            `json:"flags"`
}

// ItemID returns the id of the plan item at position i, or nil past the end.
func (p ShoppingPlan) ItemID(i int) *string {
	if i < 0 || i >= len(p.Items) {
		return nil
	}
	id := p.Items[i].ID
	return &id
}
