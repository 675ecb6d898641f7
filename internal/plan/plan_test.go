package plan

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func decode(t *testing.T, text string) any {
	t.Helper()
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()
	var value any
	require.NoError(t, decoder.Decode(&value))
	return value
}

func TestFromIntakeAppliesDefaults(t *testing.T) {
	t.Parallel()

	raw := decode(t, `{
		"items": [
			{"description": "wireless mouse"},
			{"id": "kb-1", "description": "mechanical keyboard", "quantity": "2", "substitution_allowed": false, "max_price_cents": 9000}
		],
		"budget": null,
		"approval_rules": "yes please"
	}`)

	p, err := FromIntake(raw, fixedNow)
	require.NoError(t, err)

	require.Len(t, p.Items, 2)
	assert.NotEmpty(t, p.PlanID)
	assert.Equal(t, DefaultUserID, p.UserID)
	assert.Equal(t, fixedNow, p.CreatedAt)

	first := p.Items[0]
	assert.NotEmpty(t, first.ID)
	assert.EqualValues(t, 1, first.Quantity)
	assert.True(t, first.SubstitutionAllowed)
	assert.Nil(t, first.MaxPriceCents)

	second := p.Items[1]
	assert.Equal(t, "kb-1", second.ID)
	assert.EqualValues(t, 2, second.Quantity)
	assert.False(t, second.SubstitutionAllowed)
	require.NotNil(t, second.MaxPriceCents)
	assert.EqualValues(t, 9000, *second.MaxPriceCents)

	require.NotNil(t, p.Budget.MaxTotalCents)
	assert.EqualValues(t, DefaultMaxTotalCents, *p.Budget.MaxTotalCents)
	assert.Equal(t, "USD", p.Budget.Currency)
	assert.Equal(t, DefaultApprovalRules(), p.ApprovalRules)

	require.NoError(t, Validate(p))
}

func TestFromIntakeDefaultsNullBudgetFields(t *testing.T) {
	t.Parallel()

	raw := decode(t, `{
		"items": [{"description": "hub", "quantity": 0}],
		"budget": {"max_total_cents": null, "currency": "eur"},
		"approval_rules": {"auto_approve_under_cents": 2500, "require_email_approval": null}
	}`)

	p, err := FromIntake(raw, fixedNow)
	require.NoError(t, err)

	assert.EqualValues(t, 1, p.Items[0].Quantity)
	assert.EqualValues(t, DefaultMaxTotalCents, *p.Budget.MaxTotalCents)
	assert.Equal(t, "EUR", p.Budget.Currency)
	assert.EqualValues(t, 2500, p.ApprovalRules.AutoApproveUnderCents)
	assert.True(t, p.ApprovalRules.RequireEmailApproval)
	assert.True(t, p.ApprovalRules.NotifyOnSubstitution)
}

func TestFromIntakeRejectsNonObject(t *testing.T) {
	t.Parallel()

	for _, raw := range []any{nil, "plan", []any{}} {
		_, err := FromIntake(raw, fixedNow)
		assert.ErrorIs(t, err, ErrIntakeNotObject)
	}
}

func TestEffectiveMaxTotalCents(t *testing.T) {
	t.Parallel()

	value := int64(15000)
	zero := int64(0)
	negative := int64(-5)

	assert.EqualValues(t, 100000, Budget{}.EffectiveMaxTotalCents())
	assert.EqualValues(t, 15000, Budget{MaxTotalCents: &value}.EffectiveMaxTotalCents())
	assert.EqualValues(t, 100000, Budget{MaxTotalCents: &zero}.EffectiveMaxTotalCents())
	assert.EqualValues(t, 100000, Budget{MaxTotalCents: &negative}.EffectiveMaxTotalCents())
}

func validPlan() ShoppingPlan {
	return ShoppingPlan{
		PlanID:        "plan-1",
		UserID:        DefaultUserID,
		CreatedAt:     fixedNow,
		Items:         []Item{{ID: "a", Description: "mouse", Quantity: 1, SubstitutionAllowed: true}},
		Budget:        Budget{Currency: "USD"},
		ApprovalRules: DefaultApprovalRules(),
	}
}

func TestValidateReportsStructuralProblems(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*ShoppingPlan)
		message string
	}{
		{
			name:    "no items",
			mutate:  func(p *ShoppingPlan) { p.Items = nil },
			message: "items is required",
		},
		{
			name:    "zero quantity",
			mutate:  func(p *ShoppingPlan) { p.Items[0].Quantity = 0 },
			message: "quantity must be greater than or equal to 1",
		},
		{
			name:    "bad currency",
			mutate:  func(p *ShoppingPlan) { p.Budget.Currency = "JPY" },
			message: "currency must be one of USD EUR GBP",
		},
		{
			name: "negative cap",
			mutate: func(p *ShoppingPlan) {
				v := int64(-1)
				p.Budget.MaxTotalCents = &v
			},
			message: "max_total_cents must be greater than or equal to 0",
		},
		{
			name: "merchant in both lists",
			mutate: func(p *ShoppingPlan) {
				p.Merchants = MerchantRules{Allowlist: []string{"shop.example"}, Blocklist: []string{"shop.example"}}
			},
			message: "merchant shop.example is in both allowlist and blocklist",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := validPlan()
			tc.mutate(&p)
			err := Validate(p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPlan))
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestValidateAcceptsValidPlan(t *testing.T) {
	t.Parallel()
	require.NoError(t, Validate(validPlan()))
}

func TestItemIDByPosition(t *testing.T) {
	t.Parallel()

	p := validPlan()
	require.NotNil(t, p.ItemID(0))
	assert.Equal(t, "a", *p.ItemID(0))
	assert.Nil(t, p.ItemID(1))
	assert.Nil(t, p.ItemID(-1))
}
