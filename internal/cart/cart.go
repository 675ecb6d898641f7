package cart

import (
	"time"

	"github.com/google/uuid"
)

const DefaultCurrency = "USD"

// TTL is the soft lifetime of a cart before a payment intent built from it
// should be considered stale.
const TTL = time.Hour

type Item struct {
	ItemID             string            `json:"item_id"`
	PlanItemID         *string           `json:"plan_item_id"`
	Title              string            `json:"title"`
	URL                string            `json:"url"`
	ImageURL           *string           `json:"image_url"`
	PriceCents         int64             `json:"price_cents"`
	Quantity           int64             `json:"quantity"`
	Seller             *string           `json:"seller"`
	IsSubstitution     bool              `json:"is_substitution"`
	SubstitutionReason *string           `json:"substitution_reason"`
	Attributes         map[string]string `json:"attributes"`
}

type Totals struct {
	SubtotalCents int64  `json:"subtotal_cents"`
	TaxCents      *int64 `json:"tax_cents"`
	ShippingCents *int64 `json:"shipping_cents"`
	TotalCents    int64  `json:"total_cents"`
	Currency      string `json:"currency"`
}

// BrowserProfile records which Chrome profile holds the live storefront
// session, so checkout can continue where shopping stopped.
type BrowserProfile struct {
	UserDataDir    *string `json:"user_data_dir"`
	ProfileName    *string `json:"profile_name"`
	ExecutablePath *string `json:"executable_path"`
	CDPURL         *string `json:"cdp_url"`
}

type PaymentResult struct {
	Success            bool    `json:"success"`
	ConfirmationNumber *string `json:"confirmation_number"`
	ReceiptURL         *string `json:"receipt_url"`
	ErrorMessage       *string `json:"error_message"`
	ChargedAmountCents *int64  `json:"charged_amount_cents"`
}

// Cart is the structured cart record (cart.json). It deliberately has no
// field for card data.
type Cart struct {
	CartID          string          `json:"cart_id"`
	PlanID          string          `json:"plan_id"`
	MerchantOrigin  string          `json:"merchant_origin"`
	CheckoutURL     string          `json:"checkout_url"`
	Items           []Item          `json:"items"`
	Totals          Totals          `json:"totals"`
	Fingerprint     string          `json:"cart_fingerprint_sha256"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	BrowserProfile  *BrowserProfile `json:"browser_profile"`
	ExtractionFlags []string        `json:"extraction_flags,omitempty"`
	PaymentResult   *PaymentResult  `json:"payment_result"`
}

func NewID() string {
	return uuid.NewString()
}

func (c *Cart) ItemCount() int {
	return len(c.Items)
}

func StringPtr(value string) *string {
	return &value
}

func Int64Ptr(value int64) *int64 {
	return &value
}
