package cart

import (
	"testing"
	"time"
)

func sampleCart() Cart {
	return Cart{
		CartID:         "cart-a",
		PlanID:         "plan-1",
		MerchantOrigin: "https://joy-buy-test.lovable.app",
		CheckoutURL:    "https://joy-buy-test.lovable.app/cart",
		Items: []Item{
			{ItemID: "i1", Title: "Wireless Mouse", PriceCents: 2999, Quantity: 1, URL: "https://joy-buy-test.lovable.app/cart"},
			{ItemID: "i2", Title: "USB-C Hub", PriceCents: 4550, Quantity: 2, URL: "https://joy-buy-test.lovable.app/cart"},
		},
		Totals: Totals{
			SubtotalCents: 12099,
			TotalCents:    12099,
			Currency:      "USD",
		},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestCanonicalTextMatchesSortedKeyEncoding(t *testing.T) {
	t.Parallel()

	want := `{"items": [{"price_cents": 2999, "quantity": 1, "title": "Wireless Mouse"}, {"price_cents": 4550, "quantity": 2, "title": "USB-C Hub"}], "merchant_origin": "https://joy-buy-test.lovable.app", "total_cents": 12099}`
	if got := CanonicalText(sampleCart()); got != want {
		t.Fatalf("unexpected canonical text:\n got %s\nwant %s", got, want)
	}
}

func TestFingerprintKnownVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cart Cart
		want string
	}{
		{
			name: "two items",
			cart: sampleCart(),
			want: "a2fe97a8ffc071099efea0f92c035895175e86a5a9b2a032d30278e138f66698",
		},
		{
			name: "non ascii title",
			cart: Cart{
				MerchantOrigin: "https://shop.example",
				Items:          []Item{{Title: "Café \"Crème\" \U0001F600\n", PriceCents: 100, Quantity: 1}},
				Totals:         Totals{TotalCents: 100},
			},
			want: "e780137ec17a34393bf2b6e9dd90626dd342a7bd656785e517c78f52ea7049d3",
		},
		{
			name: "empty cart",
			cart: Cart{MerchantOrigin: "https://shop.example"},
			want: "8ec49a0301b355bbe4a309d16e9174caf3b72c6a78eb5819990a09f63a2006fc",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Fingerprint(tc.cart); got != tc.want {
				t.Fatalf("fingerprint mismatch: got %s want %s", got, tc.want)
			}
		})
	}
}

func TestFingerprintIgnoresNonEconomicFields(t *testing.T) {
	t.Parallel()

	a := sampleCart()
	b := sampleCart()
	b.CartID = "cart-b"
	b.PlanID = "plan-2"
	b.CreatedAt = b.CreatedAt.Add(time.Hour)
	b.ExpiresAt = b.CreatedAt.Add(TTL)
	b.Totals.Currency = "EUR"
	b.Totals.TaxCents = Int64Ptr(700)
	b.Totals.ShippingCents = Int64Ptr(500)
	b.Totals.SubtotalCents = 1
	b.Items[0].ItemID = "other"
	b.Items[0].URL = "https://elsewhere.example"
	b.Items[0].Attributes = map[string]string{"color": "black"}
	b.Items[1].IsSubstitution = true

	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("expected identical fingerprints for economically equal carts")
	}
}

func TestFingerprintChangesOnEconomicEdits(t *testing.T) {
	t.Parallel()

	base := Fingerprint(sampleCart())
	edits := map[string]func(*Cart){
		"merchant": func(c *Cart) { c.MerchantOrigin = "https://other.example" },
		"price":    func(c *Cart) { c.Items[1].PriceCents++ },
		"quantity": func(c *Cart) { c.Items[0].Quantity = 3 },
		"title":    func(c *Cart) { c.Items[0].Title = "Wired Mouse" },
		"total":    func(c *Cart) { c.Totals.TotalCents = 12100 },
		"order":    func(c *Cart) { c.Items[0], c.Items[1] = c.Items[1], c.Items[0] },
	}
	for name, edit := range edits {
		c := sampleCart()
		edit(&c)
		if Fingerprint(c) == base {
			t.Fatalf("%s edit did not change fingerprint", name)
		}
	}
}

func TestComputeFingerprintStoresValue(t *testing.T) {
	t.Parallel()

	c := sampleCart()
	got := c.ComputeFingerprint()
	if got == "" || c.Fingerprint != got {
		t.Fatalf("expected fingerprint to be stored, got %q / %q", got, c.Fingerprint)
	}
}
