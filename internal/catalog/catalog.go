package catalog

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Product struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Category    string `json:"category"`
}

// Parse recovers products from storefront body text. The store renders each
// card as category, name, description and price on consecutive lines, so
// every line starting with "$" anchors a product on the lines above it.
// Cards that do not follow that shape are silently skipped.
func Parse(pageText string) []Product {
	lines := strings.Split(pageText, "\n")
	products := make([]Product, 0)
	for i, raw := range lines {
		price := strings.TrimSpace(raw)
		if !strings.HasPrefix(price, "$") || i < 2 {
			continue
		}
		name := strings.TrimSpace(lines[i-2])
		if name == "" || strings.HasPrefix(name, "$") {
			continue
		}
		product := Product{
			Name:        name,
			Description: strings.TrimSpace(lines[i-1]),
			Price:       price,
		}
		if i >= 3 {
			product.Category = strings.TrimSpace(lines[i-3])
		}
		products = append(products, product)
	}
	return products
}

// Format renders the catalog as the numbered list the find_product prompt
// expects.
func Format(products []Product) string {
	lines := make([]string, 0, len(products))
	for i, p := range products {
		lines = append(lines, fmt.Sprintf("%d. %s | %s | %s", i, p.Name, p.Description, p.Price))
	}
	return strings.Join(lines, "\n")
}

// PriceCents converts a display price such as "$1,299.99" to cents.
func PriceCents(display string) (int64, bool) {
	fields := strings.Fields(display)
	if len(fields) == 0 {
		return 0, false
	}
	text := strings.TrimPrefix(fields[0], "$")
	text = strings.ReplaceAll(text, ",", "")
	amount, err := decimal.NewFromString(text)
	if err != nil || amount.IsNegative() {
		return 0, false
	}
	return amount.Shift(2).Round(0).IntPart(), true
}
