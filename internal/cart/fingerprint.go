package cart

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Fingerprint hashes the economically relevant part of a cart: the merchant
// origin, each item's title, price and quantity in order, and the total.
//
// The canonical text is a JSON object with sorted keys, ", " and ": "
// separators and ASCII-only string escapes. Carts fingerprinted by earlier
// versions of the agent produce the same bytes, so dedupe keys held by the
// approval service stay valid.
func Fingerprint(c Cart) string {
	sum := sha256.Sum256([]byte(CanonicalText(c)))
	return hex.EncodeToString(sum[:])
}

// ComputeFingerprint stores the fingerprint on the cart and returns it.
func (c *Cart) ComputeFingerprint() string {
	c.Fingerprint = Fingerprint(*c)
	return c.Fingerprint
}

func CanonicalText(c Cart) string {
	var b strings.Builder
	b.WriteString(`{"items": [`)
	for i, item := range c.Items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(`{"price_cents": `)
		b.WriteString(strconv.FormatInt(item.PriceCents, 10))
		b.WriteString(`, "quantity": `)
		b.WriteString(strconv.FormatInt(item.Quantity, 10))
		b.WriteString(`, "title": `)
		writeASCIIString(&b, item.Title)
		b.WriteString("}")
	}
	b.WriteString(`], "merchant_origin": `)
	writeASCIIString(&b, c.MerchantOrigin)
	b.WriteString(`, "total_cents": `)
	b.WriteString(strconv.FormatInt(c.Totals.TotalCents, 10))
	b.WriteString("}")
	return b.String()
}

const hexDigits = "0123456789abcdef"

// writeASCIIString quotes s with every byte outside printable ASCII escaped
// as \uXXXX (UTF-16 surrogate pairs above the BMP).
func writeASCIIString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r >= 0x20 && r <= 0x7e {
				b.WriteRune(r)
				continue
			}
			if r > 0xffff {
				hi, lo := utf16.EncodeRune(r)
				writeUnicodeEscape(b, hi)
				writeUnicodeEscape(b, lo)
				continue
			}
			writeUnicodeEscape(b, r)
		}
	}
	b.WriteByte('"')
}

func writeUnicodeEscape(b *strings.Builder, r rune) {
	b.WriteString(`\u`)
	b.WriteByte(hexDigits[(r>>12)&0xf])
	b.WriteByte(hexDigits[(r>>8)&0xf])
	b.WriteByte(hexDigits[(r>>4)&0xf])
	b.WriteByte(hexDigits[r&0xf])
}
