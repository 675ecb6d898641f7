package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrNotObject = errors.New("payment payload is not a JSON object")

const redacted = "[redacted]"

type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`
}

type ContactInfo struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	ZipCode   string `json:"zipCode,omitempty"`
}

// Method is a plaintext card released by the approval service. It lives only
// between decryption and the checkout form fill; callers must Zero it right
// after use. Its String, GoString and MarshalJSON forms are redacted.
type Method struct {
	PAN            string
	ExpMonth       string
	ExpYear        string
	CVV            string
	CardholderName string
	BillingZip     string
	BillingAddress *Address
	Email          string
	Phone          string
	ContactInfo    *ContactInfo
}

// Decode reads a card payload in either the snake_case or the camelCase
// naming scheme. Month and year may be numbers or strings.
func Decode(raw []byte) (*Method, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode payment payload: %w", err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return fromObject(obj), nil
}

func fromObject(obj map[string]any) *Method {
	m := &Method{
		PAN:            first(obj, "pan", "cardNumber"),
		ExpMonth:       first(obj, "exp_month", "expiryMonth"),
		ExpYear:        first(obj, "exp_year", "expiryYear"),
		CVV:            first(obj, "cvv", "securityCode"),
		CardholderName: first(obj, "cardholder_name", "cardholderName"),
		BillingZip:     first(obj, "billing_zip", "billingZip"),
		Email:          first(obj, "email"),
		Phone:          first(obj, "phone"),
	}

	if address, ok := obj["billingAddress"].(map[string]any); ok && len(address) > 0 {
		m.BillingAddress = &Address{
			Street:  first(address, "street"),
			City:    first(address, "city"),
			State:   first(address, "state"),
			Zip:     first(address, "zip"),
			Country: first(address, "country"),
		}
		if m.BillingZip == "" {
			m.BillingZip = m.BillingAddress.Zip
		}
	}
	if contact, ok := obj["contactInfo"].(map[string]any); ok && len(contact) > 0 {
		m.ContactInfo = &ContactInfo{
			FirstName: first(contact, "firstName"),
			LastName:  first(contact, "lastName"),
			Address:   first(contact, "address"),
			City:      first(contact, "city"),
			ZipCode:   first(contact, "zipCode"),
		}
	}
	return m
}

func first(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		switch value := obj[key].(type) {
		case string:
			if value != "" {
				return value
			}
		case json.Number:
			return value.String()
		}
	}
	return ""
}

// LoadMock reads a card payload from the file named by arg, or parses arg
// itself as inline JSON when no such file exists.
func LoadMock(arg string) (*Method, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, errors.New("mock payload is empty")
	}
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		raw, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("read mock payload: %w", err)
		}
		return Decode(raw)
	}
	return Decode([]byte(arg))
}

// ExpiryMMYY renders the expiry for a combined field: zero-padded month and
// the last two digits of the year.
func (m *Method) ExpiryMMYY() string {
	month := strings.TrimSpace(m.ExpMonth)
	if len(month) < 2 {
		month = strings.Repeat("0", 2-len(month)) + month
	}
	year := strings.TrimSpace(m.ExpYear)
	if len(year) > 2 {
		year = year[len(year)-2:]
	}
	return month + "/" + year
}

// Missing names the mandatory card fields that are empty.
func (m *Method) Missing() []string {
	var missing []string
	if strings.TrimSpace(m.PAN) == "" {
		missing = append(missing, "pan")
	}
	if strings.TrimSpace(m.ExpMonth) == "" {
		missing = append(missing, "exp_month")
	}
	if strings.TrimSpace(m.ExpYear) == "" {
		missing = append(missing, "exp_year")
	}
	if strings.TrimSpace(m.CVV) == "" {
		missing = append(missing, "cvv")
	}
	return missing
}

// Zero drops every card and contact value held by m. Safe on nil.
func (m *Method) Zero() {
	if m == nil {
		return
	}
	*m = Method{}
}

func (m *Method) IsZero() bool {
	return m == nil || *m == Method{}
}

func (m Method) String() string {
	return "payment.Method{" + redacted + "}"
}

func (m Method) GoString() string {
	return m.String()
}

func (m Method) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

// Last4 is the only card fragment that may appear in logs.
func (m *Method) Last4() string {
	digits := strings.ReplaceAll(strings.TrimSpace(m.PAN), " ", "")
	if len(digits) < 4 {
		return ""
	}
	return digits[len(digits)-4:]
}
