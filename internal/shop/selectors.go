package shop

import "fmt"

// locator is a CSS selector optionally narrowed to elements whose text
// contains text, case-insensitively.
type locator struct {
	selector string
	text     string
}

func (l locator) String() string {
	if l.text == "" {
		return l.selector
	}
	return fmt.Sprintf("%s:has-text(%q)", l.selector, l.text)
}

const (
	addButtonText = "Add"
	cartLink      = `a[href="/cart"]`
)

var checkoutLocators = []locator{
	{selector: "button", text: "Proceed to Checkout"},
	{selector: "button", text: "Checkout"},
	{selector: "button", text: "Continue to Checkout"},
	{selector: "button", text: "Go to Checkout"},
	{selector: "a", text: "Proceed to Checkout"},
	{selector: "a", text: "Checkout"},
	{selector: `[data-testid="checkout-button"]`},
	{selector: `[data-testid="proceed-checkout"]`},
	{selector: ".checkout-button"},
	{selector: "#checkout-button"},
	{selector: `a[href*="/checkout"]`},
}

var submitLocators = []locator{
	{selector: `button[type="submit"]`},
	{selector: "button", text: "Pay"},
	{selector: "button", text: "Place Order"},
	{selector: "button", text: "Complete Purchase"},
	{selector: "button", text: "Submit Order"},
	{selector: `[data-testid="submit-button"]`},
}

// Payment form field groups, most specific selector first.
var (
	panFields = []string{
		`input[name="cardNumber"]`,
		`input[name="card-number"]`,
		`input[name="cc-number"]`,
		`input[id="cardNumber"]`,
		`input[id="card-number"]`,
		`input[autocomplete="cc-number"]`,
		`input[data-testid="card-number"]`,
		`input[placeholder*="card number" i]`,
		`input[aria-label*="card number" i]`,
	}
	cvvFields = []string{
		`input[name="cvv"]`,
		`input[name="cvc"]`,
		`input[name="securityCode"]`,
		`input[name="cc-csc"]`,
		`input[autocomplete="cc-csc"]`,
		`input[data-testid="cvv"]`,
		`input[placeholder*="CVV" i]`,
		`input[placeholder*="CVC" i]`,
		`input[placeholder*="security" i]`,
	}
	cardholderFields = []string{
		`input[name="cardholderName"]`,
		`input[name="cardholder-name"]`,
		`input[name="cc-name"]`,
		`input[autocomplete="cc-name"]`,
		`input[placeholder*="name on card" i]`,
		`input[placeholder*="cardholder" i]`,
	}
	zipFields = []string{
		`input[name="billingZip"]`,
		`input[name="postalCode"]`,
		`input[name="postal-code"]`,
		`input[name="zip"]`,
		`input[autocomplete="postal-code"]`,
		`input[placeholder*="zip" i]`,
		`input[placeholder*="postal" i]`,
	}
	emailFields = []string{
		`input[name="email"]`,
		`input[type="email"]`,
		`input[autocomplete="email"]`,
		`input[placeholder*="email" i]`,
	}
	phoneFields = []string{
		`input[name="phone"]`,
		`input[name="telephone"]`,
		`input[name="mobile"]`,
		`input[autocomplete="tel"]`,
		`input[placeholder*="phone" i]`,
	}
	firstNameFields = []string{
		`input[name="firstName"]`,
		`input[name="first-name"]`,
		`input[autocomplete="given-name"]`,
		`input[placeholder*="first name" i]`,
	}
	lastNameFields = []string{
		`input[name="lastName"]`,
		`input[name="last-name"]`,
		`input[autocomplete="family-name"]`,
		`input[placeholder*="last name" i]`,
	}
	addressFields = []string{
		`input[name="address"]`,
		`input[name="street"]`,
		`input[name="address1"]`,
		`input[autocomplete="address-line1"]`,
		`input[placeholder*="address" i]`,
	}
	cityFields = []string{
		`input[name="city"]`,
		`input[autocomplete="address-level2"]`,
		`input[placeholder*="city" i]`,
	}
	stateFields = []string{
		`input[name="state"]`,
		`input[name="region"]`,
		`input[autocomplete="address-level1"]`,
		`input[placeholder*="state" i]`,
		`select[name="state"]`,
	}
	countryFields = []string{
		`input[name="country"]`,
		`select[name="country"]`,
		`input[autocomplete="country"]`,
	}
	expiryFields = []string{
		`input[name="expiry"]`,
		`input[name="cardExpiry"]`,
		`input[name="cc-exp"]`,
		`input[autocomplete="cc-exp"]`,
		`input[placeholder*="MM/YY" i]`,
	}
	expiryMonthFields = []string{
		`input[name="expiryMonth"]`,
		`select[name="expiryMonth"]`,
		`input[autocomplete="cc-exp-month"]`,
	}
	expiryYearFields = []string{
		`input[name="expiryYear"]`,
		`select[name="expiryYear"]`,
		`input[autocomplete="cc-exp-year"]`,
	}
)
