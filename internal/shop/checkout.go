package shop

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/VenkatGGG/shopping-agent/internal/cart"
	"github.com/VenkatGGG/shopping-agent/internal/payment"
)

var (
	ErrNoCard = errors.New("payment method is empty")

	successKeywords    = []string{"thank you", "confirmed", "order #", "receipt", "success"}
	orderNumberPattern = regexp.MustCompile(`(?i)order\s*(?:#|number|id)?[:\s]*([A-Z0-9-]+)`)
)

const (
	msgNoSubmitButton    = "Could not find submit button"
	msgNotConfirmed      = "Could not confirm purchase success from page content"
	msgSubmitFailed      = "Could not click submit button"
	msgConfirmUnreadable = "Could not read confirmation page"
)

// ProceedToCheckout clicks the first visible checkout control. It reports
// false, without error, when the page offers none.
func (s *Session) ProceedToCheckout(ctx context.Context) (bool, error) {
	for _, loc := range checkoutLocators {
		visible, err := s.driver.IsVisible(ctx, loc.selector, loc.text)
		if err != nil {
			if err := s.soft(ctx, "check "+loc.String(), err); err != nil {
				return false, err
			}
			continue
		}
		if !visible {
			continue
		}
		if err := s.driver.ClickSelector(ctx, loc.selector, loc.text, 0); err != nil {
			if err := s.soft(ctx, "click "+loc.String(), err); err != nil {
				return false, err
			}
			continue
		}
		if err := s.driver.WaitForLoad(ctx, s.cfg.LoadTimeout); err != nil && ctx.Err() == nil {
			s.logger.Printf("warning: checkout load wait failed: %v", err)
		}
		if err := s.sleep(ctx, s.cfg.CheckoutDelay); err != nil {
			return false, err
		}
		currentURL, _ := s.driver.CurrentURL(ctx)
		s.logger.Printf("checkout opened: via=%s url=%s", loc, currentURL)
		return true, nil
	}
	s.logger.Printf("warning: checkout button not found")
	return false, nil
}

// FillPaymentForm fills contact, billing and card fields. Card number,
// expiry and security code are required; everything else is best effort.
// Only field names are logged.
func (s *Session) FillPaymentForm(ctx context.Context, card *payment.Method) (bool, error) {
	if card.IsZero() {
		return false, ErrNoCard
	}
	if missing := card.Missing(); len(missing) > 0 {
		s.logger.Printf("payment method incomplete: missing=%s", strings.Join(missing, ","))
		return false, nil
	}

	f := &formFiller{session: s, ctx: ctx}
	f.fill("email", emailFields, card.Email)
	f.fill("phone", phoneFields, card.Phone)
	if contact := card.ContactInfo; contact != nil {
		f.fill("first_name", firstNameFields, contact.FirstName)
		f.fill("last_name", lastNameFields, contact.LastName)
		f.fill("address", addressFields, contact.Address)
		f.fill("city", cityFields, contact.City)
		f.fill("zip", zipFields, contact.ZipCode)
	}
	if billing := card.BillingAddress; billing != nil {
		f.fill("billing_street", addressFields, billing.Street)
		f.fill("billing_city", cityFields, billing.City)
		f.fill("billing_state", stateFields, billing.State)
		f.fill("billing_zip", zipFields, billing.Zip)
		f.fill("billing_country", countryFields, billing.Country)
	}

	if !f.fill("pan", panFields, card.PAN) {
		return f.required("card number")
	}

	expiry := card.ExpiryMMYY()
	filled := f.fill("expiry", expiryFields, expiry)
	if !filled && f.err == nil {
		month, year, _ := strings.Cut(expiry, "/")
		monthFilled := f.fill("exp_month", expiryMonthFields, month)
		yearFilled := f.fill("exp_year", expiryYearFields, year)
		filled = monthFilled && yearFilled
	}
	if !filled {
		return f.required("expiry date")
	}

	if !f.fill("cvv", cvvFields, card.CVV) {
		return f.required("security code")
	}

	f.fill("cardholder_name", cardholderFields, card.CardholderName)
	f.fill("billing_zip", zipFields, card.BillingZip)
	if f.err != nil {
		return false, f.err
	}
	return true, nil
}

// formFiller remembers the first hard error so the fill sequence reads as a
// flat list.
type formFiller struct {
	session *Session
	ctx     context.Context
	err     error
}

func (f *formFiller) fill(field string, selectors []string, value string) bool {
	if f.err != nil || value == "" {
		return false
	}
	for _, selector := range selectors {
		visible, err := f.session.driver.IsVisible(f.ctx, selector, "")
		if err != nil {
			if f.err = f.session.soft(f.ctx, "check "+field, err); f.err != nil {
				return false
			}
			continue
		}
		if !visible {
			continue
		}
		if err := f.session.driver.FillSelector(f.ctx, selector, value); err != nil {
			if f.err = f.session.soft(f.ctx, "fill "+field, err); f.err != nil {
				return false
			}
			continue
		}
		f.session.logger.Printf("filled field: %s", field)
		return true
	}
	return false
}

func (f *formFiller) required(what string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.session.logger.Printf("payment form incomplete: could not fill %s", what)
	return false, nil
}

// CompletePurchase submits the checkout form and reads the outcome from the
// confirmation page. It never returns an error; failures come back as an
// unsuccessful result.
func (s *Session) CompletePurchase(ctx context.Context) cart.PaymentResult {
	if bodyText, err := s.driver.InnerText(ctx, "body"); err == nil {
		currentURL, _ := s.driver.CurrentURL(ctx)
		if code, message := classifyBlocker(currentURL, bodyText); code != "" {
			s.logger.Printf("checkout blocked: code=%s", code)
			return s.failedPurchase(ctx, message)
		}
	}

	var submit *locator
	for i := range submitLocators {
		visible, err := s.driver.IsVisible(ctx, submitLocators[i].selector, submitLocators[i].text)
		if err != nil {
			if ctx.Err() != nil {
				return failedResult(ctx.Err().Error())
			}
			continue
		}
		if visible {
			submit = &submitLocators[i]
			break
		}
	}
	if submit == nil {
		return s.failedPurchase(ctx, msgNoSubmitButton)
	}

	if err := s.driver.ClickSelector(ctx, submit.selector, submit.text, 0); err != nil {
		s.logger.Printf("submit click failed: via=%s err=%v", submit, err)
		return s.failedPurchase(ctx, msgSubmitFailed)
	}
	s.logger.Printf("order submitted: via=%s, waiting for confirmation", submit)
	if err := s.sleep(ctx, s.cfg.SubmitDelay); err != nil {
		return failedResult(err.Error())
	}

	bodyText, err := s.driver.InnerText(ctx, "body")
	if err != nil {
		s.logger.Printf("read confirmation page failed: %v", err)
		return s.failedPurchase(ctx, msgConfirmUnreadable)
	}
	currentURL, _ := s.driver.CurrentURL(ctx)

	result := ReadConfirmation(bodyText, currentURL)
	if !result.Success {
		if code, message := classifyBlocker(currentURL, bodyText); code != "" {
			s.logger.Printf("purchase blocked after submit: code=%s", code)
			result.ErrorMessage = cart.StringPtr(message)
		}
		s.saveFailureScreenshot(ctx)
		return result
	}
	if result.ConfirmationNumber != nil {
		s.logger.Printf("purchase confirmed: confirmation=%s", *result.ConfirmationNumber)
	} else {
		s.logger.Printf("purchase confirmed without confirmation number")
	}
	return result
}

// ReadConfirmation decides from the page after submission whether the order
// went through, and pulls out an order number when one is shown.
func ReadConfirmation(pageText, currentURL string) cart.PaymentResult {
	lower := strings.ToLower(pageText)
	success := false
	for _, keyword := range successKeywords {
		if strings.Contains(lower, keyword) {
			success = true
			break
		}
	}

	result := cart.PaymentResult{Success: success}
	if currentURL != "" {
		result.ReceiptURL = cart.StringPtr(currentURL)
	}
	if !success {
		result.ErrorMessage = cart.StringPtr(msgNotConfirmed)
		return result
	}
	if match := orderNumberPattern.FindStringSubmatch(pageText); match != nil {
		result.ConfirmationNumber = cart.StringPtr(match[1])
	}
	return result
}

func (s *Session) failedPurchase(ctx context.Context, message string) cart.PaymentResult {
	s.saveFailureScreenshot(ctx)
	return failedResult(message)
}

func failedResult(message string) cart.PaymentResult {
	return cart.PaymentResult{Success: false, ErrorMessage: cart.StringPtr(message)}
}

func (s *Session) saveFailureScreenshot(ctx context.Context) {
	if s.cfg.Screenshots == nil || ctx.Err() != nil {
		return
	}
	data, err := s.driver.CaptureScreenshot(ctx)
	if err != nil {
		s.logger.Printf("capture failure screenshot: %v", err)
		return
	}
	name := s.cfg.RunID
	if name == "" {
		name = "purchase"
	}
	path, err := s.cfg.Screenshots.SaveScreenshotBase64(ctx, name+"-purchase-failed", data)
	if err != nil {
		s.logger.Printf("save failure screenshot: %v", err)
		return
	}
	s.logger.Printf("failure screenshot saved: path=%s", path)
}
