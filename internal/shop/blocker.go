package shop

import "strings"

const (
	blockerHumanVerification = "human_verification_required"
	blockerFormValidation    = "form_validation_error"
	blockerBotWall           = "bot_blocked"
	blockerPaymentDeclined   = "payment_declined"
)

var humanVerificationSignals = []string{
	"captcha",
	"hcaptcha",
	"recaptcha",
	"verify you are human",
	"prove you are human",
	"are you a robot",
	"complete the following challenge",
	"checking if the site connection is secure",
}

var declineSignals = []string{
	"card was declined",
	"card has been declined",
	"payment declined",
	"payment was declined",
	"insufficient funds",
}

// classifyBlocker inspects a checkout page for anything that will stop the
// order from going through. It returns empty strings when the page looks
// clear.
func classifyBlocker(url, bodyText string) (string, string) {
	haystack := strings.ToLower(strings.TrimSpace(url) + " " + strings.TrimSpace(bodyText))
	if strings.TrimSpace(haystack) == "" {
		return "", ""
	}

	for _, signal := range humanVerificationSignals {
		if strings.Contains(haystack, signal) {
			return blockerHumanVerification, "checkout requires human verification"
		}
	}
	if strings.Contains(haystack, "access denied") && strings.Contains(haystack, "bot") {
		return blockerBotWall, "merchant denied automated access"
	}
	if strings.Contains(haystack, "please fill out this field") {
		return blockerFormValidation, "checkout form has unfilled required fields"
	}
	for _, signal := range declineSignals {
		if strings.Contains(haystack, signal) {
			return blockerPaymentDeclined, "merchant declined the payment"
		}
	}
	return "", ""
}
