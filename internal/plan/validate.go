package plan

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidPlan = errors.New("invalid shopping plan")

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	v.RegisterStructValidation(merchantRulesDisjoint, MerchantRules{})
	return v
}

func merchantRulesDisjoint(sl validator.StructLevel) {
	rules := sl.Current().Interface().(MerchantRules)
	allowed := make(map[string]struct{}, len(rules.Allowlist))
	for _, domain := range rules.Allowlist {
		allowed[domain] = struct{}{}
	}
	for _, domain := range rules.Blocklist {
		if _, ok := allowed[domain]; ok {
			sl.ReportError(rules.Blocklist, "blocklist", "Blocklist", "disjoint", domain)
			return
		}
	}
}

// Validate runs the structural checks on a plan. Every problem is reported
// in one error wrapping ErrInvalidPlan.
func Validate(p ShoppingPlan) error {
	err := structValidator.Struct(p)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return invalid
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, fieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidPlan, strings.Join(messages, "; "))
}

func fieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "min":
		return fmt.Sprintf("%s must have at least %s items", fe.Namespace(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Namespace(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Namespace(), fe.Param())
	case "disjoint":
		return fmt.Sprintf("merchant %s is in both allowlist and blocklist", fe.Param())
	default:
		return fmt.Sprintf("%s failed on %s validation", fe.Namespace(), fe.Tag())
	}
}
