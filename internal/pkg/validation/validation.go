// Package validation registers the ledger's binding tags with gin's validator.
package validation

import (
	"fmt"

	"royalty-service/internal/domain/payment"
	"royalty-service/internal/domain/period"
	"royalty-service/internal/domain/subscription"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var rules = map[string]func(string) bool{
	"provider": func(s string) bool {
		_, err := payment.ParseProvider(s)
		return err == nil
	},
	"plan_type": func(s string) bool {
		_, err := subscription.ParsePlanType(s)
		return err == nil
	},
	"billing_cycle": func(s string) bool {
		_, err := subscription.ParseBillingCycle(s)
		return err == nil
	},
	"period": func(s string) bool {
		_, err := period.Parse(s)
		return err == nil
	},
}

// Register adds the custom tags to v.
func Register(v *validator.Validate) error {
	for tag, fn := range rules {
		check := fn
		if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return check(fl.Field().String())
		}); err != nil {
			return fmt.Errorf("register %s validation: %w", tag, err)
		}
	}
	return nil
}

// RegisterWithGin installs the tags on gin's default binding engine.
func RegisterWithGin() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected gin validator engine %T", binding.Validator.Engine())
	}
	return Register(v)
}
