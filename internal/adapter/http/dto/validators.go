package dto

import (
	"regexp"

	"ledger-mirror/pkg/units"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var safeStringRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]{1,64}$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("safe_id", validateSafeID)
		_ = v.RegisterValidation("ether_amount", validateEtherAmount)
	}
}

// validateSafeID allows alphanumeric, underscore, dash, and dot.
func validateSafeID(fl validator.FieldLevel) bool {
	return safeStringRe.MatchString(fl.Field().String())
}

// validateEtherAmount accepts a non-negative decimal with at most 18 places.
func validateEtherAmount(fl validator.FieldLevel) bool {
	_, err := units.ParseEther(fl.Field().String())
	return err == nil
}
