package service

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	minUPILength = 5
	maxUPILength = 50
)

// ValidUPI accepts handle@provider payout identifiers.
func ValidUPI(fl validator.FieldLevel) bool {
	return isUPI(fl.Field().String())
}

func isUPI(id string) bool {
	if len(id) < minUPILength || len(id) > maxUPILength {
		return false
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return false
	}
	handle, provider, ok := strings.Cut(id, "@")
	return ok && handle != "" && provider != "" && !strings.Contains(provider, "@")
}

// RegisterValidators installs the ledger's custom tags on v.
func RegisterValidators(v *validator.Validate) error {
	return v.RegisterValidation("upi", ValidUPI)
}

type payoutDetails struct {
	UPIID string `validate:"required,upi"`
}

func newPayoutValidator() *validator.Validate {
	v := validator.New()
	if err := RegisterValidators(v); err != nil {
		panic(err)
	}
	return v
}

var payoutValidator = newPayoutValidator()

func validatePayoutID(upiID string) error {
	if err := payoutValidator.Struct(payoutDetails{UPIID: upiID}); err != nil {
		return badRequest(CodeInvalidUPI,
			"a valid UPI ID (name@bank, %d-%d characters) is required to redeem coins", minUPILength, maxUPILength)
	}
	return nil
}
