package service

import (
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUPI(t *testing.T) {
	valid := []string{
		"alice@okbank",
		"a@b12",
		"9876543210@paytm",
		strings.Repeat("a", 44) + "@bank",
	}
	for _, id := range valid {
		assert.True(t, isUPI(id), id)
	}

	invalid := []string{
		"",
		"a@b1",
		"alice",
		"@okbank",
		"alice@",
		"al@ce@bank",
		"alice @bank",
		strings.Repeat("a", 46) + "@bank",
	}
	for _, id := range invalid {
		assert.False(t, isUPI(id), id)
	}
}

func TestValidatePayoutID(t *testing.T) {
	assert.NoError(t, validatePayoutID("alice@okbank"))
	assertRule(t, validatePayoutID(""), ErrBadRequest, CodeInvalidUPI)
	assertRule(t, validatePayoutID("alice.okbank"), ErrBadRequest, CodeInvalidUPI)
}

func TestRegisterValidators(t *testing.T) {
	v := validator.New()
	require.NoError(t, RegisterValidators(v))

	type payout struct {
		UPI string `validate:"omitempty,upi"`
	}
	assert.NoError(t, v.Struct(payout{}))
	assert.NoError(t, v.Struct(payout{UPI: "bob@upi"}))
	assert.Error(t, v.Struct(payout{UPI: "bob"}))
}
