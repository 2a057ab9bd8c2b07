package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleForm struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phoneNo" validate:"phone"`
	Date  string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

func TestValidateStruct(t *testing.T) {
	t.Setenv("DEFAULT_PHONE_REGION", "IN")

	fields, err := ValidateStruct(sampleForm{Name: "Ravi", Phone: "9876543210", Date: "2024-03-01"})
	require.NoError(t, err)
	assert.Nil(t, fields)

	fields, err = ValidateStruct(sampleForm{Email: "nope", Phone: "12", Date: "01/03/2024"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"name":    "required",
		"email":   "email",
		"phoneNo": "phone",
		"date":    "datetime",
	}, fields)
}

func TestFormatPhoneNumber(t *testing.T) {
	formatted, err := FormatPhoneNumber("098765 43210", "IN")
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", formatted)

	_, err = FormatPhoneNumber("123", "IN")
	assert.Error(t, err)
}
