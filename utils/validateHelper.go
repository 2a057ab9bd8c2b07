package utils

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator. Field names in errors are the json names,
// and the "phone" tag checks numbers against DEFAULT_PHONE_REGION.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			value := strings.TrimSpace(fl.Field().String())
			if value == "" {
				return true
			}
			return ValidatePhoneNumber(value, config.DefaultPhoneRegion()) == nil
		})
	})
	return validate
}

// ValidateStruct runs struct tag validation and returns field -> failed tag.
// A nil map means the value is valid.
func ValidateStruct(v any) (map[string]string, error) {
	err := Validator().Struct(v)
	if err == nil {
		return nil, nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil, err
	}
	return ProcessValidationErrors(validationErrors), nil
}

func ProcessValidationErrors(validationErrors validator.ValidationErrors) map[string]string {
	errorResponse := make(map[string]string, len(validationErrors))
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}
