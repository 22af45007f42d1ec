package handlers

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Shared validator instance; validator.Validate caches struct metadata.
var validate = validator.New()

// ValidateRequest validates a decoded request body against its struct tags
// and returns a caller-facing message naming every failed field.
func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("validation failed: %w", err)
	}

	messages := make([]string, 0, len(ve))
	for _, fe := range ve {
		messages = append(messages, fmt.Sprintf("%s %s", fe.Field(), describeRule(fe)))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(messages, "; "))
}

// describeRule converts a validator tag to a caller-facing phrase. Messages
// name the rule, never the submitted value: login bodies carry credentials.
func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "ip":
		return "must be a valid IP address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed the %s rule", fe.Tag())
	}
}
