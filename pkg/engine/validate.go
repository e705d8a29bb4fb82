package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// optionsValidator checks operation options before anything is staged.
var optionsValidator = validator.New()

// ValidateOperation checks op's options. It returns an invalid_options
// *OperationError describing every failed field.
func ValidateOperation(op Operation) error {
	if op == nil {
		return (&OperationError{
			Kind:    FailureInvalidOptions,
			Message: "no operation given",
		}).WithCode(ErrCodeValidation)
	}

	if _, ok := op.(Linearize); ok {
		return nil
	}

	err := optionsValidator.Struct(op)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return (&OperationError{
			Kind:    FailureInvalidOptions,
			Message: "invalid operation options",
			Err:     err,
		}).WithOperation(op.Kind()).WithCode(ErrCodeValidation)
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describeFieldError(fe))
	}

	return (&OperationError{
		Kind:    FailureInvalidOptions,
		Message: strings.Join(problems, "; "),
		Err:     err,
	}).WithOperation(op.Kind()).WithCode(ErrCodeValidation)
}

// describeFieldError renders a field error without echoing its value,
// which may be a password.
func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fieldLabel(fe.Field()))
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fieldLabel(fe.Field()), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fieldLabel(fe.Field()), fe.Tag())
	}
}

func fieldLabel(field string) string {
	switch field {
	case "UserPassword":
		return "user password"
	case "OwnerPassword":
		return "owner password"
	case "KeyLength":
		return "key length"
	case "Password":
		return "password"
	default:
		return strings.ToLower(field)
	}
}
