package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittohdfs/pkg/fserror"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates options using struct tags and custom rules.
//
// Validation failures are Argument errors, so callers constructing a client
// can tell bad configuration apart from connection problems.
func Validate(opts *Options) error {
	if err := validate.Struct(opts); err != nil {
		return &fserror.Error{Kind: fserror.KindArgument, Op: "config", Err: formatValidationError(err)}
	}

	if err := validateCustomRules(opts); err != nil {
		return &fserror.Error{Kind: fserror.KindArgument, Op: "config", Err: err}
	}
	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(opts *Options) error {
	if opts.TicketCache != "" && opts.Token != "" {
		return fmt.Errorf("ticket_cache and token are mutually exclusive")
	}
	if opts.ServicePrincipal != "" && opts.TicketCache == "" {
		return fmt.Errorf("service_principal requires ticket_cache")
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
