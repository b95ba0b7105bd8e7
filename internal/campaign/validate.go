package campaign

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("variant", func(fl validator.FieldLevel) bool {
			v := Variant(fl.Field().String())

			return v == "" || v.Valid()
		})
	})

	return validate
}

// Validate checks s against its `validate` tags. Failures wrap ErrValidation.
func Validate(s any) error {
	err := validatorInstance().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %q", strings.ToLower(fe.Field()), fe.Tag()))
	}

	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, ", "))
}
