package authcore

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// RegisterInput is the registration request accepted by [Engine.Register].
type RegisterInput struct {
	Username    string `json:"username" validate:"required,min=3,max=100,username"`
	Email       string `json:"email" validate:"required,email,max=150"`
	Password    string `json:"password" validate:"required,min=8,max=100,strongpassword"`
	FirstName   string `json:"firstName" validate:"required,notblank,max=100"`
	LastName    string `json:"lastName" validate:"required,notblank,max=100"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,phone"`
}

// ValidationError reports which registration fields were rejected. It
// matches [ErrValidation] under errors.Is.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,}$`)
	phonePattern    = regexp.MustCompile(`^[+]?[(]?[0-9]{1,4}[)]?[-\s./0-9]*$`)
)

const passwordSpecials = "@$!%*?&"

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func registerValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		if err := RegisterValidators(v); err != nil {
			panic(err)
		}
		validate = v
	})
	return validate
}

// RegisterValidators installs the "username", "strongpassword", "phone" and
// "notblank" rules on v. HTTP layers call it on their binding validator so request
// structs can use the same tags.
func RegisterValidators(v *validator.Validate) error {
	if v == nil {
		return errors.New("nil validator")
	}
	if err := v.RegisterValidation("username", validateUsername); err != nil {
		return err
	}
	if err := v.RegisterValidation("strongpassword", validateStrongPassword); err != nil {
		return err
	}
	if err := v.RegisterValidation("phone", validatePhone); err != nil {
		return err
	}
	return v.RegisterValidation("notblank", validators.NotBlank)
}

func validateUsername(fl validator.FieldLevel) bool {
	return usernamePattern.MatchString(fl.Field().String())
}

func validatePhone(fl validator.FieldLevel) bool {
	return phonePattern.MatchString(fl.Field().String())
}

// validateStrongPassword requires at least 8 characters drawn from letters,
// digits and @$!%*?&, with one of each class present.
func validateStrongPassword(fl validator.FieldLevel) bool {
	password := fl.Field().String()
	if len(password) < 8 {
		return false
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(passwordSpecials, r):
			hasSpecial = true
		default:
			return false
		}
	}
	return hasUpper && hasLower && hasDigit && hasSpecial
}

// Validate checks in against the registration rules and returns a
// *[ValidationError] describing every rejected field.
func (in RegisterInput) Validate() error {
	err := registerValidator().Struct(in)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[fe.Field()] = validationMessage(fe)
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "must not be blank"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters long", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters long", fe.Param())
	case "username":
		return "may only contain letters, digits, dots, underscores and hyphens"
	case "strongpassword":
		return "must contain an upper-case letter, a lower-case letter, a digit and one of " + passwordSpecials
	case "phone":
		return "must be a valid phone number"
	default:
		return fmt.Sprintf("failed on %q", fe.Tag())
	}
}
