package auth

import (
	"chat-relay/errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

type Credentials struct {
	Username string `validate:"required,min=1,max=32,username"`
	Password string `validate:"required,min=1,max=72"`
}

// ValidateCredentials checks the shape of a handshake before any lookup or hashing.
// Usernames are restricted so they can be used verbatim inside storage keys.
func ValidateCredentials(username, password string) error {
	err := validate.Struct(Credentials{Username: username, Password: password})
	if err == nil {
		return nil
	}
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fieldErr := range validationErrors {
			if fieldErr.Field() == "Username" {
				return fmt.Errorf("%w: %s", errors.ErrInvalidUsername, fieldErr.Tag())
			}
		}
		return fmt.Errorf("%w: %v", errors.ErrInvalidPassword, validationErrors)
	}
	return err
}

// ValidUsername reports whether s could be a registered username.
func ValidUsername(s string) bool {
	return len(s) > 0 && len(s) <= 32 && usernamePattern.MatchString(s)
}
