package authcore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRegisterInput() RegisterInput {
	return RegisterInput{
		Username:    "john.doe",
		Email:       "john@example.com",
		Password:    "SecurePass123!",
		FirstName:   "John",
		LastName:    "Doe",
		PhoneNumber: "+905551234567",
	}
}

func TestRegisterInputValid(t *testing.T) {
	require.NoError(t, validRegisterInput().Validate())

	in := validRegisterInput()
	in.PhoneNumber = ""
	require.NoError(t, in.Validate(), "phone number is optional")
}

func TestRegisterInputRejectsFields(t *testing.T) {
	cases := map[string]func(*RegisterInput){
		"username":    func(in *RegisterInput) { in.Username = "jo" },
		"email":       func(in *RegisterInput) { in.Email = "not-an-email" },
		"password":    func(in *RegisterInput) { in.Password = "alllowercase1!" },
		"firstName":   func(in *RegisterInput) { in.FirstName = "" },
		"phoneNumber": func(in *RegisterInput) { in.PhoneNumber = "call me" },
	}

	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			in := validRegisterInput()
			mutate(&in)

			err := in.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, field)
		})
	}
}

func TestRegisterInputUsernameCharset(t *testing.T) {
	in := validRegisterInput()
	in.Username = "john doe"

	var verr *ValidationError
	require.True(t, errors.As(in.Validate(), &verr))
	assert.Contains(t, verr.Fields["username"], "letters")
}

func TestStrongPasswordRejectsForeignCharacters(t *testing.T) {
	in := validRegisterInput()
	in.Password = "SecurePass123#"

	assert.ErrorIs(t, in.Validate(), ErrValidation)
}

func TestRegisterInputRejectsBlankNames(t *testing.T) {
	in := validRegisterInput()
	in.FirstName = "   "
	in.LastName = "\t"

	err := in.Validate()
	require.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "must not be blank", verr.Fields["firstName"])
	assert.Equal(t, "must not be blank", verr.Fields["lastName"])
}
