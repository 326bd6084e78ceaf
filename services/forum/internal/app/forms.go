package app

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterForm is the signup form.
type RegisterForm struct {
	Name      string `form:"name" validate:"max=200"`
	Username  string `form:"username" validate:"required,max=150,username"`
	Email     string `form:"email" validate:"required,max=254,email"`
	Password1 string `form:"password1" validate:"required"`
	Password2 string `form:"password2" validate:"required,eqfield=Password1"`
}

// ProfileForm edits the public profile of the signed-in user.
type ProfileForm struct {
	Name     string `form:"name" validate:"max=200"`
	Username string `form:"username" validate:"required,max=150,username"`
	Email    string `form:"email" validate:"required,max=254,email"`
	Bio      string `form:"bio" validate:"max=2000"`
}

// RoomForm creates or edits a room. Topic is a free-text name.
type RoomForm struct {
	Topic       string `form:"topic" validate:"required,max=200"`
	Name        string `form:"name" validate:"required,max=200"`
	Description string `form:"description" validate:"max=5000"`
}

// Upload is a file submitted with a form.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return validUsername(fl.Field().String())
	})
	return v
}

// validUsername allows letters, digits and @ . + - _ only.
func validUsername(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("@.+-_", r):
		default:
			return false
		}
	}
	return true
}

// validateForm runs struct validation and converts failures to a ValidationError.
func (a *App) validateForm(form any) *ValidationError {
	err := a.validate.Struct(form)
	if err == nil {
		return nil
	}
	out := &ValidationError{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out.add("__all__", err.Error())
		return out
	}
	for _, fe := range verrs {
		out.add(fe.Field(), fieldMessage(fe))
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "max":
		return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
	case "eqfield":
		return "The two password fields didn't match."
	case "username":
		return "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."
	default:
		return "Enter a valid value."
	}
}
