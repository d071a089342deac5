// Package validation checks user input before it reaches storage or the
// network.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const (
	MaxAttachments = 5
	MaxBioLength   = 1000
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type SignupInput struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type LoginInput struct {
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,min=8"`
}

type CreatePostInput struct {
	Content       string   `json:"content" validate:"required"`
	AttachmentIDs []string `json:"attachmentIds,omitempty" validate:"max=5,dive,required"`
}

type ProfileInput struct {
	DisplayName string `json:"displayName" validate:"required"`
	Bio         string `json:"bio" validate:"max=1000"`
}

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is returned for any rejected input. It lists every failing field.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// IsValidation reports whether err was produced by this package.
func IsValidation(err error) bool {
	var target *Error
	return errors.As(err, &target)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func engine() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return usernamePattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

func (in *SignupInput) Normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Password = strings.TrimSpace(in.Password)
}

func (in *LoginInput) Normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Password = strings.TrimSpace(in.Password)
}

func (in *CreatePostInput) Normalize() {
	in.Content = strings.TrimSpace(in.Content)
}

func (in *ProfileInput) Normalize() {
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Bio = strings.TrimSpace(in.Bio)
}

type normalizer interface {
	Normalize()
}

// Check normalizes input in place and validates it.
func Check(input normalizer) error {
	input.Normalize()
	err := engine().Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}
	out := &Error{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fieldName(fe), Message: message(fe)})
	}
	return out
}

func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return fe.StructField()
	}
	return strings.ToLower(name[:1]) + name[1:]
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Required"
	case "email":
		return "Invalid email address"
	case "username":
		return "Only letters, numbers, - and _ allowed"
	case "min":
		return fmt.Sprintf("Must be at least %s characters", fe.Param())
	case "max":
		if fe.Field() == "AttachmentIDs" {
			return fmt.Sprintf("Cannot have more than %s attachments", fe.Param())
		}
		return fmt.Sprintf("Must be at most %s characters", fe.Param())
	default:
		return "Invalid value"
	}
}
