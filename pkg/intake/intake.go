// Package intake checks the contact form a respondent fills in before the quiz.
package intake

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/go-playground/validator/v10"
)

// ValidationErrors maps a form field to its message
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + v[f]
	}
	return "invalid intake: " + strings.Join(parts, "; ")
}

type form struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	ProfileURL string `json:"profileUrl" validate:"omitempty,url,linkedin"`
}

var messages = map[string]map[string]string{
	"name": {
		"required": "Name is required",
	},
	"email": {
		"required": "Email is required",
		"email":    "Please enter a valid email address",
	},
	"profileUrl": {
		"url":      "Please enter a valid LinkedIn URL",
		"linkedin": "Please enter a valid LinkedIn URL",
	},
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("linkedin", func(fl validator.FieldLevel) bool {
		return strings.Contains(strings.ToLower(fl.Field().String()), "linkedin.com")
	})
	return v
}

// Normalize trims every field
func Normalize(in models.UserInput) models.UserInput {
	return models.UserInput{
		Name:       strings.TrimSpace(in.Name),
		Email:      strings.TrimSpace(in.Email),
		ProfileURL: strings.TrimSpace(in.ProfileURL),
	}
}

// Validate normalizes in and checks it. The error, when non-nil, is a ValidationErrors.
func Validate(in models.UserInput) (models.UserInput, error) {
	in = Normalize(in)
	err := validate.Struct(form{Name: in.Name, Email: in.Email, ProfileURL: in.ProfileURL})
	if err == nil {
		return in, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return in, err
	}
	out := ValidationErrors{}
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := out[field]; seen {
			continue
		}
		msg, ok := messages[field][fe.Tag()]
		if !ok {
			msg = "Invalid value"
		}
		out[field] = msg
	}
	return in, out
}
