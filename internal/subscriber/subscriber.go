// Package subscriber parses subscriber-supplied fields.
//
// Parsing happens at the edges: when a form is submitted, and again when the
// delivery worker pulls an address back out of the queue table.
package subscriber

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidEmail = errors.New("invalid subscriber email")
	ErrInvalidName  = errors.New("invalid subscriber name")
)

// maxNameLength counts runes, not bytes.
const maxNameLength = 256

const forbiddenNameChars = `/()"<>\{}`

var validate = validator.New(validator.WithRequiredStructEnabled())

// Email is an address that passed validation.
type Email string

func (e Email) String() string { return string(e) }

// Name is a display name that passed validation.
type Name string

func (n Name) String() string { return string(n) }

// ParseEmail validates raw as an email address.
func ParseEmail(raw string) (Email, error) {
	if err := validate.Var(raw, "required,max=254,email"); err != nil {
		return "", ErrInvalidEmail
	}
	return Email(raw), nil
}

// ParseName rejects empty or whitespace-only names, names over 256 runes,
// and names containing any of /()"<>\{}.
func ParseName(raw string) (Name, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrInvalidName
	}
	if utf8.RuneCountInString(raw) > maxNameLength {
		return "", ErrInvalidName
	}
	if strings.ContainsAny(raw, forbiddenNameChars) {
		return "", ErrInvalidName
	}
	return Name(raw), nil
}

// New bundles a parsed email and name, as submitted by the subscribe form.
type New struct {
	Email Email
	Name  Name
}

// ParseNew validates both fields. The first failure wins.
func ParseNew(rawEmail, rawName string) (New, error) {
	name, err := ParseName(rawName)
	if err != nil {
		return New{}, err
	}
	email, err := ParseEmail(rawEmail)
	if err != nil {
		return New{}, err
	}
	return New{Email: email, Name: name}, nil
}
