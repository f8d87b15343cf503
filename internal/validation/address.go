package validation

import (
	"fmt"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

const DefaultCountry = "India"

// Address is the shipping address captured on the checkout form.
type Address struct {
	FirstName string `json:"firstName" dynamodbav:"first_name"`
	LastName  string `json:"lastName" dynamodbav:"last_name"`
	Email     string `json:"email" dynamodbav:"email"`
	Phone     string `json:"phone" dynamodbav:"phone"`
	Street    string `json:"street" dynamodbav:"street"`
	City      string `json:"city" dynamodbav:"city"`
	State     string `json:"state" dynamodbav:"state"`
	Pincode   string `json:"pincode" dynamodbav:"pincode"`
	Country   string `json:"country" dynamodbav:"country"`
}

// ValidationError names the single form field that failed.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validate = validatorv10.New()

type requiredField struct {
	name    string
	value   func(Address) string
	message string
}

// order matters: the first empty field is the one reported
var requiredFields = []requiredField{
	{"firstName", func(a Address) string { return a.FirstName }, "First name is required"},
	{"lastName", func(a Address) string { return a.LastName }, "Last name is required"},
	{"email", func(a Address) string { return a.Email }, "Email is required"},
	{"phone", func(a Address) string { return a.Phone }, "Phone number is required"},
	{"street", func(a Address) string { return a.Street }, "Street address is required"},
	{"city", func(a Address) string { return a.City }, "City is required"},
	{"state", func(a Address) string { return a.State }, "State is required"},
	{"pincode", func(a Address) string { return a.Pincode }, "Pincode is required"},
}

// ValidateAddress returns the first failing field as a *ValidationError, or nil.
func ValidateAddress(a Address) error {
	for _, f := range requiredFields {
		if err := validate.Var(strings.TrimSpace(f.value(a)), "required"); err != nil {
			return &ValidationError{Field: f.name, Message: f.message}
		}
	}

	if err := validate.Var(PhoneDigits(a.Phone), "len=10"); err != nil {
		return &ValidationError{Field: "phone", Message: "Phone number must be 10 digits"}
	}

	if err := validate.Var(strings.TrimSpace(a.Pincode), "len=6,number"); err != nil {
		return &ValidationError{Field: "pincode", Message: "Pincode must be 6 digits"}
	}

	return nil
}

// PhoneDigits strips everything but digits, so "+91 98765-43210" keeps 12.
func PhoneDigits(phone string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
}

// Normalized trims every field and fills the default country.
func (a Address) Normalized() Address {
	out := Address{
		FirstName: strings.TrimSpace(a.FirstName),
		LastName:  strings.TrimSpace(a.LastName),
		Email:     strings.TrimSpace(a.Email),
		Phone:     PhoneDigits(a.Phone),
		Street:    strings.TrimSpace(a.Street),
		City:      strings.TrimSpace(a.City),
		State:     strings.TrimSpace(a.State),
		Pincode:   strings.TrimSpace(a.Pincode),
		Country:   strings.TrimSpace(a.Country),
	}
	if out.Country == "" {
		out.Country = DefaultCountry
	}
	return out
}
