package domain

import (
	"fmt"
	"net/mail"
	"strings"
)

// Address: почтовый адрес покупателя.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

// IsZero сообщает, что адрес не заполнен.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Validate допускает пустой адрес, но заполненный должен содержать улицу, город и ISO-код страны.
func (a Address) Validate() error {
	if a.IsZero() {
		return nil
	}
	if strings.TrimSpace(a.Line1) == "" || strings.TrimSpace(a.City) == "" {
		return fmt.Errorf("%w: line1 and city are required", ErrInvalidAddress)
	}
	if len(strings.TrimSpace(a.Country)) != 2 {
		return fmt.Errorf("%w: country must be a 2-letter code", ErrInvalidAddress)
	}
	return nil
}

// NormalizeEmail проверяет формат адреса и приводит его к нижнему регистру.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrInvalidEmail
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil || parsed.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return strings.ToLower(email), nil
}
