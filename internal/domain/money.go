package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency используется, когда валюта не указана явно.
const DefaultCurrency = "USD"

// moneyScale: количество знаков после запятой для денежных сумм.
const moneyScale = 2

var hundred = decimal.NewFromInt(100)

// Money: денежная сумма в конкретной валюте.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney создаёт сумму, округлённую до центов.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: RoundMoney(amount), Currency: currency}
}

// ZeroMoney возвращает нулевую сумму в валюте.
func ZeroMoney(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Add складывает суммы одной валюты.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.Amount.Add(other.Amount), m.Currency), nil
}

// Sub вычитает сумму той же валюты.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.Amount.Sub(other.Amount), m.Currency), nil
}

// Mul умножает сумму на множитель.
func (m Money) Mul(factor decimal.Decimal) Money {
	return NewMoney(m.Amount.Mul(factor), m.Currency)
}

// Div делит сумму; деление на ноль считается ошибкой ввода.
func (m Money) Div(divisor decimal.Decimal) (Money, error) {
	if divisor.IsZero() {
		return Money{}, ErrDivisionByZero
	}
	return NewMoney(m.Amount.Div(divisor), m.Currency), nil
}

// Percentage возвращает pct процентов от суммы.
func (m Money) Percentage(pct decimal.Decimal) Money {
	return NewMoney(m.Amount.Mul(pct).Div(hundred), m.Currency)
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(moneyScale), m.Currency)
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return nil
}

// RoundMoney округляет half-up до двух знаков.
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(moneyScale)
}

// NormalizeCurrency приводит код валюты к верхнему регистру и подставляет валюту по умолчанию.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency, nil
	}
	if len(code) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return code, nil
}

// ValidateQuantity отклоняет неположительные количества.
func ValidateQuantity(qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, qty)
	}
	return nil
}
