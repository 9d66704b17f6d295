package payments

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Money is an amount in a single ISO-4217 currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney builds a money value, normalizing the currency code.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	code, err := NormalizeCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: amount, Currency: code}, nil
}

// MustMoney parses a decimal string and panics on bad input. Intended for tests and constants.
func MustMoney(amount, currency string) Money {
	value, err := decimal.NewFromString(amount)
	if err != nil {
		panic(err)
	}
	m, err := NewMoney(value, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// NormalizeCurrency validates a three letter currency code.
func NormalizeCurrency(currency string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
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

// SameCurrency reports whether both values share a currency.
func (m Money) SameCurrency(other Money) bool {
	return m.Currency == other.Currency
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if !m.SameCurrency(other) {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other.
func (m Money) Sub(other Money) (Money, error) {
	if !m.SameCurrency(other) {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// IsPositive reports whether the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

// Equal compares amount and currency.
func (m Money) Equal(other Money) bool {
	return m.SameCurrency(other) && m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}

// ExchangeRateSnapshot freezes the rate used to settle a cross-currency payment.
type ExchangeRateSnapshot struct {
	Source     string          `json:"source"`
	Target     string          `json:"target"`
	Rate       decimal.Decimal `json:"rate"`
	CapturedAt time.Time       `json:"captured_at"`
}

// Convert applies the rate to an amount in the source currency.
func (s ExchangeRateSnapshot) Convert(amount Money) (Money, error) {
	if amount.Currency != s.Source {
		return Money{}, fmt.Errorf("%w: rate source %s, amount %s", ErrExchangeRateMismatch, s.Source, amount.Currency)
	}
	return Money{Amount: amount.Amount.Mul(s.Rate).Round(2), Currency: s.Target}, nil
}

func (s ExchangeRateSnapshot) validate() error {
	if _, err := NormalizeCurrency(s.Source); err != nil {
		return err
	}
	if _, err := NormalizeCurrency(s.Target); err != nil {
		return err
	}
	if !s.Rate.IsPositive() {
		return fmt.Errorf("%w: rate must be positive", ErrExchangeRateMismatch)
	}
	return nil
}
