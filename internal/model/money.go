package model

import (
	"database/sql/driver"
	"fmt"

	"ergon.app/erp/common/apperr"
)

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyJPY Currency = "JPY"
	CurrencyCNY Currency = "CNY"
	CurrencyCAD Currency = "CAD"
	CurrencyAUD Currency = "AUD"
	CurrencyCHF Currency = "CHF"
	CurrencyINR Currency = "INR"
	CurrencyMXN Currency = "MXN"
)

var CurrencyValues = []Currency{
	CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyJPY, CurrencyCNY,
	CurrencyCAD, CurrencyAUD, CurrencyCHF, CurrencyINR, CurrencyMXN,
}

func ParseCurrency(s string) Currency {
	return parseEnum(s, CurrencyValues, CurrencyUSD)
}

func (c Currency) Valid() bool { return isVariant(c, CurrencyValues) }

func (c Currency) Value() (driver.Value, error) { return string(c), nil }

func (c *Currency) Scan(src any) error {
	v, err := scanEnum(src, CurrencyValues, CurrencyUSD, "Currency")
	*c = v
	return err
}

func (c *Currency) UnmarshalText(b []byte) error {
	*c = ParseCurrency(string(b))
	return nil
}

// Money is an amount in minor units of its currency.
type Money struct {
	Amount   int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

func NewMoney(amount int64, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

// ToDecimal converts minor units to a decimal amount. Every currency is
// divided by 100, zero-decimal currencies such as JPY included.
func (m Money) ToDecimal() float64 {
	return float64(m.Amount) / 100
}

// Add sums two amounts of the same currency.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, apperr.Validation("cannot add %s to %s", other.Currency, m.Currency)
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

func (m Money) String() string {
	sign := ""
	amount := m.Amount
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, m.Currency)
}
