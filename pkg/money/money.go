// Package money converts integer cent amounts for display.
package money

import "github.com/shopspring/decimal"

// Dollars renders cents as a fixed two-place dollar string ("15.00").
func Dollars(cents int64) string {
	return decimal.NewFromInt(cents).Shift(-2).StringFixed(2)
}

// Cents parses a dollar amount string into cents, rounding half away from zero.
func Cents(dollars string) (int64, error) {
	d, err := decimal.NewFromString(dollars)
	if err != nil {
		return 0, err
	}
	return d.Shift(2).Round(0).IntPart(), nil
}
