package enums

import "fmt"

// Currency represents the denominations the ledger can move.
// PV is point volume; VWC is the platform's internal coin.
type Currency string

const (
	CurrencyRUB Currency = "RUB"
	CurrencyVWC Currency = "VWC"
	CurrencyPV  Currency = "PV"
)

var validCurrencies = []Currency{
	CurrencyRUB,
	CurrencyVWC,
	CurrencyPV,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCurrency converts a raw string into a Currency.
func ParseCurrency(value string) (Currency, error) {
	for _, candidate := range validCurrencies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
