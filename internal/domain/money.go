package domain

import (
	"encoding/json"
	"fmt"
)

const DefaultCurrency = "KES"

// ProviderAmount converts cents to the whole-unit amount the push provider accepts.
// Half units round up and the result is never below 1.
func ProviderAmount(cents int64) int64 {
	units := (cents + 50) / 100
	if units < 1 {
		return 1
	}
	return units
}

// FormatCents renders cents as a decimal string with two places.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// DecimalAmount serializes cents as a JSON number with two decimals.
func DecimalAmount(cents int64) json.Number {
	return json.Number(FormatCents(cents))
}
