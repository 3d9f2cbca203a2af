package mpesa

import (
	"fmt"
	"strings"

	"github.com/fjod/go_shop/internal/domain"
)

const countryCode = "254"

// NormalizePhone converts a Kenyan mobile number to the 2547XXXXXXXX form Daraja expects.
// Accepted inputs after stripping non-digits: 254XXXXXXXXX, 0XXXXXXXXX and XXXXXXXXX,
// where the 9-digit subscriber part does not start with 0.
func NormalizePhone(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)

	var subscriber string
	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, countryCode):
		subscriber = digits[3:]
	case len(digits) == 10 && digits[0] == '0':
		subscriber = digits[1:]
	case len(digits) == 9:
		subscriber = digits
	}
	// Subscriber numbers never start with the trunk prefix.
	if subscriber == "" || subscriber[0] == '0' {
		return "", fmt.Errorf("%q: %w", raw, domain.ErrInvalidPhone)
	}
	return countryCode + subscriber, nil
}
