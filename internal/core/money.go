package core

import (
	"strconv"
	"strings"
)

// ParseDecimalToCents parses a positive decimal amount into cents. Both
// "12.34" and "12,34" forms are accepted; anything beyond two fractional
// digits rounds half-up on the third digit. Signs, empty strings and zero
// amounts are rejected with ErrInvalidAmount.
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, ErrInvalidAmount
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	if strings.Contains(fracPart, ".") {
		return 0, ErrInvalidAmount
	}
	if intPart == "" {
		intPart = "0"
	}
	if !digitsOnly(intPart) || !digitsOnly(fracPart) {
		return 0, ErrInvalidAmount
	}
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil || whole > (1<<63-1)/100 {
		return 0, ErrInvalidAmount
	}
	cents := whole * 100
	switch {
	case len(fracPart) >= 2:
		cents += int64(fracPart[0]-'0')*10 + int64(fracPart[1]-'0')
		if len(fracPart) > 2 && fracPart[2] >= '5' {
			cents++
		}
	case len(fracPart) == 1:
		cents += int64(fracPart[0]-'0') * 10
	}
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Euros returns the amount as a floating euro value for display and export.
// Calculations stay in cents; this is presentation only.
func (m Money) Euros() float64 {
	return float64(m.Cents) / 100.0
}
