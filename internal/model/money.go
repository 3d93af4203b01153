package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cents is a signed amount in hundredths of the account currency.
type Cents int64

// CentsFromFloat rounds a float amount to the nearest cent.
func CentsFromFloat(f float64) Cents {
	return Cents(math.Round(f * 100))
}

// ParseCents parses amounts like "12.34", "-0.99", "$1,204.50" or "(5.00)".
func ParseCents(s string) (Cents, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := false
	if strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")") {
		negative = true
		raw = raw[1 : len(raw)-1]
	}
	raw = strings.NewReplacer("$", "", ",", "", " ", "").Replace(raw)
	if strings.HasPrefix(raw, "-") {
		negative = !negative
		raw = raw[1:]
	} else if strings.HasPrefix(raw, "+") {
		raw = raw[1:]
	}

	whole, frac, _ := strings.Cut(raw, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	c := Cents(w*100 + f)
	if negative {
		c = -c
	}
	return c, nil
}

// Float64 returns the amount in currency units.
func (c Cents) Float64() float64 {
	return float64(c) / 100
}

// String formats the amount with two decimals, e.g. "-12.05".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// CentsPtr returns a pointer to c.
func CentsPtr(c Cents) *Cents {
	return &c
}
