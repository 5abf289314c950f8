package core

import (
	"bytes"
	"strconv"
	"strings"
	"unicode"
)

// Quantity is an amount of product in thousandths of a unit. Discrete
// items only ever hold whole multiples of 1000; weighed items can carry
// up to three fraction digits by construction.
type Quantity struct {
	Milli int64
}

// QuantityFromUnits builds a whole-unit quantity (2 -> 2.000).
func QuantityFromUnits(n int64) Quantity {
	return Quantity{Milli: n * 1000}
}

// ParseDecimalToMilli converts a decimal string to thousandths with
// half-up rounding on the fourth decimal place. Accepts dot and comma
// separators, rejects signs and malformed input.
func ParseDecimalToMilli(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidQuantity
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidQuantity
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidQuantity
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidQuantity
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidQuantity
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidQuantity
	}
	const maxSafeInt64 = (1<<63 - 1) / 1000
	if iv > maxSafeInt64 {
		return 0, ErrInvalidQuantity
	}
	var frac int64
	scale := int64(100)
	for i := 0; i < len(fracPart) && i < 3; i++ {
		frac += int64(fracPart[i]-'0') * scale
		scale /= 10
	}
	if len(fracPart) > 3 && fracPart[3] >= '5' {
		frac++
	}
	return iv*1000 + frac, nil
}

// IsZero reports whether no quantity is set.
func (q Quantity) IsZero() bool {
	return q.Milli == 0
}

// Units returns the quantity as a float for display purposes.
func (q Quantity) Units() float64 {
	return float64(q.Milli) / 1000.0
}

// String renders whole quantities without fraction digits ("2") and
// fractional ones with exactly three ("1.100").
func (q Quantity) String() string {
	milli := q.Milli
	neg := milli < 0
	if neg {
		milli = -milli
	}
	s := strconv.FormatInt(milli/1000, 10)
	if rem := milli % 1000; rem != 0 {
		s += "." + pad3(rem)
	}
	if neg {
		return "-" + s
	}
	return s
}

// MarshalJSON encodes the quantity as a plain decimal number.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(data), `"`))
	if s == "null" {
		return nil
	}
	milli, err := ParseDecimalToMilli(s)
	if err != nil {
		return err
	}
	q.Milli = milli
	return nil
}

func pad3(n int64) string {
	s := strconv.FormatInt(n, 10)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
