package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number decodes any JSON value into a float64. Numbers and numeric strings keep their
// value; null, absent, NaN and everything else become 0. It never returns an error.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number(coerceFloat(b))
	return nil
}

// Count is the integer flavour of Number. Fractions are truncated.
type Count int64

func (c *Count) UnmarshalJSON(b []byte) error {
	*c = Count(math.Trunc(coerceFloat(b)))
	return nil
}

// ParseCount coerces plain report text, such as a TSV cell, to a count. Blank or
// non-numeric text is 0 and fractions are truncated.
func ParseCount(s string) int64 {
	return int64(math.Trunc(parseFloatText(s)))
}

// Money is a monetary amount as reported by the platform. Amount is kept as decimal text.
type Money struct {
	Amount       string
	CurrencyCode string
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var raw struct {
		Amount         json.RawMessage `json:"amount"`
		CurrencyAmount json.RawMessage `json:"currencyAmount"`
		CurrencyCode   json.RawMessage `json:"currencyCode"`
	}
	m.Amount = "0"
	m.CurrencyCode = ""
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}

	amt := raw.Amount
	if len(bytes.TrimSpace(amt)) == 0 || string(bytes.TrimSpace(amt)) == "null" {
		amt = raw.CurrencyAmount
	}
	if s, ok := decimalText(amt); ok {
		m.Amount = s
	}

	var cur string
	if json.Unmarshal(raw.CurrencyCode, &cur) == nil {
		m.CurrencyCode = strings.TrimSpace(cur)
	}
	return nil
}

func coerceFloat(b []byte) float64 {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return 0
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal([]byte(s), &str); err != nil {
			return 0
		}
		s = str
	}
	return parseFloatText(s)
}

func parseFloatText(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// decimalText returns the raw amount as decimal text when it is a finite number,
// either bare or quoted.
func decimalText(b []byte) (string, bool) {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return "", false
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal([]byte(s), &str); err != nil {
			return "", false
		}
		s = strings.TrimSpace(str)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	return s, true
}

// OrZero fills the amount of a Money that was absent from the payload.
func (m Money) OrZero() Money {
	if strings.TrimSpace(m.Amount) == "" {
		m.Amount = "0"
	}
	return m
}
