package validator

import (
	"fmt"
	"strconv"
	"strings"
)

// NumberFormat parses and re-formats numeric values for one decimal-separator
// convention.
type NumberFormat struct {
	DecimalSeparator  rune `json:"decimalSeparator,omitempty"`
	GroupingSeparator rune `json:"groupingSeparator,omitempty"`
}

// PointFormat is the 1,234.56 convention.
var PointFormat = NumberFormat{DecimalSeparator: '.', GroupingSeparator: ','}

// CommaFormat is the 1.234,56 convention.
var CommaFormat = NumberFormat{DecimalSeparator: ',', GroupingSeparator: '.'}

func (f NumberFormat) normalized() NumberFormat {
	if f.DecimalSeparator == 0 {
		return PointFormat
	}
	return f
}

// Parse interprets a raw string under the format's separators.
func (f NumberFormat) Parse(value string) (float64, error) {
	f = f.normalized()

	cleaned := strings.TrimSpace(value)
	if f.GroupingSeparator != 0 {
		cleaned = strings.ReplaceAll(cleaned, string(f.GroupingSeparator), "")
	}
	if f.DecimalSeparator != '.' {
		if strings.Count(cleaned, string(f.DecimalSeparator)) > 1 {
			return 0, fmt.Errorf("%q is not a valid number", value)
		}
		cleaned = strings.ReplaceAll(cleaned, string(f.DecimalSeparator), ".")
	}

	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a valid number", value)
	}
	return parsed, nil
}

// Format renders a parsed number back in the format's convention for display.
func (f NumberFormat) Format(value float64) string {
	f = f.normalized()

	rendered := strconv.FormatFloat(value, 'f', -1, 64)
	if f.DecimalSeparator != '.' {
		rendered = strings.ReplaceAll(rendered, ".", string(f.DecimalSeparator))
	}
	return rendered
}
