package validator

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DateFamily selects which regional pattern set a date value is parsed with.
type DateFamily string

const (
	DateFamilyISO      DateFamily = "iso"
	DateFamilyEuropean DateFamily = "european"
	DateFamilyAmerican DateFamily = "american"
)

type patternSet struct {
	withTime []string
	dateOnly []string
	twoDigit []string
}

var familyPatterns = map[DateFamily]patternSet{
	DateFamilyISO: {
		withTime: []string{
			time.RFC3339,
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05",
			"2006-01-02 15:04",
			"2006/01/02 15:04:05",
		},
		dateOnly: []string{
			"2006-01-02",
			"2006/01/02",
			"2006.01.02",
		},
		// ISO never accepts two-digit years.
		twoDigit: nil,
	},
	DateFamilyEuropean: {
		withTime: []string{
			"02/01/2006 15:04:05",
			"02/01/2006 15:04",
			"02-01-2006 15:04:05",
			"02.01.2006 15:04:05",
			"02.01.2006 15:04",
		},
		dateOnly: []string{
			"02/01/2006",
			"02-01-2006",
			"02.01.2006",
			"2 January 2006",
			"2 Jan 2006",
		},
		twoDigit: []string{
			"02/01/06",
			"02-01-06",
			"02.01.06",
		},
	},
	DateFamilyAmerican: {
		withTime: []string{
			"01/02/2006 3:04:05 PM",
			"01/02/2006 3:04 PM",
			"01/02/2006 15:04:05",
			"01/02/2006 15:04",
			"01-02-2006 15:04:05",
		},
		dateOnly: []string{
			"01/02/2006",
			"01-02-2006",
			"January 2, 2006",
			"Jan 2, 2006",
		},
		twoDigit: []string{
			"01/02/06",
			"01-02-06",
		},
	},
}

var familyLabels = map[DateFamily]string{
	DateFamilyISO:      "ISO (YYYY-MM-DD)",
	DateFamilyEuropean: "European (DD/MM/YYYY)",
	DateFamilyAmerican: "American (MM/DD/YYYY)",
}

// timeComponentPattern decides whether a value looks like it carries a time
// component, so the with-time pattern set is tried first and cannot partially
// match a date-only pattern.
var timeComponentPattern = regexp.MustCompile(`\d{1,2}:\d{2}`)

// InvalidDateError names the expected family when no pattern accepts a value.
type InvalidDateError struct {
	Family DateFamily
	Value  string
}

func (e *InvalidDateError) Error() string {
	label, ok := familyLabels[e.Family]
	if !ok {
		label = familyLabels[DateFamilyISO]
	}
	return fmt.Sprintf("%q is not a valid %s date", e.Value, label)
}

// ParseDate parses a date or datetime value under the declared family. The
// with-time set is tried first when the value appears to contain a time
// component; two-digit-year patterns are attempted only after every
// four-digit pattern of the family has failed. A value that matches no
// pattern in its declared family is an error even if another family would
// accept it.
func ParseDate(family DateFamily, value string) (time.Time, error) {
	if family == "" {
		family = DateFamilyISO
	}
	sets, ok := familyPatterns[family]
	if !ok {
		sets = familyPatterns[DateFamilyISO]
	}

	value = strings.TrimSpace(value)

	ordered := make([]string, 0, len(sets.withTime)+len(sets.dateOnly)+len(sets.twoDigit))
	if timeComponentPattern.MatchString(value) {
		ordered = append(ordered, sets.withTime...)
		ordered = append(ordered, sets.dateOnly...)
	} else {
		ordered = append(ordered, sets.dateOnly...)
		ordered = append(ordered, sets.withTime...)
	}
	ordered = append(ordered, sets.twoDigit...)

	for _, layout := range ordered {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}

	return time.Time{}, &InvalidDateError{Family: family, Value: value}
}

// ParseDateTime is ParseDate for fields declared as datetime. The pattern
// ordering already favors time-bearing layouts when the value carries one.
func ParseDateTime(family DateFamily, value string) (time.Time, error) {
	return ParseDate(family, value)
}
