package domain

import "fmt"

// ColumnAnalysis summarizes one mapped (target field, source column) pair.
// It is a pure function of current staged state and is never persisted
// independently of the rows it summarizes.
type ColumnAnalysis struct {
	Column         string `json:"column"`
	Field          string `json:"field"`
	TotalRows      int    `json:"totalRows"`
	DistinctValues int    `json:"distinctValues"`
	BlankValues    int    `json:"blankValues"`
	Required       bool   `json:"required"`
	Relationship   bool   `json:"relationship"`
}

// UniqueValue is one distinct raw value within a column, with its correction
// overlay (nil when untouched, empty string when skipped) and occurrence count.
type UniqueValue struct {
	Value       string  `json:"value"`
	Correction  *string `json:"correction,omitempty"`
	Occurrences int     `json:"occurrences"`
}

// UniqueValuePage is one page of distinct values for interactive review.
type UniqueValuePage struct {
	Values  []UniqueValue `json:"values"`
	HasMore bool          `json:"hasMore"`
	Total   int           `json:"total"`
}

// ValueFilter selects which distinct values of a column to list.
type ValueFilter string

const (
	FilterAll      ValueFilter = "all"
	FilterModified ValueFilter = "modified"
	FilterSkipped  ValueFilter = "skipped"
	FilterErrors   ValueFilter = "errors"
)

// ParseValueFilter maps user input onto a filter bucket, defaulting to all.
func ParseValueFilter(raw string) (ValueFilter, error) {
	switch ValueFilter(raw) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterModified:
		return FilterModified, nil
	case FilterSkipped:
		return FilterSkipped, nil
	case FilterErrors:
		return FilterErrors, nil
	default:
		return "", fmt.Errorf("unknown value filter %q", raw)
	}
}

// ValueSort orders a unique-value listing.
type ValueSort string

const (
	SortByOccurrences ValueSort = "occurrences"
	SortByValue       ValueSort = "value"
)

// ParseValueSort maps user input onto a sort order, defaulting to occurrences.
func ParseValueSort(raw string) (ValueSort, error) {
	switch ValueSort(raw) {
	case "", SortByOccurrences:
		return SortByOccurrences, nil
	case SortByValue:
		return SortByValue, nil
	default:
		return "", fmt.Errorf("unknown value sort %q", raw)
	}
}

// FilterCounts carries the size of each filter bucket for one column.
type FilterCounts struct {
	All      int `json:"all"`
	Modified int `json:"modified"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}
