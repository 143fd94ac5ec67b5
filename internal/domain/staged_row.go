package domain

// MatchAction records how a staged row will be committed once resolved.
type MatchAction string

const (
	MatchActionCreate MatchAction = "create"
	MatchActionUpdate MatchAction = "update"
	MatchActionSkip   MatchAction = "skip"
)

// StagedRow is one source-file row held in staging storage. Raw data is
// immutable after creation; only the correction overlay and validation result
// mutate. Corrections are keyed by target field; an entry whose value is the
// empty string means the field is explicitly skipped.
type StagedRow struct {
	RowNumber   int               `json:"rowNumber"`
	Raw         map[string]string `json:"raw"`
	Corrections map[string]string `json:"corrections,omitempty"`
	Validation  map[string]string `json:"validation,omitempty"`
	MatchAction MatchAction       `json:"matchAction,omitempty"`
	MatchID     string            `json:"matchId,omitempty"`
}

// EffectiveValue resolves the value actually used for analysis, validation,
// and matching: the correction when one exists (including the empty-string
// skip marker), else the raw value, else empty.
func (r StagedRow) EffectiveValue(field, column string) string {
	if corrected, ok := r.Corrections[field]; ok {
		return corrected
	}
	return r.Raw[column]
}

// Skipped reports whether the field carries an explicit skip correction.
func (r StagedRow) Skipped(field string) bool {
	corrected, ok := r.Corrections[field]
	return ok && corrected == ""
}
