package preview

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/mhollis/crmport/internal/domain"
	"github.com/mhollis/crmport/internal/fields"
	"github.com/mhollis/crmport/internal/staging"
	"github.com/mhollis/crmport/pkg/validator"
)

// Matcher resolves one candidate against existing records.
type Matcher interface {
	Match(ctx context.Context, candidate domain.Candidate) (domain.MatchResult, error)
}

// ResolvedRow is one staged row after the full resolution path: effective
// values per mapped field (skipped fields absent), validation issues, and the
// match outcome.
type ResolvedRow struct {
	RowNumber int                `json:"rowNumber"`
	Values    map[string]string  `json:"values"`
	Issues    map[string]string  `json:"issues,omitempty"`
	Match     domain.MatchResult `json:"match"`

	sig string
}

// IsNew reports whether committing the row would create a record.
func (r ResolvedRow) IsNew() bool { return r.Match.IsNew() }

// Outcome is what committing a resolved row does.
type Outcome int

const (
	OutcomeCreate Outcome = iota
	OutcomeUpdate
	OutcomeSkip
	OutcomeFail
	OutcomeAmbiguous
)

// Classify maps a resolved row onto its commit outcome: all fields blank or
// skipped means the row is skipped, validation issues mean it fails, and
// otherwise the match decides. Preview and commit both classify through this
// method, so their counts agree by construction.
func (r ResolvedRow) Classify() Outcome {
	if len(r.Values) == 0 {
		return OutcomeSkip
	}
	if len(r.Issues) > 0 {
		return OutcomeFail
	}
	switch r.Match.Kind {
	case domain.MatchNew:
		return OutcomeCreate
	case domain.MatchName, domain.MatchDomain:
		return OutcomeUpdate
	default:
		return OutcomeAmbiguous
	}
}

// RowResolver applies the single resolution path shared by preview and
// commit: raw value, then correction override, then skip; validate; match.
// Preview and commit both run rows through this type, so a preview can never
// diverge from what a commit would do.
type RowResolver struct {
	schema  fields.Set
	mapping domain.Mapping
	matcher Matcher

	// matches memoizes matcher calls per candidate signature. Columns carry
	// few distinct values relative to row count, so most rows hit the cache.
	matches map[string]domain.MatchResult
}

// NewRowResolver builds a resolver for one session's schema and mapping.
func NewRowResolver(schema fields.Set, mapping domain.Mapping, matcher Matcher) *RowResolver {
	return &RowResolver{
		schema:  schema,
		mapping: mapping,
		matcher: matcher,
		matches: make(map[string]domain.MatchResult),
	}
}

// IdentityField returns the field key whose value names the candidate record.
func (r *RowResolver) IdentityField() string {
	return r.schema.IdentityKey()
}

// Resolve runs one staged row through the resolution path. Validation issues
// are returned as data on the row; only matcher and storage failures surface
// as errors.
func (r *RowResolver) Resolve(ctx context.Context, rec staging.RowRecord) (ResolvedRow, error) {
	resolved := ResolvedRow{
		RowNumber: rec.RowNumber,
		Values:    make(map[string]string),
	}

	for _, field := range r.mapping.Fields() {
		def, ok := r.schema.Get(field)
		if !ok {
			continue
		}
		column, _ := r.mapping.Column(field)

		value := strings.TrimSpace(gjson.GetBytes(rec.Raw, staging.EscapePath(column)).String())
		if correction := gjson.GetBytes(rec.Corrections, staging.EscapePath(field)); correction.Exists() {
			value = strings.TrimSpace(correction.String())
		}
		if value == "" {
			// Blank or explicitly skipped; the field is absent from the row.
			continue
		}

		if issue := validator.Validate(def.Config, value); issue != nil {
			if resolved.Issues == nil {
				resolved.Issues = make(map[string]string)
			}
			resolved.Issues[field] = issue.Message
		}
		resolved.Values[field] = value
	}

	candidate := r.candidate(resolved.Values)
	resolved.sig = candidate.Name + "\x00" + strings.Join(candidate.Emails, "\x00")
	match, err := r.match(ctx, resolved.sig, candidate)
	if err != nil {
		return ResolvedRow{}, fmt.Errorf("failed to resolve row %d: %w", rec.RowNumber, err)
	}
	resolved.Match = match
	return resolved, nil
}

// RecordCreate notes that the row's candidate has just been created with the
// given id, so later rows carrying the same candidate resolve to an update of
// that record instead of another create. Preview calls this with uuid.Nil to
// simulate the same collapse without a real record.
func (r *RowResolver) RecordCreate(row ResolvedRow, id uuid.UUID) {
	if row.sig == "" {
		return
	}
	r.matches[row.sig] = domain.MatchResult{Kind: domain.MatchName, EntityID: id, Matches: 1}
}

// candidate builds the match input from resolved values: the identity field
// supplies the name, lookup fields supply auxiliary identifiers.
func (r *RowResolver) candidate(values map[string]string) domain.Candidate {
	candidate := domain.Candidate{Name: values[r.schema.IdentityKey()]}
	for _, field := range r.schema.LookupKeys() {
		if value, ok := values[field]; ok {
			candidate.Emails = append(candidate.Emails, validator.SplitTokens(value)...)
		}
	}
	return candidate
}

func (r *RowResolver) match(ctx context.Context, sig string, candidate domain.Candidate) (domain.MatchResult, error) {
	if match, ok := r.matches[sig]; ok {
		return match, nil
	}
	match, err := r.matcher.Match(ctx, candidate)
	if err != nil {
		return domain.MatchResult{}, err
	}
	r.matches[sig] = match
	return match, nil
}
