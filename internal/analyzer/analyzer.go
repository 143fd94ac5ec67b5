// Package analyzer computes and mutates per-column statistics and issue sets
// for an import session. Every operation is expressed as a set operation over
// the column's effective value (correction if present, else raw, else empty)
// so it scales to the full distinct-value cardinality of a column without
// per-row iteration in application code.
package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/mhollis/crmport/internal/domain"
	"github.com/mhollis/crmport/internal/fields"
	"github.com/mhollis/crmport/internal/staging"
	"github.com/mhollis/crmport/pkg/validator"
)

// effectiveExpr is the SQL form of the effective-value rule. The two
// placeholders are the field path into corrections and the column path into
// raw, in that order.
const effectiveExpr = `trim(coalesce(json_extract(corrections, ?), json_extract(raw, ?), ''))`

// Analyzer operates on one session's staging store.
type Analyzer struct {
	store  *staging.Store
	schema fields.Set
}

// New wires an analyzer to a session store and its field schema.
func New(store *staging.Store, schema fields.Set) *Analyzer {
	return &Analyzer{store: store, schema: schema}
}

// AnalyzeAllColumns returns distinct-value and blank counts over the
// effective value for every mapped (field, column) pair. The result set is
// produced by a single unioned query, not one query per column, so latency
// stays bounded as column count grows.
func (a *Analyzer) AnalyzeAllColumns(ctx context.Context, mapping domain.Mapping) ([]domain.ColumnAnalysis, error) {
	fieldKeys := mapping.Fields()
	if len(fieldKeys) == 0 {
		return []domain.ColumnAnalysis{}, nil
	}

	var (
		parts []string
		args  []any
	)
	for _, field := range fieldKeys {
		column := mapping[field]
		parts = append(parts, fmt.Sprintf(
			`SELECT ? AS field, ? AS col,
			        COUNT(DISTINCT NULLIF(%[1]s, '')) AS distinct_values,
			        COALESCE(SUM(CASE WHEN %[1]s = '' THEN 1 ELSE 0 END), 0) AS blank_values,
			        COUNT(*) AS total_rows
			 FROM staged_rows`, effectiveExpr))
		args = append(args,
			field, column,
			staging.FieldPath(field), staging.RawPath(column),
			staging.FieldPath(field), staging.RawPath(column),
		)
	}

	rows, err := a.store.Query(ctx, strings.Join(parts, " UNION ALL "), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ColumnAnalysis
	for rows.Next() {
		var analysis domain.ColumnAnalysis
		if err := rows.Scan(&analysis.Field, &analysis.Column,
			&analysis.DistinctValues, &analysis.BlankValues, &analysis.TotalRows); err != nil {
			return nil, &domain.StorageError{Op: "analyze columns", Err: err}
		}
		if def, ok := a.schema.Get(analysis.Field); ok {
			analysis.Required = def.Required
			analysis.Relationship = def.Relationship
		}
		out = append(out, analysis)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "analyze columns", Err: err}
	}
	return out, nil
}

// escapeLike escapes %, _ and the escape character itself so user-supplied
// search terms cannot inject wildcards.
func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}

func filterPredicate(filter domain.ValueFilter) string {
	switch filter {
	case domain.FilterModified:
		return `correction IS NOT NULL AND correction <> ''`
	case domain.FilterSkipped:
		return `correction = ''`
	case domain.FilterErrors:
		return `flagged = 1`
	default:
		return `1 = 1`
	}
}

// distinctValuesCTE groups staged rows by the column's trimmed raw value and
// carries the (single, set-applied) correction and the validation flag
// alongside.
const distinctValuesCTE = `
	SELECT trim(coalesce(json_extract(raw, ?2), '')) AS raw_value,
	       MAX(json_extract(corrections, ?1)) AS correction,
	       MAX(CASE WHEN json_extract(validation, ?1) IS NOT NULL THEN 1 ELSE 0 END) AS flagged,
	       COUNT(*) AS occurrences
	FROM staged_rows
	GROUP BY raw_value`

// UniqueValues returns one page of distinct (raw value, correction,
// occurrence count) tuples for a mapped pair. Search is a case-insensitive
// substring match over the raw value with wildcards escaped. The page fetches
// pageSize+1 rows to detect "has more" without a count query on the hot path;
// the filter's total comes from one separate count query.
func (a *Analyzer) UniqueValues(ctx context.Context, field, column string, page, pageSize int, search string, filter domain.ValueFilter, sort domain.ValueSort) (domain.UniqueValuePage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	where := filterPredicate(filter)
	args := []any{staging.FieldPath(field), staging.RawPath(column)}
	if search != "" {
		where += ` AND raw_value LIKE ?3 ESCAPE '\'`
		args = append(args, "%"+escapeLike(search)+"%")
	}

	order := `occurrences DESC, raw_value COLLATE NOCASE ASC`
	if sort == domain.SortByValue {
		order = `raw_value COLLATE NOCASE ASC`
	}

	query := fmt.Sprintf(`WITH distinct_values AS (%s)
		SELECT raw_value, correction, occurrences
		FROM distinct_values
		WHERE %s
		ORDER BY %s
		LIMIT %d OFFSET %d`,
		distinctValuesCTE, where, order, pageSize+1, (page-1)*pageSize)

	rows, err := a.store.Query(ctx, query, args...)
	if err != nil {
		return domain.UniqueValuePage{}, err
	}
	defer rows.Close()

	result := domain.UniqueValuePage{Values: []domain.UniqueValue{}}
	for rows.Next() {
		var (
			value      domain.UniqueValue
			correction *string
		)
		if err := rows.Scan(&value.Value, &correction, &value.Occurrences); err != nil {
			return domain.UniqueValuePage{}, &domain.StorageError{Op: "unique values", Err: err}
		}
		value.Correction = correction
		result.Values = append(result.Values, value)
	}
	if err := rows.Err(); err != nil {
		return domain.UniqueValuePage{}, &domain.StorageError{Op: "unique values", Err: err}
	}

	if len(result.Values) > pageSize {
		result.HasMore = true
		result.Values = result.Values[:pageSize]
	}

	countQuery := fmt.Sprintf(`WITH distinct_values AS (%s)
		SELECT COUNT(*) FROM distinct_values WHERE %s`, distinctValuesCTE, where)
	if err := a.store.QueryRow(ctx, countQuery, args...).Scan(&result.Total); err != nil {
		return domain.UniqueValuePage{}, &domain.StorageError{Op: "unique values", Err: err}
	}

	return result, nil
}

// FilterCounts answers every filter bucket for a column in one query,
// reusing the same search predicate as the value listing.
func (a *Analyzer) FilterCounts(ctx context.Context, field, column, search string) (domain.FilterCounts, error) {
	args := []any{staging.FieldPath(field), staging.RawPath(column)}
	where := `1 = 1`
	if search != "" {
		where = `raw_value LIKE ?3 ESCAPE '\'`
		args = append(args, "%"+escapeLike(search)+"%")
	}

	query := fmt.Sprintf(`WITH distinct_values AS (%s)
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN correction IS NOT NULL AND correction <> '' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN correction = '' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(flagged), 0)
		FROM distinct_values
		WHERE %s`, distinctValuesCTE, where)

	var counts domain.FilterCounts
	if err := a.store.QueryRow(ctx, query, args...).Scan(&counts.All, &counts.Modified, &counts.Skipped, &counts.Errors); err != nil {
		return domain.FilterCounts{}, &domain.StorageError{Op: "filter counts", Err: err}
	}
	return counts, nil
}

// ApplyCorrection sets the correction overlay for every staged row whose
// trimmed raw value in the source column equals oldValue. Correcting a value
// back to its trimmed original removes the overlay instead of storing it, so
// the modified/skipped filters stay accurate. The statement is single and
// set-based: no reader ever observes a partially applied correction. Returns
// the number of rows affected.
func (a *Analyzer) ApplyCorrection(ctx context.Context, field, column, oldValue, newValue string) (int64, error) {
	trimmedOld := strings.TrimSpace(oldValue)
	trimmedNew := strings.TrimSpace(newValue)

	var (
		query string
		args  []any
	)
	if trimmedOld == trimmedNew {
		query = `UPDATE staged_rows
			 SET corrections = json_remove(corrections, ?)
			 WHERE trim(coalesce(json_extract(raw, ?), '')) = ?
			   AND json_extract(corrections, ?) IS NOT NULL`
		args = []any{staging.FieldPath(field), staging.RawPath(column), trimmedOld, staging.FieldPath(field)}
	} else {
		query = `UPDATE staged_rows
			 SET corrections = json_set(corrections, ?, ?)
			 WHERE trim(coalesce(json_extract(raw, ?), '')) = ?`
		args = []any{staging.FieldPath(field), trimmedNew, staging.RawPath(column), trimmedOld}
	}

	res, err := a.store.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// SkipValue marks every occurrence of a raw value as explicitly skipped: the
// field becomes absent during commit. A skip is a correction whose override
// is the empty string, distinct from "no correction".
func (a *Analyzer) SkipValue(ctx context.Context, field, column, value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	res, err := a.store.Exec(ctx,
		`UPDATE staged_rows
		 SET corrections = json_set(corrections, ?, '')
		 WHERE trim(coalesce(json_extract(raw, ?), '')) = ?`,
		staging.FieldPath(field), staging.RawPath(column), trimmed,
	)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// RemoveCorrection restores the default state for a value: equivalent to
// correcting it back to itself.
func (a *Analyzer) RemoveCorrection(ctx context.Context, field, column, value string) (int64, error) {
	return a.ApplyCorrection(ctx, field, column, value, value)
}

// ValidateColumn runs the field's validator over the column's distinct
// effective values and writes one set-based validation marker per invalid
// value. Validation cost scales with distinct-value cardinality, not row
// count. Returns the number of rows flagged.
func (a *Analyzer) ValidateColumn(ctx context.Context, def fields.Definition, column string) (int64, error) {
	if err := a.store.ClearValidation(ctx, def.Key); err != nil {
		return 0, err
	}

	rows, err := a.store.Query(ctx, fmt.Sprintf(
		`SELECT DISTINCT %s FROM staged_rows`, effectiveExpr),
		staging.FieldPath(def.Key), staging.RawPath(column),
	)
	if err != nil {
		return 0, err
	}

	var invalid []struct{ value, message string }
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			rows.Close()
			return 0, &domain.StorageError{Op: "validate column", Err: err}
		}
		if issue := validator.Validate(def.Config, value); issue != nil {
			invalid = append(invalid, struct{ value, message string }{value, issue.Message})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, &domain.StorageError{Op: "validate column", Err: err}
	}
	rows.Close()

	var flagged int64
	for _, entry := range invalid {
		affected, err := a.store.BulkSetValidation(ctx, def.Key, column, entry.value, entry.message)
		if err != nil {
			return flagged, err
		}
		flagged += affected
	}
	return flagged, nil
}
