package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mhollis/crmport/internal/domain"
)

const insertBatchSize = 500

// RowRecord is a staged row as stored: JSON blobs, decoded lazily by callers
// (the resolver picks mapped columns out with gjson instead of unmarshaling
// whole rows).
type RowRecord struct {
	RowNumber     int
	Raw           []byte
	Corrections   []byte
	Validation    []byte
	MatchAction   domain.MatchAction
	MatchEntityID string
}

func parseUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed uuid %q: %w", raw, err)
	}
	return id, nil
}

// BulkInsert loads parsed rows in batches inside one transaction. A row with
// empty raw data rejects the whole batch; partial failures roll back so
// validation counts computed later are never stale.
func (s *Store) BulkInsert(ctx context.Context, rows []domain.StagedRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("bulk insert", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO staged_rows (row_number, raw, corrections, validation) VALUES (?, ?, '{}', '{}')`)
	if err != nil {
		return s.wrap("bulk insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range rows {
		if len(row.Raw) == 0 {
			return fmt.Errorf("row %d: %w", row.RowNumber, ErrEmptyRow)
		}
		raw, err := json.Marshal(row.Raw)
		if err != nil {
			return s.wrap("bulk insert", err)
		}
		if _, err := stmt.ExecContext(ctx, row.RowNumber, string(raw)); err != nil {
			return s.wrap("bulk insert", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE session_meta SET row_count = (SELECT COUNT(*) FROM staged_rows)`); err != nil {
		return s.wrap("bulk insert", err)
	}

	if err := tx.Commit(); err != nil {
		return s.wrap("bulk insert", err)
	}
	return nil
}

// RowCount returns the number of staged rows.
func (s *Store) RowCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM staged_rows`).Scan(&count); err != nil {
		return 0, s.wrap("row count", err)
	}
	return count, nil
}

// ScanRows returns a batch of staged rows ordered by row number, for the
// preview and commit walks.
func (s *Store) ScanRows(ctx context.Context, afterRow, limit int) ([]RowRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_number, raw, corrections, validation,
		        COALESCE(match_action, ''), COALESCE(match_entity_id, '')
		 FROM staged_rows
		 WHERE row_number > ?
		 ORDER BY row_number
		 LIMIT ?`,
		afterRow, limit,
	)
	if err != nil {
		return nil, s.wrap("scan rows", err)
	}
	defer rows.Close()

	var out []RowRecord
	for rows.Next() {
		var (
			rec         RowRecord
			raw         string
			corrections string
			validation  string
			action      string
		)
		if err := rows.Scan(&rec.RowNumber, &raw, &corrections, &validation, &action, &rec.MatchEntityID); err != nil {
			return nil, s.wrap("scan rows", err)
		}
		rec.Raw = []byte(raw)
		rec.Corrections = []byte(corrections)
		rec.Validation = []byte(validation)
		rec.MatchAction = domain.MatchAction(action)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("scan rows", err)
	}
	return out, nil
}

// Row fetches one staged row by number.
func (s *Store) Row(ctx context.Context, rowNumber int) (domain.StagedRow, error) {
	var (
		row         domain.StagedRow
		raw         string
		corrections string
		validation  string
		action      sql.NullString
		entityID    sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT row_number, raw, corrections, validation, match_action, match_entity_id
		 FROM staged_rows WHERE row_number = ?`, rowNumber,
	).Scan(&row.RowNumber, &raw, &corrections, &validation, &action, &entityID)
	if err != nil {
		return domain.StagedRow{}, s.wrap("read row", err)
	}

	if err := json.Unmarshal([]byte(raw), &row.Raw); err != nil {
		return domain.StagedRow{}, &domain.StorageError{Op: "read row", Err: err}
	}
	if err := json.Unmarshal([]byte(corrections), &row.Corrections); err != nil {
		return domain.StagedRow{}, &domain.StorageError{Op: "read row", Err: err}
	}
	if err := json.Unmarshal([]byte(validation), &row.Validation); err != nil {
		return domain.StagedRow{}, &domain.StorageError{Op: "read row", Err: err}
	}
	if action.Valid {
		row.MatchAction = domain.MatchAction(action.String)
	}
	if entityID.Valid {
		row.MatchID = entityID.String
	}
	return row, nil
}

// BulkSetValidation records a validation message for every row whose
// effective value for the mapped pair equals the given value, in one
// set-based statement.
func (s *Store) BulkSetValidation(ctx context.Context, field, column, value, message string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE staged_rows
		 SET validation = json_set(validation, ?, ?)
		 WHERE trim(coalesce(json_extract(corrections, ?), json_extract(raw, ?), '')) = ?`,
		FieldPath(field), message, FieldPath(field), RawPath(column), value,
	)
	if err != nil {
		return 0, s.wrap("set validation", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// ClearValidation removes a field's validation markers from every row.
func (s *Store) ClearValidation(ctx context.Context, field string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE staged_rows
		 SET validation = json_remove(validation, ?)
		 WHERE json_extract(validation, ?) IS NOT NULL`,
		FieldPath(field), FieldPath(field),
	)
	return s.wrap("clear validation", err)
}

// BulkApplyMatches takes a map from a normalized lookup value (extracted from
// the given source column) to a resolved existing-entity id, with uuid.Nil
// meaning no match, and atomically updates every not-yet-matched row whose
// lookup value is present in the map. Resolved rows become updates; unresolved
// rows get the caller-supplied default action. Implemented by staging the
// resolved pairs into a temporary table and join-updating, because session
// sizes run into tens of thousands of rows and row-by-row updates are the
// dominant cost.
func (s *Store) BulkApplyMatches(ctx context.Context, column string, resolved map[string]uuid.UUID, unmatched domain.MatchAction) (int64, error) {
	if len(resolved) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.wrap("apply matches", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`CREATE TEMP TABLE IF NOT EXISTS resolved_lookup (key TEXT PRIMARY KEY, entity_id TEXT)`); err != nil {
		return 0, s.wrap("apply matches", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM resolved_lookup`); err != nil {
		return 0, s.wrap("apply matches", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO resolved_lookup (key, entity_id) VALUES (?, ?)`)
	if err != nil {
		return 0, s.wrap("apply matches", err)
	}
	defer func() { _ = stmt.Close() }()

	for key, entityID := range resolved {
		var id any
		if entityID != uuid.Nil {
			id = entityID.String()
		}
		if _, err := stmt.ExecContext(ctx, key, id); err != nil {
			return 0, s.wrap("apply matches", err)
		}
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE staged_rows SET
		    match_action = CASE WHEN rl.entity_id IS NOT NULL THEN '%s' ELSE ? END,
		    match_entity_id = rl.entity_id
		 FROM resolved_lookup AS rl
		 WHERE rl.key = lower(trim(coalesce(json_extract(staged_rows.raw, ?), '')))
		   AND staged_rows.match_action IS NULL`,
		domain.MatchActionUpdate),
		string(unmatched), RawPath(column),
	)
	if err != nil {
		return 0, s.wrap("apply matches", err)
	}

	affected, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, s.wrap("apply matches", err)
	}
	return affected, nil
}

// MatchActionCounts tallies staged rows by match action; rows without one are
// keyed by the empty string.
func (s *Store) MatchActionCounts(ctx context.Context) (map[domain.MatchAction]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(match_action, ''), COUNT(*) FROM staged_rows GROUP BY match_action`)
	if err != nil {
		return nil, s.wrap("match counts", err)
	}
	defer rows.Close()

	counts := map[domain.MatchAction]int{}
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, s.wrap("match counts", err)
		}
		counts[domain.MatchAction(action)] = count
	}
	return counts, rows.Err()
}
