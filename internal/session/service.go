package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mhollis/crmport/internal/analyzer"
	"github.com/mhollis/crmport/internal/committer"
	"github.com/mhollis/crmport/internal/domain"
	"github.com/mhollis/crmport/internal/fields"
	"github.com/mhollis/crmport/internal/ingest"
	"github.com/mhollis/crmport/internal/matcher"
	"github.com/mhollis/crmport/internal/preview"
	"github.com/mhollis/crmport/internal/repository"
	"github.com/mhollis/crmport/internal/staging"
)

// Service orchestrates the import session lifecycle: upload, mapping,
// analysis and correction, preview, commit, destroy. Each operation loads the
// session's staging store, works against it, and releases it; the store
// itself carries all durable session state.
type Service struct {
	baseDir string
	log     *logrus.Logger

	entities repository.EntityRepository
	commits  *committer.Service

	ttl           time.Duration
	publicDomains bool
	sampleCap     int
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets how long an untouched session survives before the janitor
// destroys it.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPublicDomainMatching lets free-mail domains participate in matching.
func WithPublicDomainMatching(enabled bool) Option {
	return func(s *Service) {
		s.publicDomains = enabled
	}
}

// WithPreviewSampleSize sets how many resolved rows a preview summary carries.
func WithPreviewSampleSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sampleCap = n
		}
	}
}

// NewService builds the session service.
func NewService(baseDir string, entities repository.EntityRepository, commits *committer.Service, log *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		baseDir:  baseDir,
		log:      log,
		entities: entities,
		commits:  commits,
		ttl:      24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

// Create parses an uploaded file, allocates staging storage, loads the rows,
// and guesses an initial column mapping from the headers.
func (s *Service) Create(ctx context.Context, tenantID, userID uuid.UUID, entityType, fileName string, payload []byte) (domain.Session, error) {
	schema, err := fields.For(entityType)
	if err != nil {
		return domain.Session{}, err
	}

	table, err := ingest.Parse(fileName, payload)
	if err != nil {
		return domain.Session{}, err
	}
	if len(table.Rows) == 0 {
		return domain.Session{}, fmt.Errorf("file %q has no data rows", fileName)
	}

	session := domain.NewSession(tenantID, userID, entityType, fileName, table.Headers)
	store, err := staging.Create(ctx, s.baseDir, session)
	if err != nil {
		return domain.Session{}, err
	}
	defer func() { _ = store.Close() }()

	rows := make([]domain.StagedRow, len(table.Rows))
	for i := range table.Rows {
		rows[i] = domain.StagedRow{RowNumber: i + 1, Raw: table.RowMap(i)}
	}
	if err := store.BulkInsert(ctx, rows); err != nil {
		// A session with no staged rows is useless; do not leave it behind.
		_ = store.Destroy()
		return domain.Session{}, err
	}

	mapping := schema.GuessMapping(table.Headers)
	if err := store.SaveMapping(ctx, mapping, domain.SessionStatusMapping); err != nil {
		_ = store.Destroy()
		return domain.Session{}, err
	}

	s.log.WithFields(logrus.Fields{
		"session": session.ID,
		"rows":    len(rows),
		"columns": len(table.Headers),
	}).Info("import session created")

	return store.Session(ctx)
}

// Get returns the current session state.
func (s *Service) Get(ctx context.Context, rawID string) (domain.Session, error) {
	store, err := staging.Load(ctx, s.baseDir, rawID)
	if err != nil {
		return domain.Session{}, err
	}
	defer func() { _ = store.Close() }()
	return store.Session(ctx)
}

// SetMapping replaces the column mapping and moves the session into review.
// Unknown field keys and unknown columns are rejected.
func (s *Service) SetMapping(ctx context.Context, rawID string, mapping domain.Mapping) (domain.Session, error) {
	store, err := staging.Load(ctx, s.baseDir, rawID)
	if err != nil {
		return domain.Session{}, err
	}
	defer func() { _ = store.Close() }()

	session, err := store.Session(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	if !session.Status.CanTransitionTo(domain.SessionStatusReviewing) {
		return domain.Session{}, fmt.Errorf("session %s cannot change mapping in status %s", session.ID, session.Status)
	}

	schema, err := fields.For(session.EntityType)
	if err != nil {
		return domain.Session{}, err
	}
	columns := make(map[string]struct{}, len(session.Headers))
	for _, header := range session.Headers {
		columns[header] = struct{}{}
	}
	for _, field := range mapping.Fields() {
		if _, ok := schema.Get(field); !ok {
			return domain.Session{}, fmt.Errorf("unknown field %q for entity type %s", field, session.EntityType)
		}
		column, _ := mapping.Column(field)
		if _, ok := columns[column]; !ok {
			return domain.Session{}, fmt.Errorf("unknown column %q", column)
		}
	}

	if err := store.SaveMapping(ctx, mapping, domain.SessionStatusReviewing); err != nil {
		return domain.Session{}, err
	}
	return store.Session(ctx)
}

// withAnalyzer loads the session and hands an analyzer over its rows to fn.
func (s *Service) withAnalyzer(ctx context.Context, rawID string, fn func(*analyzer.Analyzer, domain.Session) error) error {
	store, err := staging.Load(ctx, s.baseDir, rawID)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	session, err := store.Session(ctx)
	if err != nil {
		return err
	}
	schema, err := fields.For(session.EntityType)
	if err != nil {
		return err
	}
	return fn(analyzer.New(store, schema), session)
}

// Analyze computes the per-column statistics for every mapped column.
func (s *Service) Analyze(ctx context.Context, rawID string) ([]domain.ColumnAnalysis, error) {
	var results []domain.ColumnAnalysis
	err := s.withAnalyzer(ctx, rawID, func(a *analyzer.Analyzer, session domain.Session) error {
		var err error
		results, err = a.AnalyzeAllColumns(ctx, session.Mapping)
		return err
	})
	return results, err
}

// column resolves a mapped field key to its source column.
func column(session domain.Session, field string) (string, error) {
	col, ok := session.Mapping.Column(field)
	if !ok {
		return "", fmt.Errorf("field %q is not mapped", field)
	}
	return col, nil
}

// Values returns one page of distinct values for a mapped field.
func (s *Service) Values(ctx context.Context, rawID, field string, page, pageSize int, search string, filter domain.ValueFilter, sort domain.ValueSort) (domain.UniqueValuePage, error) {
	var result domain.UniqueValuePage
	err := s.withAnalyzer(ctx, rawID, func(a *analyzer.Analyzer, session domain.Session) error {
		col, err := column(session, field)
		if err != nil {
			return err
		}
		result, err = a.UniqueValues(ctx, field, col, page, pageSize, search, filter, sort)
		return err
	})
	return result, err
}

// FilterCounts returns the filter bucket sizes for a mapped field.
func (s *Service) FilterCounts(ctx context.Context, rawID, field, search string) (domain.FilterCounts, error) {
	var counts domain.FilterCounts
	err := s.withAnalyzer(ctx, rawID, func(a *analyzer.Analyzer, session domain.Session) error {
		col, err := column(session, field)
		if err != nil {
			return err
		}
		counts, err = a.FilterCounts(ctx, field, col, search)
		return err
	})
	return counts, err
}

// StoreCorrection applies a session-wide correction for one raw value and
// returns the number of rows affected.
func (s *Service) StoreCorrection(ctx context.Context, rawID, field, oldValue, newValue string) (int64, error) {
	var affected int64
	err := s.withAnalyzer(ctx, rawID, func(a *analyzer.Analyzer, session domain.Session) error {
		col, err := column(session, field)
		if err != nil {
			return err
		}
		affected, err = a.ApplyCorrection(ctx, field, col, oldValue, newValue)
		return err
	})
	return affected, err
}

// RemoveCorrection restores the raw value for one corrected value.
func (s *Service) RemoveCorrection(ctx context.Context, rawID, field, value string) (int64, error) {
	var affected int64
	err := s.withAnalyzer(ctx, rawID, func(a *analyzer.Analyzer, session domain.Session) error {
		col, err := column(session, field)
		if err != nil {
			return err
		}
		affected, err = a.RemoveCorrection(ctx, field, col, value)
		return err
	})
	return affected, err
}

// SkipValue marks every occurrence of one raw value as skipped.
func (s *Service) SkipValue(ctx context.Context, rawID, field, value string) (int64, error) {
	var affected int64
	err := s.withAnalyzer(ctx, rawID, func(a *analyzer.Analyzer, session domain.Session) error {
		col, err := column(session, field)
		if err != nil {
			return err
		}
		affected, err = a.SkipValue(ctx, field, col, value)
		return err
	})
	return affected, err
}

// Validate runs value validation for every mapped field and returns the
// number of rows flagged per field.
func (s *Service) Validate(ctx context.Context, rawID string) (map[string]int64, error) {
	flagged := make(map[string]int64)
	err := s.withAnalyzer(ctx, rawID, func(a *analyzer.Analyzer, session domain.Session) error {
		schema, err := fields.For(session.EntityType)
		if err != nil {
			return err
		}
		for _, field := range session.Mapping.Fields() {
			def, ok := schema.Get(field)
			if !ok {
				continue
			}
			col, _ := session.Mapping.Column(field)
			count, err := a.ValidateColumn(ctx, def, col)
			if err != nil {
				return err
			}
			flagged[field] = count
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flagged, nil
}

// resolver builds the shared resolution path for one session.
func (s *Service) resolver(session domain.Session) (*preview.RowResolver, error) {
	schema, err := fields.For(session.EntityType)
	if err != nil {
		return nil, err
	}
	var opts []matcher.Option
	if s.publicDomains {
		opts = append(opts, matcher.WithPublicDomains())
	}
	m := matcher.New(s.entities, session.TenantID, session.EntityType, opts...)
	return preview.NewRowResolver(schema, session.Mapping, m), nil
}

// Preview dry-runs the commit and reports create/update counts plus a capped
// sample, without writing any durable record.
func (s *Service) Preview(ctx context.Context, rawID string) (preview.Summary, error) {
	store, err := staging.Load(ctx, s.baseDir, rawID)
	if err != nil {
		return preview.Summary{}, err
	}
	defer func() { _ = store.Close() }()

	session, err := store.Session(ctx)
	if err != nil {
		return preview.Summary{}, err
	}
	resolver, err := s.resolver(session)
	if err != nil {
		return preview.Summary{}, err
	}
	var engineOpts []preview.Option
	if s.sampleCap > 0 {
		engineOpts = append(engineOpts, preview.WithSampleCap(s.sampleCap))
	}
	return preview.NewEngine(store, resolver, engineOpts...).Preview(ctx)
}

// Commit starts the background commit job for the session.
func (s *Service) Commit(ctx context.Context, rawID string) (committer.JobSnapshot, error) {
	store, err := staging.Load(ctx, s.baseDir, rawID)
	if err != nil {
		return committer.JobSnapshot{}, err
	}

	session, err := store.Session(ctx)
	if err != nil {
		_ = store.Close()
		return committer.JobSnapshot{}, err
	}
	resolver, err := s.resolver(session)
	if err != nil {
		_ = store.Close()
		return committer.JobSnapshot{}, err
	}

	// The store is handed to the job, which closes it when it finishes.
	snap, err := s.commits.Start(session, store, resolver)
	if err != nil {
		_ = store.Close()
		return committer.JobSnapshot{}, err
	}
	return snap, nil
}

// CommitStatus reports the progress of the session's commit job.
func (s *Service) CommitStatus(rawID string) (committer.JobSnapshot, error) {
	id, err := domain.ParseSessionID(rawID)
	if err != nil {
		return committer.JobSnapshot{}, err
	}
	snap, ok := s.commits.Job(id)
	if !ok {
		return committer.JobSnapshot{}, domain.ErrSessionNotFound
	}
	return snap, nil
}

// Destroy deletes the session and all of its staging storage. Destroying a
// session that no longer exists is not an error.
func (s *Service) Destroy(ctx context.Context, rawID string) error {
	store, err := staging.Load(ctx, s.baseDir, rawID)
	if err != nil {
		if _, parseErr := domain.ParseSessionID(rawID); parseErr != nil {
			return parseErr
		}
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	s.commits.Cancel(store.SessionID())
	return store.Destroy()
}
