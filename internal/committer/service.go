package committer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/mhollis/crmport/internal/domain"
	"github.com/mhollis/crmport/internal/preview"
	"github.com/mhollis/crmport/internal/staging"
)

// EntityWriter persists one resolved row, scoped by tenant. A nil entity id
// creates a record; a non-nil id updates it. The returned id is the record
// written.
type EntityWriter interface {
	CreateOrUpdate(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID, values map[string]string) (uuid.UUID, error)
}

// AmbiguousPolicy decides what happens to rows whose candidate matched more
// than one existing record. The choice is explicit configuration; there is no
// silent default at commit time.
type AmbiguousPolicy string

const (
	// AmbiguousSkip leaves ambiguous rows out of the commit.
	AmbiguousSkip AmbiguousPolicy = "skip"
	// AmbiguousCreate force-creates a new record for ambiguous rows.
	AmbiguousCreate AmbiguousPolicy = "create"
)

// ParseAmbiguousPolicy maps configuration input onto a policy.
func ParseAmbiguousPolicy(raw string) (AmbiguousPolicy, error) {
	switch AmbiguousPolicy(strings.TrimSpace(strings.ToLower(raw))) {
	case "", AmbiguousSkip:
		return AmbiguousSkip, nil
	case AmbiguousCreate:
		return AmbiguousCreate, nil
	default:
		return "", fmt.Errorf("unknown ambiguous-match policy %q", raw)
	}
}

// JobStatus is the lifecycle of one commit job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobSnapshot is a point-in-time view of a commit job's progress.
type JobSnapshot struct {
	ID         uuid.UUID        `json:"id"`
	SessionID  domain.SessionID `json:"sessionId"`
	Status     JobStatus        `json:"status"`
	Total      int              `json:"total"`
	Created    int              `json:"created"`
	Updated    int              `json:"updated"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	ReportPath string           `json:"-"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt,omitempty"`
}

type jobState struct {
	mu       sync.Mutex
	snapshot JobSnapshot
	failures []FailedRow
}

func (j *jobState) update(fn func(*JobSnapshot)) {
	j.mu.Lock()
	fn(&j.snapshot)
	j.mu.Unlock()
}

// Service runs commits as background jobs, one per session, with
// cancellation and a job timeout.
type Service struct {
	writer EntityWriter
	log    *logrus.Logger

	reportDir  string
	jobTimeout time.Duration
	batchSize  int
	ambiguous  AmbiguousPolicy

	jobs    sync.Map // map[domain.SessionID]*jobState
	cancels sync.Map // map[domain.SessionID]context.CancelFunc
}

// Option configures a Service.
type Option func(*Service)

// WithReportDirectory sets where failure reports are written.
func WithReportDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.reportDir = filepath.Clean(dir)
		}
	}
}

// WithJobTimeout bounds how long one commit may run.
func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.jobTimeout = timeout
		}
	}
}

// WithBatchSize sets how many staged rows are scanned per query.
func WithBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithAmbiguousPolicy sets the handling of ambiguous-match rows.
func WithAmbiguousPolicy(policy AmbiguousPolicy) Option {
	return func(s *Service) {
		s.ambiguous = policy
	}
}

// NewService builds a commit service writing through the given entity writer.
func NewService(writer EntityWriter, log *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		writer:     writer,
		log:        log,
		reportDir:  filepath.Join(os.TempDir(), "crmport-reports"),
		jobTimeout: 30 * time.Minute,
		batchSize:  500,
		ambiguous:  AmbiguousSkip,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

// Start launches the commit for one session in the background. The session
// moves to importing immediately; the caller polls Job for progress. The
// store is owned by the job from here on and closed when it finishes.
func (s *Service) Start(session domain.Session, store *staging.Store, resolver *preview.RowResolver) (JobSnapshot, error) {
	if !session.Status.CanTransitionTo(domain.SessionStatusImporting) {
		return JobSnapshot{}, fmt.Errorf("session %s cannot start importing from status %s", session.ID, session.Status)
	}
	if _, running := s.jobs.Load(session.ID); running {
		if snap, ok := s.Job(session.ID); ok && snap.Status == JobRunning {
			return JobSnapshot{}, fmt.Errorf("session %s already has a running commit", session.ID)
		}
	}
	if err := store.SetStatus(context.Background(), domain.SessionStatusImporting); err != nil {
		return JobSnapshot{}, err
	}

	job := &jobState{snapshot: JobSnapshot{
		ID:        uuid.New(),
		SessionID: session.ID,
		Status:    JobRunning,
		StartedAt: time.Now().UTC(),
	}}
	s.jobs.Store(session.ID, job)

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	s.cancels.Store(session.ID, cancel)

	// Taken before the worker starts; the worker owns the snapshot after.
	snapshot := job.snapshot

	go func() {
		defer func() {
			cancel()
			s.cancels.Delete(session.ID)
			_ = store.Close()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				s.log.WithField("session", session.ID).Errorf("panic during commit: %v", rec)
				s.finish(context.Background(), store, job, fmt.Errorf("panic: %v", rec))
			}
		}()
		s.finish(ctx, store, job, s.run(ctx, session, store, resolver, job))
	}()

	return snapshot, nil
}

// Job returns the progress of the commit for one session.
func (s *Service) Job(sessionID domain.SessionID) (JobSnapshot, bool) {
	value, ok := s.jobs.Load(sessionID)
	if !ok {
		return JobSnapshot{}, false
	}
	job := value.(*jobState)
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.snapshot, true
}

// Cancel stops an in-flight commit. The session is marked failed.
func (s *Service) Cancel(sessionID domain.SessionID) bool {
	value, ok := s.cancels.LoadAndDelete(sessionID)
	if !ok {
		return false
	}
	value.(context.CancelFunc)()
	return true
}

// finish moves the session to its final status and then records the terminal
// job state, in that order, so a caller who observes a finished job always
// sees the finished session too.
func (s *Service) finish(ctx context.Context, store *staging.Store, job *jobState, err error) {
	status := domain.SessionStatusCompleted
	if err != nil {
		status = domain.SessionStatusFailed
		s.log.WithField("session", store.SessionID()).WithError(err).Error("commit did not complete")
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if setErr := store.SetStatus(ctx, status); setErr != nil {
		s.log.WithField("session", store.SessionID()).WithError(setErr).
			Error("failed to record final session status")
	}

	job.update(func(snap *JobSnapshot) {
		snap.FinishedAt = time.Now().UTC()
		switch {
		case err == nil:
			snap.Status = JobCompleted
		case errors.Is(err, context.Canceled):
			snap.Status = JobCancelled
			snap.Error = "cancelled"
		default:
			snap.Status = JobFailed
			snap.Error = err.Error()
		}
	})
}

// run walks the staged rows through the same resolver the preview used and
// writes each resolved row. Per-row failures are collected as data; only
// storage and context errors abort the walk.
func (s *Service) run(ctx context.Context, session domain.Session, store *staging.Store, resolver *preview.RowResolver, job *jobState) error {
	identityColumn, _ := session.Mapping.Column(resolver.IdentityField())

	// Lookup value of the raw identity column, per resolved candidate, so
	// match decisions can be stamped onto the rows in one set-based pass.
	resolved := make(map[string]uuid.UUID)

	afterRow := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := store.ScanRows(ctx, afterRow, s.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		afterRow = batch[len(batch)-1].RowNumber

		for _, rec := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.commitRow(ctx, session, rec, resolver, job, identityColumn, resolved)
		}
	}

	// Stamp the match decisions onto the rows in one set-based pass. Keys
	// that resolved to no existing record were created above, so the
	// unmatched default is create; rows that never produced a key (skipped,
	// ambiguous, failed) keep no action.
	if identityColumn != "" && len(resolved) > 0 {
		if _, err := store.BulkApplyMatches(ctx, identityColumn, resolved, domain.MatchActionCreate); err != nil {
			return err
		}
	}

	job.mu.Lock()
	failures := job.failures
	job.mu.Unlock()
	if len(failures) > 0 {
		path, err := s.writeReport(session, failures)
		if err != nil {
			s.log.WithField("session", session.ID).WithError(err).
				Warn("failed to write failure report")
		} else {
			job.update(func(snap *JobSnapshot) { snap.ReportPath = path })
		}
	}
	return nil
}

// commitRow resolves and writes one staged row, recording the outcome on the
// job. Write and validation failures never abort the batch.
func (s *Service) commitRow(ctx context.Context, session domain.Session, rec staging.RowRecord, resolver *preview.RowResolver, job *jobState, identityColumn string, resolved map[string]uuid.UUID) {
	job.update(func(snap *JobSnapshot) { snap.Total++ })

	row, err := resolver.Resolve(ctx, rec)
	if err != nil {
		s.recordFailure(job, rec, err)
		return
	}

	// The outcome comes from the same classification the preview used, so
	// the two can never disagree on what a row becomes.
	outcome := row.Classify()
	entityID := row.Match.EntityID
	switch outcome {
	case preview.OutcomeSkip:
		job.update(func(snap *JobSnapshot) { snap.Skipped++ })
		return
	case preview.OutcomeFail:
		s.recordFailure(job, rec, validationFailure(row.Issues))
		return
	case preview.OutcomeAmbiguous:
		if s.ambiguous == AmbiguousSkip {
			job.update(func(snap *JobSnapshot) { snap.Skipped++ })
			return
		}
		entityID = uuid.Nil
	case preview.OutcomeCreate:
		entityID = uuid.Nil
	}

	written, err := s.writer.CreateOrUpdate(ctx, session.TenantID, session.EntityType, entityID, row.Values)
	if err != nil {
		s.recordFailure(job, rec, err)
		return
	}
	if outcome == preview.OutcomeCreate {
		// Later rows carrying the same candidate update this record
		// instead of creating duplicates.
		resolver.RecordCreate(row, written)
	}

	if identityColumn != "" {
		key := strings.ToLower(strings.TrimSpace(gjson.GetBytes(rec.Raw, staging.EscapePath(identityColumn)).String()))
		if key != "" {
			// First writer wins so every row of a created candidate keeps
			// the create action when the decisions are stamped.
			if _, seen := resolved[key]; !seen {
				if entityID == uuid.Nil {
					resolved[key] = uuid.Nil
				} else {
					resolved[key] = written
				}
			}
		}
	}

	job.update(func(snap *JobSnapshot) {
		if entityID == uuid.Nil {
			snap.Created++
		} else {
			snap.Updated++
		}
	})
}

func (s *Service) recordFailure(job *jobState, rec staging.RowRecord, err error) {
	failure := newFailedRow(rec, err)
	job.mu.Lock()
	job.failures = append(job.failures, failure)
	job.snapshot.Failed++
	job.mu.Unlock()
}

// validationFailure folds a row's per-field validation issues into one
// commit error message.
func validationFailure(issues map[string]string) error {
	fields := make([]string, 0, len(issues))
	for field := range issues {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, issues[field]))
	}
	return errors.New(strings.Join(parts, "; "))
}
