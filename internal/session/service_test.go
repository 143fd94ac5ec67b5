package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mhollis/crmport/internal/committer"
	"github.com/mhollis/crmport/internal/domain"
	"github.com/mhollis/crmport/internal/staging"
)

// stubEntities is an in-memory entity repository keyed by name.
type stubEntities struct {
	byName map[string]uuid.UUID
}

func (s *stubEntities) FindByLookupKeys(_ context.Context, _ uuid.UUID, _ string, _ []string) ([]domain.EntityRef, error) {
	return nil, nil
}

func (s *stubEntities) FindByName(_ context.Context, _ uuid.UUID, _ string, name string) ([]domain.EntityRef, error) {
	if id, ok := s.byName[name]; ok {
		return []domain.EntityRef{{ID: id, Name: name}}, nil
	}
	return nil, nil
}

func (s *stubEntities) CreateOrUpdate(_ context.Context, _ uuid.UUID, _ string, entityID uuid.UUID, _ map[string]string) (uuid.UUID, error) {
	if entityID != uuid.Nil {
		return entityID, nil
	}
	return uuid.New(), nil
}

const sampleCSV = "Company Name,Email,Industry\n" +
	"Acme,info@acme.io,Technology\n" +
	"Initech,hello@initech.example,Tech\n" +
	"Globex,,Retail\n"

func newService(t *testing.T, entities *stubEntities, opts ...Option) *Service {
	t.Helper()
	if entities == nil {
		entities = &stubEntities{}
	}
	log := logrus.New()
	commits := committer.NewService(entities, log, committer.WithReportDirectory(t.TempDir()))
	return NewService(t.TempDir(), entities, commits, log, opts...)
}

func createSession(t *testing.T, s *Service) domain.Session {
	t.Helper()
	session, err := s.Create(context.Background(), uuid.New(), uuid.New(), "companies", "upload.csv", []byte(sampleCSV))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return session
}

func TestCreateGuessesMappingAndStagesRows(t *testing.T) {
	s := newService(t, nil)
	session := createSession(t, s)

	if session.Status != domain.SessionStatusMapping {
		t.Fatalf("expected mapping status, got %q", session.Status)
	}
	if session.RowCount != 3 {
		t.Fatalf("expected 3 staged rows, got %d", session.RowCount)
	}
	want := domain.Mapping{"name": "Company Name", "emails": "Email", "industry": "Industry"}
	for field, column := range want {
		if session.Mapping[field] != column {
			t.Fatalf("expected %s mapped to %q, got %q", field, column, session.Mapping[field])
		}
	}
}

func TestCreateRejectsEmptyFile(t *testing.T) {
	s := newService(t, nil)
	if _, err := s.Create(context.Background(), uuid.New(), uuid.New(), "companies", "empty.csv",
		[]byte("Company Name,Email\n")); err == nil {
		t.Fatalf("expected error for file with no data rows")
	}
}

func TestSetMappingValidatesFieldsAndColumns(t *testing.T) {
	s := newService(t, nil)
	session := createSession(t, s)

	if _, err := s.SetMapping(context.Background(), session.ID.String(),
		domain.Mapping{"revenue": "Industry"}); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
	if _, err := s.SetMapping(context.Background(), session.ID.String(),
		domain.Mapping{"name": "No Such Column"}); err == nil {
		t.Fatalf("expected unknown column to be rejected")
	}

	updated, err := s.SetMapping(context.Background(), session.ID.String(),
		domain.Mapping{"name": "Company Name", "industry": "Industry"})
	if err != nil {
		t.Fatalf("SetMapping returned error: %v", err)
	}
	if updated.Status != domain.SessionStatusReviewing {
		t.Fatalf("expected reviewing status, got %q", updated.Status)
	}
}

func TestCorrectionFlowThroughService(t *testing.T) {
	s := newService(t, nil)
	session := createSession(t, s)

	affected, err := s.StoreCorrection(context.Background(), session.ID.String(),
		"industry", "Tech", "Technology")
	if err != nil {
		t.Fatalf("StoreCorrection returned error: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 corrected row, got %d", affected)
	}

	counts, err := s.FilterCounts(context.Background(), session.ID.String(), "industry", "")
	if err != nil {
		t.Fatalf("FilterCounts returned error: %v", err)
	}
	if counts.Modified != 1 {
		t.Fatalf("expected 1 modified value, got %+v", counts)
	}

	if _, err := s.RemoveCorrection(context.Background(), session.ID.String(), "industry", "Tech"); err != nil {
		t.Fatalf("RemoveCorrection returned error: %v", err)
	}
	counts, err = s.FilterCounts(context.Background(), session.ID.String(), "industry", "")
	if err != nil {
		t.Fatalf("FilterCounts returned error: %v", err)
	}
	if counts.Modified != 0 {
		t.Fatalf("expected no modified values after removal, got %+v", counts)
	}
}

func TestCorrectionRequiresMappedField(t *testing.T) {
	s := newService(t, nil)
	session := createSession(t, s)

	if _, err := s.StoreCorrection(context.Background(), session.ID.String(),
		"founded_on", "x", "y"); err == nil {
		t.Fatalf("expected error for unmapped field")
	}
}

func TestPreviewThroughService(t *testing.T) {
	entities := &stubEntities{byName: map[string]uuid.UUID{"Acme": uuid.New()}}
	s := newService(t, entities)
	session := createSession(t, s)

	summary, err := s.Preview(context.Background(), session.ID.String())
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	// Initech carries an industry outside the allowed choices, so the dry
	// run reports it as a row the commit would fail.
	if summary.TotalRows != 3 || summary.Updates != 1 || summary.Creates != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	// Preview must not move the session out of its current status.
	current, err := s.Get(context.Background(), session.ID.String())
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if current.Status != domain.SessionStatusMapping {
		t.Fatalf("preview mutated session status to %q", current.Status)
	}
}

func TestCommitThroughService(t *testing.T) {
	s := newService(t, nil)
	session := createSession(t, s)

	if _, err := s.SetMapping(context.Background(), session.ID.String(),
		domain.Mapping{"name": "Company Name", "emails": "Email"}); err != nil {
		t.Fatalf("SetMapping returned error: %v", err)
	}
	if _, err := s.Commit(context.Background(), session.ID.String()); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, err := s.CommitStatus(session.ID.String())
		if err != nil {
			t.Fatalf("CommitStatus returned error: %v", err)
		}
		if snap.Status != committer.JobRunning {
			if snap.Status != committer.JobCompleted || snap.Created != 3 {
				t.Fatalf("unexpected terminal job: %+v", snap)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("commit did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	final, err := s.Get(context.Background(), session.ID.String())
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if final.Status != domain.SessionStatusCompleted {
		t.Fatalf("expected completed session, got %q", final.Status)
	}
}

func TestDestroyIsIdempotentAndBlocksFurtherUse(t *testing.T) {
	s := newService(t, nil)
	session := createSession(t, s)

	if err := s.Destroy(context.Background(), session.ID.String()); err != nil {
		t.Fatalf("Destroy returned error: %v", err)
	}
	if err := s.Destroy(context.Background(), session.ID.String()); err != nil {
		t.Fatalf("repeated Destroy returned error: %v", err)
	}
	if _, err := s.Get(context.Background(), session.ID.String()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session-not-found after destroy, got %v", err)
	}
	if err := s.Destroy(context.Background(), "../../etc"); err == nil {
		t.Fatalf("expected malformed id to be rejected")
	}
}

func TestSweepDestroysExpiredSessions(t *testing.T) {
	s := newService(t, nil, WithTTL(time.Nanosecond))
	session := createSession(t, s)

	time.Sleep(5 * time.Millisecond)
	s.sweep(context.Background())

	if _, err := staging.Load(context.Background(), s.baseDir, session.ID.String()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected expired session to be destroyed, got %v", err)
	}
}

func TestSweepKeepsFreshSessions(t *testing.T) {
	s := newService(t, nil, WithTTL(time.Hour))
	session := createSession(t, s)

	s.sweep(context.Background())

	if _, err := s.Get(context.Background(), session.ID.String()); err != nil {
		t.Fatalf("fresh session must survive the sweep: %v", err)
	}
}
