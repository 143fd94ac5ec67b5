package preview

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/mhollis/crmport/internal/analyzer"
	"github.com/mhollis/crmport/internal/domain"
	"github.com/mhollis/crmport/internal/fields"
	"github.com/mhollis/crmport/internal/staging"
)

// nameMatcher resolves purely from a fixed name index and records how many
// candidates actually reached it.
type nameMatcher struct {
	existing map[string]uuid.UUID
	failOn   string
	calls    int
}

func (m *nameMatcher) Match(_ context.Context, candidate domain.Candidate) (domain.MatchResult, error) {
	m.calls++
	if candidate.Name == m.failOn {
		return domain.MatchResult{}, errors.New("resolver unavailable")
	}
	result := domain.MatchResult{Name: candidate.Name}
	if id, ok := m.existing[candidate.Name]; ok {
		result.Kind = domain.MatchName
		result.Matches = 1
		result.EntityID = id
		return result, nil
	}
	result.Kind = domain.MatchNew
	return result, nil
}

func newStore(t *testing.T, rows []domain.StagedRow) *staging.Store {
	t.Helper()
	session := domain.NewSession(uuid.New(), uuid.New(), "companies", "test.csv",
		[]string{"Company", "Email", "Industry"})
	store, err := staging.Create(context.Background(), t.TempDir(), session)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.BulkInsert(context.Background(), rows); err != nil {
		t.Fatalf("BulkInsert returned error: %v", err)
	}
	return store
}

func companySchema(t *testing.T) fields.Set {
	t.Helper()
	schema, err := fields.For("companies")
	if err != nil {
		t.Fatalf("fields.For returned error: %v", err)
	}
	return schema
}

func testMapping() domain.Mapping {
	return domain.Mapping{"name": "Company", "emails": "Email", "industry": "Industry"}
}

func TestPreviewCountsCreatesAndUpdates(t *testing.T) {
	existing := uuid.New()
	store := newStore(t, []domain.StagedRow{
		{RowNumber: 1, Raw: map[string]string{"Company": "Acme"}},
		{RowNumber: 2, Raw: map[string]string{"Company": "Initech"}},
		{RowNumber: 3, Raw: map[string]string{"Company": "Globex"}},
	})
	matcher := &nameMatcher{existing: map[string]uuid.UUID{"Acme": existing}}
	engine := NewEngine(store, NewRowResolver(companySchema(t), testMapping(), matcher))

	summary, err := engine.Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	if summary.TotalRows != 3 || summary.Creates != 2 || summary.Updates != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.Sample) != 3 {
		t.Fatalf("expected full sample, got %d rows", len(summary.Sample))
	}
	if summary.Sample[0].IsNew {
		t.Fatalf("Acme matched an existing record, sample must not flag it new")
	}
}

func TestPreviewHonorsCorrectionsAndSkips(t *testing.T) {
	store := newStore(t, []domain.StagedRow{
		{RowNumber: 1, Raw: map[string]string{"Company": "Acme Inc", "Industry": "Tech"}},
	})
	a := analyzer.New(store, companySchema(t))
	if _, err := a.ApplyCorrection(context.Background(), "name", "Company", "Acme Inc", "Acme"); err != nil {
		t.Fatalf("ApplyCorrection returned error: %v", err)
	}
	if _, err := a.SkipValue(context.Background(), "industry", "Industry", "Tech"); err != nil {
		t.Fatalf("SkipValue returned error: %v", err)
	}
	matcher := &nameMatcher{existing: map[string]uuid.UUID{"Acme": uuid.New()}}
	resolver := NewRowResolver(companySchema(t), testMapping(), matcher)

	batch, err := store.ScanRows(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("ScanRows returned error: %v", err)
	}
	resolved, err := resolver.Resolve(context.Background(), batch[0])
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	if resolved.Values["name"] != "Acme" {
		t.Fatalf("correction must override raw value: %v", resolved.Values)
	}
	if _, present := resolved.Values["industry"]; present {
		t.Fatalf("skipped field must be absent: %v", resolved.Values)
	}
	if resolved.IsNew() {
		t.Fatalf("corrected name should have matched the existing record")
	}
}

func TestPreviewCountsInvalidValuesAsFailed(t *testing.T) {
	store := newStore(t, []domain.StagedRow{
		{RowNumber: 1, Raw: map[string]string{"Company": "Acme", "Industry": "Nonsense"}},
		{RowNumber: 2, Raw: map[string]string{"Company": "Globex", "Industry": "Retail"}},
	})
	matcher := &nameMatcher{}
	engine := NewEngine(store, NewRowResolver(companySchema(t), testMapping(), matcher))

	summary, err := engine.Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	// A row with validation issues would fail on commit, so the dry run
	// counts it as failed rather than as a create.
	if summary.TotalRows != 2 || summary.Failed != 1 || summary.Creates != 1 {
		t.Fatalf("invalid row must count as failed: %+v", summary)
	}
	if summary.Sample[0].Issues["industry"] == "" {
		t.Fatalf("expected validation issue on sample row: %+v", summary.Sample[0])
	}
}

func TestPreviewCollapsesRepeatedNewCandidates(t *testing.T) {
	rows := make([]domain.StagedRow, 4)
	for i := range rows {
		rows[i] = domain.StagedRow{
			RowNumber: i + 1,
			Raw:       map[string]string{"Company": "Acme"},
		}
	}
	store := newStore(t, rows)
	engine := NewEngine(store, NewRowResolver(companySchema(t), testMapping(), &nameMatcher{}))

	summary, err := engine.Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	// The commit creates the first row and updates the rest, so the dry
	// run reports the same split.
	if summary.Creates != 1 || summary.Updates != 3 {
		t.Fatalf("expected 1 create and 3 updates for identical rows: %+v", summary)
	}
}

func TestPreviewToleratesRowFailures(t *testing.T) {
	store := newStore(t, []domain.StagedRow{
		{RowNumber: 1, Raw: map[string]string{"Company": "Acme"}},
		{RowNumber: 2, Raw: map[string]string{"Company": "Broken"}},
		{RowNumber: 3, Raw: map[string]string{"Company": "Globex"}},
	})
	matcher := &nameMatcher{failOn: "Broken"}
	engine := NewEngine(store, NewRowResolver(companySchema(t), testMapping(), matcher))

	summary, err := engine.Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected 1 failed row, got %+v", summary)
	}
	if summary.TotalRows != 2 || summary.Creates != 2 {
		t.Fatalf("failed row must be excluded from counts: %+v", summary)
	}
}

func TestPreviewSampleIsCapped(t *testing.T) {
	rows := make([]domain.StagedRow, 10)
	for i := range rows {
		rows[i] = domain.StagedRow{
			RowNumber: i + 1,
			Raw:       map[string]string{"Company": fmt.Sprintf("Company %d", i+1)},
		}
	}
	store := newStore(t, rows)
	engine := NewEngine(store, NewRowResolver(companySchema(t), testMapping(), &nameMatcher{}),
		WithSampleCap(4), WithBatchSize(3))

	summary, err := engine.Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	if summary.TotalRows != 10 {
		t.Fatalf("batched walk must cover every row: %+v", summary)
	}
	if len(summary.Sample) != 4 {
		t.Fatalf("expected capped sample of 4, got %d", len(summary.Sample))
	}
	if summary.Sample[0].RowNumber != 1 || summary.Sample[3].RowNumber != 4 {
		t.Fatalf("sample must be the first rows in order: %+v", summary.Sample)
	}
}

func TestResolverMemoizesRepeatedCandidates(t *testing.T) {
	rows := make([]domain.StagedRow, 6)
	for i := range rows {
		rows[i] = domain.StagedRow{
			RowNumber: i + 1,
			Raw:       map[string]string{"Company": "Acme"},
		}
	}
	store := newStore(t, rows)
	matcher := &nameMatcher{}
	engine := NewEngine(store, NewRowResolver(companySchema(t), testMapping(), matcher))

	if _, err := engine.Preview(context.Background()); err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	if matcher.calls != 1 {
		t.Fatalf("expected 1 matcher call for 6 identical rows, got %d", matcher.calls)
	}
}

func TestResolverHandlesDottedHeaders(t *testing.T) {
	session := domain.NewSession(uuid.New(), uuid.New(), "companies", "test.csv",
		[]string{"Co. Name"})
	store, err := staging.Create(context.Background(), t.TempDir(), session)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.BulkInsert(context.Background(), []domain.StagedRow{
		{RowNumber: 1, Raw: map[string]string{"Co. Name": "Acme"}},
	}); err != nil {
		t.Fatalf("BulkInsert returned error: %v", err)
	}

	resolver := NewRowResolver(companySchema(t), domain.Mapping{"name": "Co. Name"}, &nameMatcher{})
	batch, err := store.ScanRows(context.Background(), 0, 1)
	if err != nil {
		t.Fatalf("ScanRows returned error: %v", err)
	}
	resolved, err := resolver.Resolve(context.Background(), batch[0])
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if resolved.Values["name"] != "Acme" {
		t.Fatalf("dotted header must resolve literally: %v", resolved.Values)
	}
}
