package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mhollis/crmport/internal/committer"
	"github.com/mhollis/crmport/internal/domain"
	"github.com/mhollis/crmport/internal/session"
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

func newTestServer(t *testing.T) *Server {
	t.Helper()
	entities := &stubEntities{}
	log := logrus.New()
	commits := committer.NewService(entities, log, committer.WithReportDirectory(t.TempDir()))
	sessions := session.NewService(t.TempDir(), entities, commits, log)
	return New(sessions, log)
}

func uploadRequest(t *testing.T, entityType string, payload string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	if entityType != "" {
		if err := form.WriteField("entity_type", entityType); err != nil {
			t.Fatalf("failed to write form field: %v", err)
		}
	}
	part, err := form.CreateFormFile("file", "upload.csv")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte(payload)); err != nil {
		t.Fatalf("failed to write file payload: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("failed to close form: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("X-Tenant-ID", uuid.NewString())
	req.Header.Set("X-User-ID", uuid.NewString())
	return req
}

func createTestSession(t *testing.T, srv *Server) domain.Session {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "companies", sampleCSV))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload returned %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	return created
}

func doJSON(t *testing.T, srv *Server, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal request: %v", err)
		}
		body = bytes.NewBuffer(data)
	} else {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestUploadCreatesSessionWithGuessedMapping(t *testing.T) {
	srv := newTestServer(t)
	created := createTestSession(t, srv)

	if created.Status != domain.SessionStatusMapping {
		t.Fatalf("expected mapping status, got %q", created.Status)
	}
	if created.RowCount != 3 {
		t.Fatalf("expected 3 rows, got %d", created.RowCount)
	}
	if created.Mapping["name"] != "Company Name" {
		t.Fatalf("expected name mapped to Company Name, got %q", created.Mapping["name"])
	}
}

func TestUploadRequiresTenantAndUser(t *testing.T) {
	srv := newTestServer(t)

	req := uploadRequest(t, "companies", sampleCSV)
	req.Header.Del("X-Tenant-ID")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without tenant header, got %d", rec.Code)
	}

	req = uploadRequest(t, "companies", sampleCSV)
	req.Header.Set("X-Tenant-ID", "not-a-uuid")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed tenant header, got %d", rec.Code)
	}
}

func TestUploadRequiresEntityType(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "", sampleCSV))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without entity type, got %d", rec.Code)
	}
}

func TestGetSessionUnknownIDReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/sessions/"+string(domain.NewSessionID()), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/sessions/not-a-session-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for malformed session id, got %d", rec.Code)
	}
}

func TestSetMappingRejectsUnknownField(t *testing.T) {
	srv := newTestServer(t)
	created := createTestSession(t, srv)

	rec := doJSON(t, srv, http.MethodPut, "/api/sessions/"+string(created.ID)+"/mapping", map[string]interface{}{
		"mapping": map[string]string{"revenue": "Company Name"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestColumnAnalysisAndValues(t *testing.T) {
	srv := newTestServer(t)
	created := createTestSession(t, srv)
	base := "/api/sessions/" + string(created.ID)

	rec := doJSON(t, srv, http.MethodGet, base+"/columns", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze returned %d: %s", rec.Code, rec.Body.String())
	}
	var analysis struct {
		Columns []domain.ColumnAnalysis `json:"columns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &analysis); err != nil {
		t.Fatalf("failed to decode analysis: %v", err)
	}
	if len(analysis.Columns) != 3 {
		t.Fatalf("expected 3 analyzed columns, got %d", len(analysis.Columns))
	}

	rec = doJSON(t, srv, http.MethodGet, base+"/columns/industry/values?pageSize=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("values returned %d: %s", rec.Code, rec.Body.String())
	}
	var page domain.UniqueValuePage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode values: %v", err)
	}
	if page.Total != 3 {
		t.Fatalf("expected 3 distinct industries, got %d", page.Total)
	}

	rec = doJSON(t, srv, http.MethodGet, base+"/columns/industry/values?filter=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown filter, got %d", rec.Code)
	}
}

func TestCorrectionRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	created := createTestSession(t, srv)
	base := "/api/sessions/" + string(created.ID)

	rec := doJSON(t, srv, http.MethodPost, base+"/columns/industry/corrections", map[string]string{
		"oldValue": "Tech",
		"newValue": "Technology",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("correction returned %d: %s", rec.Code, rec.Body.String())
	}
	var affected map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &affected); err != nil {
		t.Fatalf("failed to decode correction response: %v", err)
	}
	if affected["affected"] != 1 {
		t.Fatalf("expected 1 affected row, got %d", affected["affected"])
	}

	rec = doJSON(t, srv, http.MethodGet, base+"/columns/industry/filters", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("filter counts returned %d: %s", rec.Code, rec.Body.String())
	}
	var counts domain.FilterCounts
	if err := json.Unmarshal(rec.Body.Bytes(), &counts); err != nil {
		t.Fatalf("failed to decode filter counts: %v", err)
	}
	if counts.Modified != 1 {
		t.Fatalf("expected 1 modified value, got %d", counts.Modified)
	}

	rec = doJSON(t, srv, http.MethodPost, base+"/columns/industry/corrections/remove", map[string]string{
		"value": "Tech",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("remove correction returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPreviewAndCommitFlow(t *testing.T) {
	srv := newTestServer(t)
	created := createTestSession(t, srv)
	base := "/api/sessions/" + string(created.ID)

	rec := doJSON(t, srv, http.MethodPut, base+"/mapping", map[string]interface{}{
		"mapping": created.Mapping,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set mapping returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, base+"/preview", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview returned %d: %s", rec.Code, rec.Body.String())
	}
	var summary struct {
		TotalRows int `json:"totalRows"`
		Creates   int `json:"creates"`
		Failed    int `json:"failed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode preview: %v", err)
	}
	// Initech's industry is outside the allowed choices, so the dry run
	// already reports it as a row the commit will fail.
	if summary.TotalRows != 3 || summary.Creates != 2 || summary.Failed != 1 {
		t.Fatalf("expected 2 creates and 1 failed, got %+v", summary)
	}

	rec = doJSON(t, srv, http.MethodPost, base+"/commit", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("commit returned %d: %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = doJSON(t, srv, http.MethodGet, base+"/commit", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("commit status returned %d: %s", rec.Code, rec.Body.String())
		}
		var snap committer.JobSnapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatalf("failed to decode commit status: %v", err)
		}
		if snap.Status != committer.JobRunning {
			if snap.Status != committer.JobCompleted {
				t.Fatalf("expected completed commit, got %q (%s)", snap.Status, snap.Error)
			}
			if snap.Created != 2 || snap.Failed != 1 {
				t.Fatalf("expected 2 created and 1 failed, got %+v", snap)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("commit did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReportDownloadWithoutFailuresReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	created := createTestSession(t, srv)
	base := "/api/sessions/" + string(created.ID)

	// Leave the industry column unmapped so every row commits cleanly.
	rec := doJSON(t, srv, http.MethodPut, base+"/mapping", map[string]interface{}{
		"mapping": map[string]string{"name": "Company Name", "emails": "Email"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set mapping returned %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, http.MethodPost, base+"/commit", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("commit returned %d: %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = doJSON(t, srv, http.MethodGet, base+"/commit", nil)
		var snap committer.JobSnapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatalf("failed to decode commit status: %v", err)
		}
		if snap.Status != committer.JobRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("commit did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = doJSON(t, srv, http.MethodGet, base+"/report", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for clean commit, got %d", rec.Code)
	}
}

func TestDestroySessionIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	created := createTestSession(t, srv)
	path := "/api/sessions/" + string(created.ID)

	for i := 0; i < 2; i++ {
		rec := doJSON(t, srv, http.MethodDelete, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("destroy attempt %d returned %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, srv, http.MethodGet, path, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after destroy, got %d", rec.Code)
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	srv := newTestServer(t)
	srv.maxUploadSize = 64

	payload := "Company Name,Email\n" + strings.Repeat("Corp,corp@example.com\n", 50)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "companies", payload))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized upload, got %d", rec.Code)
	}
}
