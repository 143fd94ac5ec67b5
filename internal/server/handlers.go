package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mhollis/crmport/internal/auth"
	"github.com/mhollis/crmport/internal/committer"
	"github.com/mhollis/crmport/internal/domain"
)

// handleCreateSession accepts a multipart CSV or Excel upload and opens a new
// import session for it.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing tenant id")
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(s.maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid form")
		return
	}

	entityType := r.FormValue("entity_type")
	if entityType == "" {
		writeError(w, http.StatusBadRequest, "missing entity type")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	session, err := s.sessions.Create(r.Context(), tenantID, userID, entityType, header.Filename, payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, session)
}

func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Destroy(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "destroyed"})
}

func (s *Server) handleSetMapping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mapping domain.Mapping `json:"mapping"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid mapping format")
		return
	}
	session, err := s.sessions.SetMapping(r.Context(), chi.URLParam(r, "sessionID"), req.Mapping)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, session)
}

func (s *Server) handleAnalyzeColumns(w http.ResponseWriter, r *http.Request) {
	columns, err := s.sessions.Analyze(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"columns": columns})
}

func (s *Server) handleColumnValues(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := parseIntParam(query.Get("page"), 0)
	pageSize := parseIntParam(query.Get("pageSize"), 50)

	filter, err := domain.ParseValueFilter(query.Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sort, err := domain.ParseValueSort(query.Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	values, err := s.sessions.Values(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "field"),
		page, pageSize, query.Get("search"), filter, sort)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, values)
}

func (s *Server) handleFilterCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.sessions.FilterCounts(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "field"),
		r.URL.Query().Get("search"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, counts)
}

func (s *Server) handleStoreCorrection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldValue string `json:"oldValue"`
		NewValue string `json:"newValue"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid correction format")
		return
	}
	affected, err := s.sessions.StoreCorrection(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "field"),
		req.OldValue, req.NewValue)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"affected": affected})
}

func (s *Server) handleRemoveCorrection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid correction format")
		return
	}
	affected, err := s.sessions.RemoveCorrection(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "field"), req.Value)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"affected": affected})
}

func (s *Server) handleSkipValue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid skip format")
		return
	}
	affected, err := s.sessions.SkipValue(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "field"), req.Value)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"affected": affected})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	flagged, err := s.sessions.Validate(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"flagged": flagged})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	summary, err := s.sessions.Preview(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, summary)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Commit(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.log.WithError(err).Warn("failed to encode response")
	}
}

func (s *Server) handleCommitStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.CommitStatus(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, snap)
}

// handleDownloadReport streams the failure report of a finished commit.
// The report is CSV by default; format=xlsx selects the Excel copy.
func (s *Server) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.CommitStatus(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if snap.Status == committer.JobRunning {
		writeError(w, http.StatusConflict, "commit still running")
		return
	}
	if snap.ReportPath == "" {
		writeError(w, http.StatusNotFound, "no failure report for this session")
		return
	}

	path := snap.ReportPath
	contentType := "text/csv"
	if r.URL.Query().Get("format") == "xlsx" {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ".xlsx"
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}

	file, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "failure report unavailable")
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	if _, err := io.Copy(w, file); err != nil {
		s.log.WithError(err).Warn("failed to stream failure report")
	}
}

func parseIntParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
