package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	appAudit "github.com/execution-hub/commission-hub/internal/application/audit"
	"github.com/execution-hub/commission-hub/internal/domain/audit"
)

// auditFilter reads the audit query string into a repository filter.
func auditFilter(r *http.Request) (audit.QueryFilter, error) {
	q := r.URL.Query()
	filter := audit.QueryFilter{}
	if v := q.Get("entityType"); v != "" {
		et := audit.EntityType(strings.ToUpper(v))
		filter.EntityType = &et
	}
	if v := q.Get("entityId"); v != "" {
		filter.EntityID = &v
	}
	if v := q.Get("action"); v != "" {
		a := audit.Action(strings.ToUpper(v))
		filter.Action = &a
	}
	if v := q.Get("actor"); v != "" {
		filter.Actor = &v
	}
	if v := q.Get("riskLevel"); v != "" {
		rl := audit.RiskLevel(strings.ToUpper(v))
		filter.RiskLevel = &rl
	}
	if v := q.Get("traceId"); v != "" {
		filter.TraceID = &v
	}
	if v := q.Get("tags"); v != "" {
		filter.Tags = splitCSV(v)
	}
	for key, dst := range map[string]**time.Time{"startTime": &filter.StartTime, "endTime": &filter.EndTime} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, errors.New("invalid " + key)
			}
			*dst = &t
		}
	}
	return filter, nil
}

func (s *Server) auditPageLimit(r *http.Request) int {
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		return l
	}
	return s.opts.DefaultPageLimit
}

func (s *Server) respondAuditPage(w http.ResponseWriter, page *appAudit.Page, err error) {
	if err != nil {
		if errors.Is(err, appAudit.ErrInvalidCursor) {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	page, err := s.auditSvc.Query(r.Context(), filter, r.URL.Query().Get("cursor"), s.auditPageLimit(r))
	s.respondAuditPage(w, page, err)
}

func (s *Server) managerAuditHistory(w http.ResponseWriter, r *http.Request) {
	managerID, err := parseUUIDParam(r, "managerId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid managerId")
		return
	}
	page, err := s.auditSvc.ManagerHistory(r.Context(), managerID, r.URL.Query().Get("cursor"), s.auditPageLimit(r))
	s.respondAuditPage(w, page, err)
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "auditId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid auditId")
		return
	}
	log, err := s.auditSvc.Get(r.Context(), id)
	if err != nil {
		respondAuditLookupError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, log)
}

func (s *Server) verifyAudit(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "auditId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid auditId")
		return
	}
	res, err := s.auditSvc.Verify(r.Context(), id)
	if err != nil {
		respondAuditLookupError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func respondAuditLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, appAudit.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}

func (s *Server) entityAuditHistory(w http.ResponseWriter, r *http.Request) {
	entityType := audit.EntityType(strings.ToUpper(chi.URLParam(r, "entityType")))
	logs, err := s.auditSvc.EntityHistory(r.Context(), entityType, chi.URLParam(r, "entityId"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}
