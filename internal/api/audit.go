package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/audit"
)

// handleListAuditLogs serves GET /audit, newest entries first.
//
//	?action=login_failed&user_id=usr-1&since=2026-01-01T00:00:00Z&limit=50&offset=0
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log not available")
		return
	}

	filter, err := parseAuditFilter(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	page, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// parseAuditFilter reads the audit query parameters. Out-of-range limits
// are clamped by the repository.
func parseAuditFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{Action: q.Get("action"), UserID: q.Get("user_id")}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("since must be an RFC3339 timestamp")
		}
		f.Since = t
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New(p.name + " must be an integer")
		}
		*p.dst = n
	}
	return f, nil
}
