package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

type updateUserRequest struct {
	Username *string          `json:"username,omitempty"`
	Email    *string          `json:"email,omitempty"`
	Status   *auth.UserStatus `json:"status,omitempty"`
	// Roles are role IDs and replace the current assignment.
	Roles *[]string `json:"roles,omitempty"`
}

// handleListUsers returns one page of users.
//
// Query parameters: page, limit (1-100, default 10), sortBy
// (username, email, status, created_at, updated_at), sortOrder (ASC|DESC).
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := auth.ListParams{
		SortBy:    firstNonEmpty(q.Get("sortBy"), q.Get("sort_by")),
		SortOrder: firstNonEmpty(q.Get("sortOrder"), q.Get("sort_order")),
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "page must be a positive integer")
			return
		}
		params.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > auth.MaxPageLimit {
			writeBadRequest(w, "limit must be between 1 and 100")
			return
		}
		params.Limit = n
	}

	page, err := s.auth.ListUsers(r.Context(), params)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleGetUser returns one user's profile.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	profile, err := s.auth.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleUpdateUser applies a partial update.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == nil && req.Email == nil && req.Status == nil && req.Roles == nil {
		writeBadRequest(w, "no fields to update")
		return
	}

	profile, err := s.auth.UpdateUser(r.Context(), chi.URLParam(r, "id"), auth.UserUpdate{
		Username: req.Username,
		Email:    req.Email,
		Status:   req.Status,
		RoleIDs:  req.Roles,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleDeleteUser removes a user. Admins cannot delete themselves.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if claims := claimsFromContext(r.Context()); claims != nil && claims.UserID() == id {
		writeBadRequest(w, "cannot delete your own account")
		return
	}

	if err := s.auth.DeleteUser(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRevokeUserSessions signs a user out everywhere.
func (s *Server) handleRevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	n, err := s.auth.RevokeAllSessions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

// handleListUserSessions lists a user's active refresh tokens (metadata only).
func (s *Server) handleListUserSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.auth.ListSessions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []auth.RefreshToken{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
