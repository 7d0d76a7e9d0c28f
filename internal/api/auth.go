package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// tokenTypeBearer is the token_type returned with access tokens.
const tokenTypeBearer = "Bearer"

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	// Roles are role IDs. Only callers holding users:write may set them.
	Roles []string `json:"roles,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	User         auth.Profile `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type checkPermissionRequest struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

type checkRoleRequest struct {
	RoleName string `json:"role_name"`
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// handleRegister creates an account. Self-registration gets no roles;
// assigning roles needs a bearer token carrying users:write.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if len(req.Roles) > 0 {
		token, ok := auth.ExtractBearer(r.Header.Get("Authorization"))
		if !ok {
			writeForbidden(w, "assigning roles requires users:write")
			return
		}
		claims, err := s.auth.VerifyAccessToken(token)
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		if !slices.Contains(claims.Permissions, auth.PermUsersWrite) {
			writeForbidden(w, "assigning roles requires users:write")
			return
		}
	}

	profile, err := s.auth.Register(r.Context(), auth.RegisterRequest{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		RoleIDs:  req.Roles,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

// handleLogin exchanges credentials for an access/refresh token pair.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	res, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		User:         res.User,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int(res.ExpiresIn.Seconds()),
	})
}

// handleRefresh issues a new access token for a live refresh token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	res, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int(res.ExpiresIn.Seconds()),
	})
}

// handleLogout revokes a refresh token. Unknown tokens still get 204.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	if err := s.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the caller's current profile.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	profile, err := s.auth.Profile(r.Context(), claims.UserID())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleRevokeAll signs the caller out everywhere.
func (s *Server) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	n, err := s.auth.RevokeAllSessions(r.Context(), claims.UserID())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

// handleCheckPermission answers whether the caller currently holds
// resource:action. Roles are resolved from the store, not the token.
func (s *Server) handleCheckPermission(w http.ResponseWriter, r *http.Request) {
	var req checkPermissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Resource == "" || req.Action == "" {
		writeBadRequest(w, "resource and action are required")
		return
	}

	claims := claimsFromContext(r.Context())
	allowed, err := s.auth.CheckPermission(r.Context(), claims.UserID(), req.Resource, req.Action)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":  allowed,
		"resource": req.Resource,
		"action":   req.Action,
	})
}

// handleCheckRole answers whether the caller currently holds role_name.
func (s *Server) handleCheckRole(w http.ResponseWriter, r *http.Request) {
	var req checkRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RoleName == "" {
		writeBadRequest(w, "role_name is required")
		return
	}

	claims := claimsFromContext(r.Context())
	allowed, err := s.auth.CheckRole(r.Context(), claims.UserID(), req.RoleName)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":   allowed,
		"role_name": req.RoleName,
	})
}
