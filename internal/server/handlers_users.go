package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"diagcenter/internal/app"
	"diagcenter/internal/domain"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// handleUserByPath serves /api/users/{email} and the admin mutators
// /api/users/{id}/status and /api/users/{id}/role.
func (s *Server) handleUserByPath(w http.ResponseWriter, r *http.Request, caller domain.User) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/users/"), "/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleUserByEmail(w, r, caller, parts[0])
	case len(parts) == 2 && parts[1] == "status":
		s.handleSetUserStatus(w, r, caller, parts[0])
	case len(parts) == 2 && parts[1] == "role":
		s.handleSetUserRole(w, r, caller, parts[0])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleUserByEmail(w http.ResponseWriter, r *http.Request, caller domain.User, email string) {
	if caller.Role != domain.RoleAdmin && !strings.EqualFold(caller.Email, email) {
		writeError(w, http.StatusUnauthorized, "unauthorized access")
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, ok, err := s.app.UserByEmail(email)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		var req profileRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		user, err := s.app.SaveProfile(email, app.ProfileUpdate{
			Name:     req.Name,
			Status:   domain.UserStatus(req.Status),
			Blood:    req.Blood,
			District: req.District,
			Upazilla: req.Upazilla,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSetUserStatus(w http.ResponseWriter, r *http.Request, caller domain.User, id string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	if caller.Role != domain.RoleAdmin {
		s.audit(r, "gate.authorize", "fail", "email", caller.Email, "reason", "not_admin")
		writeError(w, http.StatusUnauthorized, "unauthorized access")
		return
	}
	var req statusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status := domain.UserStatus(req.Status)
	switch status {
	case domain.StatusNone, domain.StatusRequested, domain.StatusActive, domain.StatusBlocked:
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	if err := s.app.SetUserStatus(id, status); err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "user.status", "success", "actor", caller.Email, "user_id", id, "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSetUserRole(w http.ResponseWriter, r *http.Request, caller domain.User, id string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	if caller.Role != domain.RoleAdmin {
		s.audit(r, "gate.authorize", "fail", "email", caller.Email, "reason", "not_admin")
		writeError(w, http.StatusUnauthorized, "unauthorized access")
		return
	}
	var req roleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	role := domain.UserRole(req.Role)
	if role != domain.RoleUser && role != domain.RoleAdmin {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	if err := s.app.SetUserRole(id, role); err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "user.role", "success", "actor", caller.Email, "user_id", id, "role", req.Role)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type profileRequest struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Blood    string `json:"blood"`
	District string `json:"district"`
	Upazilla string `json:"upazilla"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type roleRequest struct {
	Role string `json:"role"`
}
