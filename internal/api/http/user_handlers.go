package httpapi

import (
	"errors"
	"net/http"
	"strings"

	appUser "github.com/execution-hub/commission-hub/internal/application/user"
	domainUser "github.com/execution-hub/commission-hub/internal/domain/user"
)

type userCreateRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Password    string `json:"password"`
	Role        string `json:"role"`
}

type userUpdateRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Role        *string `json:"role,omitempty"`
	Status      *string `json:"status,omitempty"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	role, err := parseRole(req.Role)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	auth := authUserFromContext(r.Context())
	u, err := s.userSvc.CreateUser(r.Context(), appUser.CreateInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Role:        role,
		Status:      domainUser.StatusActive,
	}, auth.ActorString())
	if err != nil {
		if errors.Is(err, appUser.ErrUsernameTaken) {
			respondError(w, http.StatusConflict, "CONFLICT", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := s.parseLimitOffset(r)
	filter := domainUser.Filter{}
	if v := r.URL.Query().Get("role"); v != "" {
		role, err := parseRole(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		filter.Role = &role
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := domainUser.Status(strings.ToUpper(v))
		filter.Status = &st
	}
	if v := r.URL.Query().Get("username"); v != "" {
		filter.Username = &v
	}
	users, err := s.userSvc.ListUsers(r.Context(), filter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "userId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid userId")
		return
	}
	auth := authUserFromContext(r.Context())
	if auth.Role != domainUser.RoleAdmin && auth.UserID != id {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role")
		return
	}
	u, err := s.userSvc.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, appUser.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "userId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid userId")
		return
	}
	var req userUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	var role *domainUser.Role
	if req.Role != nil {
		parsed, err := parseRole(*req.Role)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		role = &parsed
	}
	var status *domainUser.Status
	if req.Status != nil {
		st := domainUser.Status(strings.ToUpper(*req.Status))
		if err := domainUser.ValidateStatus(st); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		status = &st
	}
	auth := authUserFromContext(r.Context())
	u, err := s.userSvc.UpdateUser(r.Context(), id, appUser.UpdateInput{
		DisplayName: req.DisplayName,
		Role:        role,
		Status:      status,
	}, auth.ActorString())
	if err != nil {
		if errors.Is(err, appUser.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
			return
		}
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func parseRole(role string) (domainUser.Role, error) {
	r := domainUser.Role(strings.ToUpper(role))
	if err := domainUser.ValidateRole(r); err != nil {
		return "", err
	}
	return r, nil
}
