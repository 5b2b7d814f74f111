package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appNegotiation "github.com/execution-hub/commission-hub/internal/application/negotiation"
	"github.com/execution-hub/commission-hub/internal/domain/negotiation"
)

type createOfferRequest struct {
	ServiceID     *uuid.UUID       `json:"service_id,omitempty"`
	Percentage    decimal.Decimal  `json:"percentage"`
	Notes         *string          `json:"notes,omitempty"`
	ValidUntil    *time.Time       `json:"valid_until,omitempty"`
	MinOrderValue *decimal.Decimal `json:"min_order_value,omitempty"`
	MaxOrderValue *decimal.Decimal `json:"max_order_value,omitempty"`
	Condition     *string          `json:"condition,omitempty"`
}

type updateOfferRequest struct {
	Percentage decimal.Decimal `json:"percentage"`
	Notes      *string         `json:"notes,omitempty"`
}

type adminResponseRequest struct {
	Action            string           `json:"action"`
	CounterPercentage *decimal.Decimal `json:"counter_percentage,omitempty"`
	Notes             *string          `json:"notes,omitempty"`
	ValidUntil        *time.Time       `json:"valid_until,omitempty"`
}

type managerResponseRequest struct {
	Action            string           `json:"action"`
	CounterPercentage *decimal.Decimal `json:"counter_percentage,omitempty"`
	Notes             *string          `json:"notes,omitempty"`
}

type deactivateRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) createOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	auth := authUserFromContext(r.Context())
	n, err := s.negotiationSvc.CreateOffer(r.Context(), auth.Actor(), appNegotiation.CreateOfferInput{
		ServiceID:     req.ServiceID,
		Percentage:    req.Percentage,
		Notes:         req.Notes,
		ValidUntil:    req.ValidUntil,
		MinOrderValue: req.MinOrderValue,
		MaxOrderValue: req.MaxOrderValue,
		Condition:     req.Condition,
	})
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

func (s *Server) listNegotiations(w http.ResponseWriter, r *http.Request) {
	limit, offset := s.parseLimitOffset(r)
	filter := appNegotiation.ListFilter{}
	managerID, err := parseOptionalUUID(r, "manager_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid manager_id")
		return
	}
	filter.ManagerID = managerID
	serviceID, err := parseOptionalUUID(r, "service_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid service_id")
		return
	}
	filter.ServiceID = serviceID
	if v := r.URL.Query().Get("global"); v != "" {
		global, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid global")
			return
		}
		filter.GlobalOnly = global
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st, err := negotiation.ParseStatus(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		filter.Status = &st
	}
	if v := r.URL.Query().Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid is_active")
			return
		}
		filter.IsActive = &active
	}

	auth := authUserFromContext(r.Context())
	items, err := s.negotiationSvc.List(r.Context(), auth.Actor(), filter, limit, offset)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"negotiations": items,
		"limit":        limit,
		"offset":       offset,
	})
}

func (s *Server) getNegotiation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiationId")
		return
	}
	auth := authUserFromContext(r.Context())
	n, err := s.negotiationSvc.Get(r.Context(), auth.Actor(), id)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) updateOffer(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiationId")
		return
	}
	var req updateOfferRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	auth := authUserFromContext(r.Context())
	n, err := s.negotiationSvc.UpdateOffer(r.Context(), auth.Actor(), id, req.Percentage, req.Notes)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) adminRespond(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiationId")
		return
	}
	var req adminResponseRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	auth := authUserFromContext(r.Context())
	n, err := s.negotiationSvc.AdminRespond(r.Context(), auth.Actor(), id, appNegotiation.AdminRespondInput{
		Action:            req.Action,
		CounterPercentage: req.CounterPercentage,
		Notes:             req.Notes,
		ValidUntil:        req.ValidUntil,
	})
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) managerRespond(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiationId")
		return
	}
	var req managerResponseRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	auth := authUserFromContext(r.Context())
	n, err := s.negotiationSvc.ManagerRespond(r.Context(), auth.Actor(), id, appNegotiation.ManagerRespondInput{
		Action:            req.Action,
		CounterPercentage: req.CounterPercentage,
		Notes:             req.Notes,
	})
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) deactivateNegotiation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiationId")
		return
	}
	var req deactivateRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
	}
	auth := authUserFromContext(r.Context())
	n, err := s.negotiationSvc.Deactivate(r.Context(), auth.Actor(), id, req.Reason)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}
