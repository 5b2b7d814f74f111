package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appUser "github.com/execution-hub/commission-hub/internal/application/user"
	"github.com/execution-hub/commission-hub/internal/domain/audit"
	"github.com/execution-hub/commission-hub/internal/domain/catalog"
	domainUser "github.com/execution-hub/commission-hub/internal/domain/user"
)

type serviceCreateRequest struct {
	ManagerID uuid.UUID `json:"manager_id"`
	Name      string    `json:"name"`
}

type orderCreateRequest struct {
	ServiceID uuid.UUID       `json:"service_id"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency,omitempty"`
}

type computeRequest struct {
	OrderTotal decimal.Decimal `json:"order_total"`
	Percentage decimal.Decimal `json:"percentage"`
}

func (s *Server) createService(w http.ResponseWriter, r *http.Request) {
	var req serviceCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "name required")
		return
	}
	manager, err := s.userSvc.GetUser(r.Context(), req.ManagerID)
	if err != nil {
		if errors.Is(err, appUser.ErrNotFound) {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "manager not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if manager.Role != domainUser.RoleManager {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "manager_id must reference a manager")
		return
	}

	now := time.Now().UTC()
	svc := &catalog.Service{
		ServiceID: uuid.New(),
		ManagerID: manager.UserID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.services.Create(r.Context(), svc); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	auth := authUserFromContext(r.Context())
	newValues, _ := json.Marshal(map[string]interface{}{
		"managerId": svc.ManagerID.String(),
		"name":      svc.Name,
	})
	s.auditSvc.Log(r.Context(), &audit.AuditEntry{
		EntityType: audit.EntityTypeService,
		EntityID:   svc.ServiceID.String(),
		Action:     audit.ActionCreate,
		Actor:      auth.ActorString(),
		ActorRoles: []string{string(auth.Role)},
		NewValues:  newValues,
	})
	respondJSON(w, http.StatusCreated, svc)
}

func (s *Server) getService(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "serviceId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid serviceId")
		return
	}
	svc, err := s.services.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if svc == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "service not found")
		return
	}
	auth := authUserFromContext(r.Context())
	if auth.Role != domainUser.RoleAdmin && svc.ManagerID != auth.UserID {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role")
		return
	}
	respondJSON(w, http.StatusOK, svc)
}

func (s *Server) effectivePercentage(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "serviceId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid serviceId")
		return
	}
	res, err := s.negotiationSvc.ResolveEffective(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) computeSettlement(w http.ResponseWriter, r *http.Request) {
	var req computeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	res, err := s.negotiationSvc.ComputeSettlement(req.OrderTotal, req.Percentage)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orderCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Total.IsNegative() {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "total must not be negative")
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "currency must be a 3-letter code")
		return
	}
	svc, err := s.services.GetByID(r.Context(), req.ServiceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if svc == nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "service not found")
		return
	}
	order := &catalog.Order{
		OrderID:   uuid.New(),
		ServiceID: svc.ServiceID,
		Total:     req.Total,
		Currency:  currency,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.orders.Create(r.Context(), order); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (s *Server) settleOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "orderId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid orderId")
		return
	}
	auth := authUserFromContext(r.Context())
	out, err := s.negotiationSvc.SettleOrder(r.Context(), auth.Actor(), id)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}
