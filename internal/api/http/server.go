package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appAudit "github.com/execution-hub/commission-hub/internal/application/audit"
	appAuth "github.com/execution-hub/commission-hub/internal/application/auth"
	appNegotiation "github.com/execution-hub/commission-hub/internal/application/negotiation"
	appUser "github.com/execution-hub/commission-hub/internal/application/user"
	"github.com/execution-hub/commission-hub/internal/domain/catalog"
	"github.com/execution-hub/commission-hub/internal/domain/negotiation"
	domainUser "github.com/execution-hub/commission-hub/internal/domain/user"
	"github.com/execution-hub/commission-hub/internal/infrastructure/sse"
)

// Options configures the HTTP server.
type Options struct {
	SessionCookieName   string
	SessionCookieSecure bool
	DefaultPageLimit    int
	MaxPageLimit        int
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	negotiationSvc *appNegotiation.Service
	auditSvc       *appAudit.Service
	authSvc        *appAuth.Service
	userSvc        *appUser.Service
	services       catalog.ServiceRepository
	orders         catalog.OrderRepository
	sseHub         *sse.Hub
	opts           Options
	logger         zerolog.Logger
}

func NewServer(
	negotiationSvc *appNegotiation.Service,
	auditSvc *appAudit.Service,
	authSvc *appAuth.Service,
	userSvc *appUser.Service,
	services catalog.ServiceRepository,
	orders catalog.OrderRepository,
	sseHub *sse.Hub,
	opts Options,
	logger zerolog.Logger,
) *Server {
	if opts.DefaultPageLimit <= 0 {
		opts.DefaultPageLimit = 50
	}
	if opts.MaxPageLimit <= 0 {
		opts.MaxPageLimit = 200
	}
	return &Server{
		negotiationSvc: negotiationSvc,
		auditSvc:       auditSvc,
		authSvc:        authSvc,
		userSvc:        userSvc,
		services:       services,
		orders:         orders,
		sseHub:         sseHub,
		opts:           opts,
		logger:         logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	admin := s.requireRole(string(domainUser.RoleAdmin))
	manager := s.requireRole(string(domainUser.RoleManager))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.login)
			r.Post("/bootstrap", s.bootstrapAdmin)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Post("/logout", s.logout)
				r.Get("/me", s.me)
			})
		})

		// Long-lived stream; kept outside the request timeout.
		r.With(s.requireAuth).Get("/notices/sse", s.sseEndpoint)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/users", func(r chi.Router) {
				r.With(admin).Post("/", s.createUser)
				r.With(admin).Get("/", s.listUsers)
				r.Get("/{userId}", s.getUser)
				r.With(admin).Patch("/{userId}", s.updateUser)
			})

			r.Route("/negotiations", func(r chi.Router) {
				r.With(manager).Post("/", s.createOffer)
				r.Get("/", s.listNegotiations)
				r.Get("/{negotiationId}", s.getNegotiation)
				r.With(manager).Put("/{negotiationId}/offer", s.updateOffer)
				r.With(admin).Post("/{negotiationId}/admin-response", s.adminRespond)
				r.With(manager).Post("/{negotiationId}/manager-response", s.managerRespond)
				r.With(admin).Post("/{negotiationId}/deactivate", s.deactivateNegotiation)
			})

			r.Route("/services", func(r chi.Router) {
				r.With(admin).Post("/", s.createService)
				r.Get("/{serviceId}", s.getService)
				r.Get("/{serviceId}/effective-percentage", s.effectivePercentage)
			})

			r.With(admin).Post("/orders", s.createOrder)
			r.Post("/orders/{orderId}/settlement", s.settleOrder)
			r.Post("/settlements/compute", s.computeSettlement)

			r.Get("/notices", s.listNotices)

			r.Route("/admin", func(r chi.Router) {
				r.Use(admin)
				r.Get("/audit", s.queryAudit)
				r.Get("/audit/{auditId}", s.getAudit)
				r.Get("/audit/{auditId}/verify", s.verifyAudit)
				r.Get("/audit/entities/{entityType}/{entityId}", s.entityAuditHistory)
				r.Get("/audit/managers/{managerId}", s.managerAuditHistory)
			})
		})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondDomainError maps negotiation errors onto the error envelope.
func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, negotiation.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, negotiation.ErrForbidden):
		respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, negotiation.ErrConflictingOffer):
		respondError(w, http.StatusConflict, "CONFLICTING_OFFER", err.Error())
	case errors.Is(err, negotiation.ErrStaleState):
		respondError(w, http.StatusConflict, "STALE_STATE", err.Error())
	case errors.Is(err, negotiation.ErrAlreadyFinalized):
		respondError(w, http.StatusConflict, "ALREADY_FINALIZED", err.Error())
	case errors.Is(err, negotiation.ErrNoCounterToRespondTo):
		respondError(w, http.StatusConflict, "NO_COUNTER_TO_RESPOND_TO", err.Error())
	case errors.Is(err, negotiation.ErrInvalidPercentage):
		respondError(w, http.StatusBadRequest, "INVALID_PERCENTAGE", err.Error())
	case errors.Is(err, negotiation.ErrInvalidAction):
		respondError(w, http.StatusBadRequest, "INVALID_ACTION", err.Error())
	case errors.Is(err, negotiation.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	default:
		s.logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("request failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseOptionalUUID(r *http.Request, key string) (*uuid.UUID, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *Server) parseLimitOffset(r *http.Request) (int, int) {
	limit := s.opts.DefaultPageLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = s.opts.DefaultPageLimit
	}
	if limit > s.opts.MaxPageLimit {
		limit = s.opts.MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := []string{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
