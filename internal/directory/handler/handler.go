package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"quotaguard/internal/directory/models"
	"quotaguard/internal/ratelimit/middleware"
	ratelimitmodels "quotaguard/internal/ratelimit/models"
	dErrors "quotaguard/pkg/domain-errors"
	"quotaguard/pkg/platform/httputil"
	"quotaguard/pkg/platform/sentinel"
	"quotaguard/pkg/requestcontext"
)

// Store defines the directory reads the handler needs.
type Store interface {
	FindDoctor(ctx context.Context, doctorID string) (*models.Doctor, error)
	FindHospital(ctx context.Context, hospitalID string) (*models.Hospital, error)
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
}

// Enforcer applies an entity's daily view quota to a request.
type Enforcer interface {
	EnforceEntityView(ctx context.Context, req *ratelimitmodels.Request, entity ratelimitmodels.Entity) (*ratelimitmodels.QuotaResult, error)
}

// Handler serves the public directory. Every profile view is charged to the
// entity's daily quota before the profile is returned.
type Handler struct {
	store    Store
	enforcer Enforcer
	logger   *slog.Logger
}

func New(store Store, enforcer Enforcer, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		enforcer: enforcer,
		logger:   logger,
	}
}

// Register mounts the directory routes. searchMiddleware wraps only the
// search route, typically with the search rate-limit scope.
func (h *Handler) Register(r chi.Router, searchMiddleware ...func(http.Handler) http.Handler) {
	r.Get("/v1/doctors/{id}", h.HandleGetDoctor)
	r.Get("/v1/hospitals/{id}", h.HandleGetHospital)
	r.With(searchMiddleware...).Get("/v1/search", h.HandleSearch)
}

func (h *Handler) HandleGetDoctor(w http.ResponseWriter, r *http.Request) {
	doctor, err := h.store.FindDoctor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	if !h.enforce(w, r, doctor) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doctor)
}

func (h *Handler) HandleGetHospital(w http.ResponseWriter, r *http.Request) {
	hospital, err := h.store.FindHospital(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	if !h.enforce(w, r, hospital) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, hospital)
}

// HandleSearch lists matching profiles. Search hits do not count as views.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "q is required"))
		return
	}
	if len(query) > 100 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "q must be 100 characters or less"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	results, err := h.store.Search(ctx, query, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "directory search failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "search failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}

// enforce charges the view and writes the denial when there is one. It
// reports whether the caller may see the profile. Backing-store failures
// fail closed.
func (h *Handler) enforce(w http.ResponseWriter, r *http.Request, entity ratelimitmodels.Entity) bool {
	ctx := r.Context()
	result, err := h.enforcer.EnforceEntityView(ctx, ratelimitmodels.RequestFromHTTP(r), entity)
	if result != nil && !result.Unlimited {
		w.Header().Set("X-Quota-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-Quota-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-Quota-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	}
	if err == nil {
		return true
	}

	if te, ok := ratelimitmodels.AsThrottle(err); ok {
		middleware.WriteThrottled(w, te)
		return false
	}
	h.logger.ErrorContext(ctx, "quota check failed",
		"error", err,
		"entity_kind", string(entity.EntityKind()),
		"entity_id", entity.EntityID(),
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteError(w, err)
	return false
}

func (h *Handler) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, sentinel.ErrNotFound) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "profile not found"))
		return
	}
	ctx := r.Context()
	h.logger.ErrorContext(ctx, "directory lookup failed",
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "lookup failed"))
}
