package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"quotaguard/internal/ratelimit/models"
	id "quotaguard/pkg/domain"
	dErrors "quotaguard/pkg/domain-errors"
	"quotaguard/pkg/platform/httputil"
	"quotaguard/pkg/platform/sentinel"
	"quotaguard/pkg/requestcontext"
)

// Service defines the quota operations exposed over HTTP.
type Service interface {
	Remaining(ctx context.Context, req *models.Request, entity models.Entity) (*models.QuotaStatus, error)
	Stats(ctx context.Context, kind models.EntityKind, entityID string, lookbackDays int) (*models.QuotaStats, error)
	ResetRateLimit(ctx context.Context, req *models.ResetRateLimitRequest) error
	ForgetActor(ctx context.Context, actor id.UserID) (int, error)
}

// EntityLookup loads the entity a quota applies to. Unknown entities are
// reported with sentinel.ErrNotFound.
type EntityLookup interface {
	Lookup(ctx context.Context, kind models.EntityKind, entityID string) (models.Entity, error)
}

// Owned is implemented by entities that have an owning account. Only the
// owner may read an owned entity's analytics.
type Owned interface {
	OwnerID() id.UserID
}

// Handler serves quota lookups, owner analytics and operator resets.
type Handler struct {
	quotas   Service
	entities EntityLookup
	logger   *slog.Logger
}

func New(quotas Service, entities EntityLookup, logger *slog.Logger) *Handler {
	return &Handler{
		quotas:   quotas,
		entities: entities,
		logger:   logger,
	}
}

// Register mounts the public quota lookup.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/{kind}/{id}/quota", h.HandleRemaining)
}

// RegisterOwner mounts the analytics route. Callers must wrap r with
// authentication.
func (h *Handler) RegisterOwner(r chi.Router) {
	r.Get("/v1/{kind}/{id}/quota/stats", h.HandleStats)
}

// RegisterAdmin mounts operator routes. Callers must wrap r with the admin
// token middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Delete("/admin/rate-limit/{scope}/{identity}", h.HandleResetRateLimit)
	r.Delete("/admin/actors/{userID}/views", h.HandleForgetActor)
}

// HandleRemaining reports the caller's remaining daily views of an entity
// without consuming one.
func (h *Handler) HandleRemaining(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entity, err := h.lookup(r)
	if err != nil {
		h.writeError(ctx, w, err, "failed to load entity")
		return
	}

	status, err := h.quotas.Remaining(ctx, models.RequestFromHTTP(r), entity)
	if err != nil {
		h.writeError(ctx, w, err, "failed to read quota")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &models.QuotaResponse{
		EntityKind:     entity.EntityKind(),
		EntityID:       entity.EntityID(),
		Unlimited:      status.Unlimited,
		QuotaLevel:     status.Level,
		QuotaLimit:     status.Limit,
		QuotaUsed:      status.Used,
		QuotaRemaining: status.Remaining,
		QuotaReset:     status.ResetAt,
	})
}

// HandleStats returns per-day view counts for the caller's own entity.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query, err := models.ParseStatsQuery(r.URL.Query().Get("days"))
	if err != nil {
		h.writeError(ctx, w, err, "invalid stats query")
		return
	}

	entity, err := h.lookup(r)
	if err != nil {
		h.writeError(ctx, w, err, "failed to load entity")
		return
	}
	if owned, ok := entity.(Owned); ok && owned.OwnerID() != requestcontext.UserID(ctx) {
		h.writeError(ctx, w, dErrors.New(dErrors.CodeForbidden, "only the owner can view analytics"), "stats access denied")
		return
	}

	stats, err := h.quotas.Stats(ctx, entity.EntityKind(), entity.EntityID(), query.Days)
	if err != nil {
		h.writeError(ctx, w, err, "failed to read stats")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// HandleResetRateLimit clears one rate window. The identity is a client
// address by default; ?kind=user addresses an account's window.
func (h *Handler) HandleResetRateLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := models.KeyKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = models.KeyKindClient
	}
	req := &models.ResetRateLimitRequest{
		Scope:    models.ScopeName(chi.URLParam(r, "scope")),
		Kind:     kind,
		Identity: chi.URLParam(r, "identity"),
	}

	if err := h.quotas.ResetRateLimit(ctx, req); err != nil {
		h.writeError(ctx, w, err, "failed to reset rate limit")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleForgetActor unlinks a deleted account from its recorded views. The
// views remain and count as anonymous.
func (h *Handler) HandleForgetActor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(ctx, w, err, "invalid actor id")
		return
	}

	n, err := h.quotas.ForgetActor(ctx, actor)
	if err != nil {
		h.writeError(ctx, w, err, "failed to detach actor")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"detached": n})
}

func (h *Handler) lookup(r *http.Request) (models.Entity, error) {
	kind, err := parseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return nil, err
	}
	entityID := strings.TrimSpace(chi.URLParam(r, "id"))
	if entityID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "entity id is required")
	}

	entity, err := h.entities.Lookup(r.Context(), kind, entityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "entity not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entity")
	}
	return entity, nil
}

// parseKind accepts the path segment in singular or plural form.
func parseKind(raw string) (models.EntityKind, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	return models.ParseEntityKind(strings.TrimSuffix(raw, "s"))
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	args := []any{"error", err, "request_id", requestcontext.RequestID(ctx)}
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, args...)
	} else {
		h.logger.WarnContext(ctx, msg, args...)
	}
	httputil.WriteError(w, err)
}
