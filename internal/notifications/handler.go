package notifications

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bissquit/market-courier/internal/domain"
	"github.com/bissquit/market-courier/internal/pkg/ctxlog"
	"github.com/bissquit/market-courier/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrUnknownKind, Status: http.StatusBadRequest, Message: "unknown notification kind"},
	{Error: ErrInvalidPriority, Status: http.StatusBadRequest, Message: "invalid priority"},
	{Error: ErrMissingEntity, Status: http.StatusBadRequest, Message: "payload is missing the entity id"},
	{Error: ErrItemNotFound, Status: http.StatusNotFound, Message: "queue item not found"},
	{Error: ErrEntityNotFound, Status: http.StatusNotFound, Message: "entity not found"},
}

// Handler handles HTTP requests for the notifications module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterProducerRoutes registers the enqueue endpoint (requires auth).
func (h *Handler) RegisterProducerRoutes(r chi.Router) {
	r.Post("/notifications", h.Enqueue)
}

// RegisterServiceRoutes registers queue inspection endpoints (requires service role).
func (h *Handler) RegisterServiceRoutes(r chi.Router) {
	r.Get("/notifications", h.ListItems)
	r.Get("/notifications/stats", h.Stats)
	r.Get("/notifications/{id}", h.GetItem)
}

// RegisterDeliveryRoutes registers the signed webhook endpoint.
func (h *Handler) RegisterDeliveryRoutes(r chi.Router) {
	r.Post("/deliveries", h.Deliver)
}

// EnqueueRequest represents request body for enqueueing a notification.
type EnqueueRequest struct {
	Kind     string         `json:"kind" validate:"required"`
	Payload  map[string]any `json:"payload" validate:"required"`
	Priority string         `json:"priority" validate:"omitempty,oneof=high normal low"`
}

func (req EnqueueRequest) input() EnqueueInput {
	return EnqueueInput{
		Kind:     Kind(req.Kind),
		Payload:  Payload(req.Payload),
		Priority: Priority(req.Priority),
	}
}

// DeliveryResponse is returned by the webhook endpoint.
type DeliveryResponse struct {
	Accepted  bool   `json:"accepted"`
	ItemID    string `json:"item_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Enqueue handles POST /notifications.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	kind := Kind(req.Kind)
	if kind.Privileged() && !httputil.GetRole(r.Context()).HasPermission(domain.RoleService) {
		httputil.Error(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	result, err := h.service.Enqueue(r.Context(), req.input())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, result)
}

// Deliver handles POST /deliveries.
// The signature is verified by middleware; every request that reaches the
// handler with a well-formed body is answered 200 so the sender does not retry
// rejected requests.
func (h *Handler) Deliver(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.service.Enqueue(r.Context(), req.input())
	switch {
	case err == nil:
		httputil.Success(w, http.StatusOK, DeliveryResponse{
			Accepted:  true,
			ItemID:    result.ItemID,
			Duplicate: result.Duplicate,
		})
	case isRejection(err):
		ctxlog.FromContext(r.Context()).Warn("delivery rejected", "kind", req.Kind, "error", err)
		httputil.Success(w, http.StatusOK, DeliveryResponse{Accepted: false, Reason: err.Error()})
	default:
		httputil.HandleError(r.Context(), w, err, errorMappings)
	}
}

func isRejection(err error) bool {
	return errors.Is(err, ErrUnknownKind) ||
		errors.Is(err, ErrInvalidPriority) ||
		errors.Is(err, ErrMissingEntity) ||
		errors.Is(err, ErrEntityNotFound)
}

// GetItem handles GET /notifications/{id}.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, item)
}

// ListItems handles GET /notifications.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	status := QueueStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "invalid status")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	items, err := h.service.ListItems(r.Context(), status, limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, items)
}

// Stats handles GET /notifications/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	err := httputil.DecodeJSON(w, r, v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httputil.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	httputil.Error(w, http.StatusBadRequest, "invalid request body")
	return false
}
