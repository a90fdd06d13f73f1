package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tmalatji/marketplace-settlement/internal/dispatch"
	"github.com/tmalatji/marketplace-settlement/internal/ledger/application"
	"github.com/tmalatji/marketplace-settlement/internal/ledger/domain"
	"github.com/tmalatji/marketplace-settlement/internal/split"
)

// Settler is the slice of the ledger service the management API uses.
type Settler interface {
	InitiateRefund(ctx context.Context, orderID string) (application.ApplyResult, error)
	InitiatePayout(ctx context.Context, storeID string, amountCents int64) (domain.Transaction, error)
}

type Fanout interface {
	Fanout(ctx context.Context, event domain.Event) []dispatch.DeliveryResult
}

// Handler serves the non-webhook surface: checkout preview, subscription
// management, refunds and payouts.
type Handler struct {
	log      *slog.Logger
	calc     split.Calculator
	registry *dispatch.Registry
	settler  Settler
	fanout   Fanout
}

func NewHandler(log *slog.Logger, calc split.Calculator, registry *dispatch.Registry, settler Settler, fanout Fanout) *Handler {
	return &Handler{log: log, calc: calc, registry: registry, settler: settler, fanout: fanout}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)
	r.Post("/checkout/preview", h.previewSplit)
	r.Get("/subscriptions", h.listSubscriptions)
	r.Post("/subscriptions", h.addSubscription)
	r.Delete("/subscriptions", h.removeSubscription)
	r.Post("/orders/{id}/refund", h.refundOrder)
	r.Post("/stores/{id}/payouts", h.initiatePayout)
	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type previewReq struct {
	Lines            []split.Line `json:"lines"`
	ShippingFeeCents int64        `json:"shipping_fee_cents"`
}

// previewSplit exposes the pure calculator for checkout display. No
// persistence, no provider calls.
func (h *Handler) previewSplit(w http.ResponseWriter, r *http.Request) {
	var req previewReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.calc.CalculateOrderSplit(req.Lines, req.ShippingFeeCents))
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Snapshot())
}

func (h *Handler) addSubscription(w http.ResponseWriter, r *http.Request) {
	var sub dispatch.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if sub.URL == "" || len(sub.EventTypes) == 0 {
		http.Error(w, "url and event_types are required", http.StatusBadRequest)
		return
	}
	h.registry.Add(sub)
	h.log.Info("subscription added", "url", sub.URL, "event_types", sub.EventTypes)
	writeJSON(w, http.StatusCreated, sub)
}

type removeSubscriptionReq struct {
	URL string `json:"url"`
}

func (h *Handler) removeSubscription(w http.ResponseWriter, r *http.Request) {
	var req removeSubscriptionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if !h.registry.Remove(req.URL) {
		http.Error(w, "subscription not found", http.StatusNotFound)
		return
	}
	h.log.Info("subscription removed", "url", req.URL)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) refundOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	result, err := h.settler.InitiateRefund(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, application.ErrOrderNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		case errors.Is(err, application.ErrInvalidTransition):
			http.Error(w, "order is not refundable", http.StatusConflict)
		default:
			h.log.Error("refund failed", "order_id", orderID, "err", err)
			http.Error(w, "refund failed", http.StatusInternalServerError)
		}
		return
	}

	if result.Event != nil {
		go h.fanout.Fanout(context.WithoutCancel(r.Context()), *result.Event)
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": string(result.Outcome)})
}

type payoutReq struct {
	AmountCents int64 `json:"amount_cents"`
}

func (h *Handler) initiatePayout(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "id")

	var req payoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	t, err := h.settler.InitiatePayout(r.Context(), storeID, req.AmountCents)
	if err != nil {
		switch {
		case errors.Is(err, application.ErrStoreNotFound):
			http.Error(w, "store not found", http.StatusNotFound)
		case errors.Is(err, application.ErrInsufficientBalance):
			http.Error(w, "insufficient balance", http.StatusUnprocessableEntity)
		default:
			h.log.Error("payout failed", "store_id", storeID, "err", err)
			http.Error(w, "payout failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"store_id":  storeID,
		"reference": t.ProviderReference,
		"status":    string(t.Status),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
