package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tmalatji/marketplace-settlement/internal/dispatch"
	"github.com/tmalatji/marketplace-settlement/internal/ledger/application"
	"github.com/tmalatji/marketplace-settlement/internal/ledger/domain"
	"github.com/tmalatji/marketplace-settlement/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Ledger is the slice of the settlement service the intake needs.
type Ledger interface {
	ApplyPaymentSuccess(ctx context.Context, orderID, providerTxnID, providerRef string, amountPaidCents int64) (application.ApplyResult, error)
	ApplyPaymentFailure(ctx context.Context, orderID, reason string) (application.ApplyResult, error)
	ApplyTransferOutcome(ctx context.Context, succeeded bool, payoutRef, storeID string, amountCents int64, reason string) (application.ApplyResult, error)
}

// Fanout delivers a business event to the automation subscribers.
type Fanout interface {
	Fanout(ctx context.Context, event domain.Event) []dispatch.DeliveryResult
}

// Deduper is the advisory fast-path marker on provider references.
type Deduper interface {
	Key(provider, reference string) string
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type Handler struct {
	log    *slog.Logger
	secret string
	router *Router
	ledger Ledger
	fanout Fanout
	dedup  Deduper
	tracer trace.Tracer
}

func NewHandler(log *slog.Logger, secret string, ledger Ledger, fanout Fanout, dedup Deduper) *Handler {
	return &Handler{
		log:    log,
		secret: secret,
		router: NewRouter(log),
		ledger: ledger,
		fanout: fanout,
		dedup:  dedup,
		tracer: otel.Tracer("webhook-intake"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/webhooks/paystack", h.handleWebhook)
	return r
}

// handleWebhook runs the intake pipeline: verify, parse, route, apply,
// fan out, respond. The response is committed before fan-out starts so a
// slow subscriber can never look like an intake failure to the provider.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.WebhookProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, span := h.tracer.Start(r.Context(), "HandleWebhook")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		metrics.WebhookRejectedTotal.WithLabelValues("body_read").Inc()
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if !VerifySignature(body, r.Header.Get("x-paystack-signature"), h.secret) {
		metrics.WebhookRejectedTotal.WithLabelValues("signature").Inc()
		h.log.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	routed, err := h.router.Route(body)
	if err != nil {
		metrics.WebhookRejectedTotal.WithLabelValues("malformed").Inc()
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if un, ok := routed.(Unhandled); ok {
		metrics.WebhookEventsTotal.WithLabelValues(un.EventType).Inc()
		respond(w, map[string]string{"status": "ignored"})
		return
	}

	if h.fastPathSeen(ctx, routed) {
		respond(w, map[string]string{"status": "duplicate"})
		return
	}

	result, opName, err := h.apply(ctx, routed)
	if err != nil {
		// No partial state was committed; the provider's retry is the
		// recovery path.
		metrics.LedgerFailuresTotal.Inc()
		h.log.Error("ledger application failed", "operation", opName, "err", err)
		http.Error(w, "processing error", http.StatusInternalServerError)
		return
	}
	metrics.LedgerApplicationsTotal.WithLabelValues(opName, string(result.Outcome)).Inc()

	if key := h.dedupKey(routed); key != "" && h.dedup != nil {
		if err := h.dedup.Mark(ctx, key); err != nil {
			h.log.Warn("dedup mark failed", "key", key, "err", err)
		}
	}

	if result.Event != nil {
		// Detached from the request: the provider's timeout must not cancel
		// a half-done fan-out.
		go h.fanout.Fanout(context.WithoutCancel(ctx), *result.Event)
	}

	respond(w, map[string]string{"status": string(result.Outcome)})
}

func (h *Handler) apply(ctx context.Context, routed RoutedEvent) (application.ApplyResult, string, error) {
	switch ev := routed.(type) {
	case PaymentSuccess:
		metrics.WebhookEventsTotal.WithLabelValues("charge.success").Inc()
		res, err := h.ledger.ApplyPaymentSuccess(ctx, ev.OrderID, ev.ProviderTxnID, ev.Reference, ev.AmountCents)
		return res, "payment_success", err
	case PaymentFailure:
		metrics.WebhookEventsTotal.WithLabelValues("charge.failed").Inc()
		res, err := h.ledger.ApplyPaymentFailure(ctx, ev.OrderID, ev.Reason)
		return res, "payment_failure", err
	case TransferSuccess:
		metrics.WebhookEventsTotal.WithLabelValues("transfer.success").Inc()
		res, err := h.ledger.ApplyTransferOutcome(ctx, true, ev.Reference, ev.StoreID, ev.AmountCents, "")
		return res, "transfer_success", err
	case TransferFailure:
		metrics.WebhookEventsTotal.WithLabelValues("transfer.failed").Inc()
		res, err := h.ledger.ApplyTransferOutcome(ctx, false, ev.Reference, ev.StoreID, ev.AmountCents, ev.Reason)
		return res, "transfer_failure", err
	default:
		return application.ApplyResult{}, "", errors.New("unroutable event")
	}
}

func (h *Handler) dedupKey(routed RoutedEvent) string {
	if h.dedup == nil {
		return ""
	}
	switch ev := routed.(type) {
	case PaymentSuccess:
		return h.dedup.Key("charge", ev.Reference)
	case PaymentFailure:
		return h.dedup.Key("charge", ev.Reference)
	case TransferSuccess:
		return h.dedup.Key("transfer", ev.Reference)
	case TransferFailure:
		return h.dedup.Key("transfer", ev.Reference)
	}
	return ""
}

func (h *Handler) fastPathSeen(ctx context.Context, routed RoutedEvent) bool {
	key := h.dedupKey(routed)
	if key == "" {
		return false
	}
	seen, err := h.dedup.Seen(ctx, key)
	if err != nil {
		// Advisory only; the ledger's own check still holds.
		h.log.Warn("dedup check failed", "key", key, "err", err)
		return false
	}
	if seen {
		h.log.Info("duplicate event suppressed at intake", "key", key)
	}
	return seen
}

func respond(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
