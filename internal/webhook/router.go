package webhook

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
)

var ErrMalformedPayload = errors.New("malformed payload")

// RoutedEvent is the closed set of outcomes the router produces. The
// intake handler switches over it exhaustively; free-form provider fields
// never travel past this point.
type RoutedEvent interface {
	isRoutedEvent()
}

type PaymentSuccess struct {
	OrderID       string
	ProviderTxnID string
	Reference     string
	AmountCents   int64
}

type PaymentFailure struct {
	OrderID   string
	Reference string
	Reason    string
}

type TransferSuccess struct {
	Reference   string
	StoreID     string
	AmountCents int64
}

type TransferFailure struct {
	Reference   string
	StoreID     string
	AmountCents int64
	Reason      string
}

type Unhandled struct {
	EventType string
}

func (PaymentSuccess) isRoutedEvent()  {}
func (PaymentFailure) isRoutedEvent()  {}
func (TransferSuccess) isRoutedEvent() {}
func (TransferFailure) isRoutedEvent() {}
func (Unhandled) isRoutedEvent()       {}

// Provider envelope. Amounts arrive in the currency's smallest unit.
type providerEnvelope struct {
	Event string       `json:"event"`
	Data  providerData `json:"data"`
}

type providerData struct {
	ID              int64            `json:"id"`
	Reference       string           `json:"reference"`
	Amount          int64            `json:"amount"`
	GatewayResponse string           `json:"gateway_response"`
	Metadata        providerMetadata `json:"metadata"`
}

type providerMetadata struct {
	OrderID string `json:"order_id"`
	StoreID string `json:"store_id"`
}

type Router struct {
	log *slog.Logger
}

func NewRouter(log *slog.Logger) *Router {
	return &Router{log: log}
}

// Route parses a raw provider payload into a typed event. Unknown event
// types are not an error; the provider must still get a success response
// for them.
func (r *Router) Route(rawBody []byte) (RoutedEvent, error) {
	var env providerEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, ErrMalformedPayload
	}
	if env.Event == "" {
		return nil, ErrMalformedPayload
	}

	switch env.Event {
	case "charge.success":
		return PaymentSuccess{
			OrderID:       env.Data.Metadata.OrderID,
			ProviderTxnID: strconv.FormatInt(env.Data.ID, 10),
			Reference:     env.Data.Reference,
			AmountCents:   env.Data.Amount,
		}, nil
	case "charge.failed":
		reason := env.Data.GatewayResponse
		if reason == "" {
			reason = "charge failed"
		}
		return PaymentFailure{
			OrderID:   env.Data.Metadata.OrderID,
			Reference: env.Data.Reference,
			Reason:    reason,
		}, nil
	case "transfer.success":
		return TransferSuccess{
			Reference:   env.Data.Reference,
			StoreID:     env.Data.Metadata.StoreID,
			AmountCents: env.Data.Amount,
		}, nil
	case "transfer.failed":
		return TransferFailure{
			Reference:   env.Data.Reference,
			StoreID:     env.Data.Metadata.StoreID,
			AmountCents: env.Data.Amount,
			Reason:      env.Data.GatewayResponse,
		}, nil
	default:
		r.log.Info("unhandled provider event", "event_type", env.Event)
		return Unhandled{EventType: env.Event}, nil
	}
}
