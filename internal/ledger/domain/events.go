package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventOrderPaid          EventType = "order.paid"
	EventOrderPaymentFailed EventType = "order.payment_failed"
	EventOrderRefunded      EventType = "order.refunded"
	EventPayoutCompleted    EventType = "payout.completed"
	EventPayoutFailed       EventType = "payout.failed"
)

// Event is the canonical business event fanned out to automation
// subscribers and published on the settlement topic.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	OrderID    string          `json:"order_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type SellerCredit struct {
	StoreID         string `json:"store_id"`
	NetCents        int64  `json:"net_cents"`
	CommissionCents int64  `json:"commission_cents"`
}

type OrderPaid struct {
	OrderID       string         `json:"order_id"`
	CustomerID    string         `json:"customer_id"`
	AmountCents   int64          `json:"amount_cents"`
	ProviderTxnID string         `json:"provider_txn_id"`
	Sellers       []SellerCredit `json:"sellers"`
}

type OrderPaymentFailed struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type OrderRefunded struct {
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
}

type PayoutSettled struct {
	StoreID     string `json:"store_id"`
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amount_cents"`
	Succeeded   bool   `json:"succeeded"`
	Reason      string `json:"reason,omitempty"`
}
