package domain

import (
	"time"

	"github.com/tmalatji/marketplace-settlement/internal/split"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "pending"
	FulfillmentPaid       FulfillmentStatus = "paid"
	FulfillmentProcessing FulfillmentStatus = "processing"
	FulfillmentShipped    FulfillmentStatus = "shipped"
	FulfillmentDelivered  FulfillmentStatus = "delivered"
	FulfillmentCancelled  FulfillmentStatus = "cancelled"
	FulfillmentFailed     FulfillmentStatus = "failed"
)

// Order is owned by the ledger. Status and balance fields change only
// through ledger operations, never directly.
type Order struct {
	ID                string
	CustomerID        string
	Lines             []OrderLine
	SubtotalCents     int64
	CommissionCents   int64
	ServiceFeeCents   int64
	ShippingFeeCents  int64
	GrandTotalCents   int64
	// AmountPaidCents is the amount the provider declared for the charge,
	// recorded at settlement. GrandTotalCents stays the ledger's pricing
	// source; a mismatch between the two is reconciliation input.
	AmountPaidCents   int64
	PaymentStatus     PaymentStatus
	FulfillmentStatus FulfillmentStatus
	ProviderTxnID     string
	PaymentReference  string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderLine is immutable once the order is placed.
type OrderLine struct {
	ProductID      string
	SellerID       string
	StoreID        string
	UnitPriceCents int64
	Quantity       int
	Tier           split.Tier
}

func (l OrderLine) AsSplitLine() split.Line {
	return split.Line{
		SellerID:       l.SellerID,
		StoreID:        l.StoreID,
		UnitPriceCents: l.UnitPriceCents,
		Quantity:       l.Quantity,
		Tier:           l.Tier,
	}
}

func (o Order) SplitLines() []split.Line {
	lines := make([]split.Line, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, l.AsSplitLine())
	}
	return lines
}

// NewOrder prices an order with the given calculator and starts it in the
// pending state.
func NewOrder(id, customerID string, lines []OrderLine, shippingFeeCents int64, calc split.Calculator) Order {
	o := Order{
		ID:                id,
		CustomerID:        customerID,
		Lines:             lines,
		ShippingFeeCents:  shippingFeeCents,
		PaymentStatus:     PaymentPending,
		FulfillmentStatus: FulfillmentPending,
	}
	os := calc.CalculateOrderSplit(o.SplitLines(), shippingFeeCents)
	o.SubtotalCents = os.SubtotalCents
	o.CommissionCents = os.TotalCommissionCents
	o.ServiceFeeCents = os.TotalServiceFeeCents
	o.GrandTotalCents = os.GrandTotalCents
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	return o
}
