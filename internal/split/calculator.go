package split

// Tier is the seller subscription level that determines the commission rate.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Commission rates in basis points of the line subtotal.
const (
	freeRateBps    = 700
	premiumRateBps = 400
)

// Estimated provider processing fee, display only. The provider's own
// settlement report is authoritative; this never reaches ledger amounts.
const (
	providerFeeRateBps    = 290
	providerFeeFixedCents = 100
)

type Line struct {
	SellerID       string `json:"seller_id"`
	StoreID        string `json:"store_id"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	Tier           Tier   `json:"tier"`
}

type LineSplit struct {
	SubtotalCents          int64 `json:"subtotal_cents"`
	CommissionCents        int64 `json:"commission_cents"`
	SellerNetCents         int64 `json:"seller_net_cents"`
	CustomerLineTotalCents int64 `json:"customer_line_total_cents"`
}

type SellerSplit struct {
	SellerID        string `json:"seller_id"`
	StoreID         string `json:"store_id"`
	Tier            Tier   `json:"tier"`
	SubtotalCents   int64  `json:"subtotal_cents"`
	CommissionCents int64  `json:"commission_cents"`
	NetCents        int64  `json:"net_cents"`
}

type OrderSplit struct {
	SubtotalCents             int64         `json:"subtotal_cents"`
	TotalCommissionCents      int64         `json:"total_commission_cents"`
	TotalServiceFeeCents      int64         `json:"total_service_fee_cents"`
	ShippingFeeCents          int64         `json:"shipping_fee_cents"`
	GrandTotalCents           int64         `json:"grand_total_cents"`
	EstimatedProviderFeeCents int64         `json:"estimated_provider_fee_cents"`
	Sellers                   []SellerSplit `json:"sellers"`
}

func commissionRateBps(tier Tier) int64 {
	if tier == TierPremium {
		return premiumRateBps
	}
	return freeRateBps
}

// CalculateLineSplit decomposes one order line. The seller keeps the full
// line subtotal; commission is charged on top to the customer. The order
// level service fee is not included here, it is applied exactly once per
// order by CalculateOrderSplit.
func CalculateLineSplit(unitPriceCents int64, quantity int, tier Tier) LineSplit {
	subtotal := unitPriceCents * int64(quantity)
	commission := subtotal * commissionRateBps(tier) / 10_000
	return LineSplit{
		SubtotalCents:          subtotal,
		CommissionCents:        commission,
		SellerNetCents:         subtotal,
		CustomerLineTotalCents: subtotal + commission,
	}
}

// Calculator carries the per-order service fee. Safe to share; methods are
// pure and deterministic.
type Calculator struct {
	ServiceFeeCents int64
}

func NewCalculator(serviceFeeCents int64) Calculator {
	return Calculator{ServiceFeeCents: serviceFeeCents}
}

// CalculateOrderSplit groups lines by seller and sums the order totals.
// The service fee is charged once regardless of seller count.
func (c Calculator) CalculateOrderSplit(lines []Line, shippingFeeCents int64) OrderSplit {
	out := OrderSplit{
		TotalServiceFeeCents: c.ServiceFeeCents,
		ShippingFeeCents:     shippingFeeCents,
	}

	idx := make(map[string]int, len(lines))
	for _, line := range lines {
		ls := CalculateLineSplit(line.UnitPriceCents, line.Quantity, line.Tier)
		out.SubtotalCents += ls.SubtotalCents
		out.TotalCommissionCents += ls.CommissionCents

		i, ok := idx[line.SellerID]
		if !ok {
			i = len(out.Sellers)
			idx[line.SellerID] = i
			out.Sellers = append(out.Sellers, SellerSplit{
				SellerID: line.SellerID,
				StoreID:  line.StoreID,
				Tier:     line.Tier,
			})
		}
		out.Sellers[i].SubtotalCents += ls.SubtotalCents
		out.Sellers[i].CommissionCents += ls.CommissionCents
		out.Sellers[i].NetCents += ls.SellerNetCents
	}

	out.GrandTotalCents = out.SubtotalCents + out.TotalCommissionCents + out.TotalServiceFeeCents + out.ShippingFeeCents
	out.EstimatedProviderFeeCents = EstimateProviderFee(out.GrandTotalCents)
	return out
}

// EstimateProviderFee approximates what the payment provider will deduct
// from a charge of the given amount. Informational only.
func EstimateProviderFee(amountCents int64) int64 {
	return amountCents*providerFeeRateBps/10_000 + providerFeeFixedCents
}
