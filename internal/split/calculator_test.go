package split

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateLineSplit(t *testing.T) {
	cases := []struct {
		name       string
		unitPrice  int64
		quantity   int
		tier       Tier
		subtotal   int64
		commission int64
	}{
		{"free tier 7%", 5000, 2, TierFree, 10000, 700},
		{"premium tier 4%", 20000, 1, TierPremium, 20000, 800},
		{"single unit free", 10000, 1, TierFree, 10000, 700},
		{"zero quantity", 5000, 0, TierFree, 0, 0},
		{"unknown tier falls back to free rate", 10000, 1, Tier("gold"), 10000, 700},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ls := CalculateLineSplit(tc.unitPrice, tc.quantity, tc.tier)
			assert.Equal(t, tc.subtotal, ls.SubtotalCents)
			assert.Equal(t, tc.commission, ls.CommissionCents)
			assert.Equal(t, tc.subtotal, ls.SellerNetCents, "seller keeps the full line subtotal")
			assert.Equal(t, ls.SubtotalCents+ls.CommissionCents, ls.CustomerLineTotalCents)
		})
	}
}

func TestCalculateOrderSplit_TwoSellers(t *testing.T) {
	calc := NewCalculator(1500)

	lines := []Line{
		{SellerID: "seller1", StoreID: "store1", UnitPriceCents: 5000, Quantity: 2, Tier: TierFree},
		{SellerID: "seller2", StoreID: "store2", UnitPriceCents: 20000, Quantity: 1, Tier: TierPremium},
	}

	os := calc.CalculateOrderSplit(lines, 8500)

	assert.Equal(t, int64(30000), os.SubtotalCents)
	assert.Equal(t, int64(1500), os.TotalCommissionCents)
	assert.Equal(t, int64(1500), os.TotalServiceFeeCents)
	assert.Equal(t, int64(8500), os.ShippingFeeCents)
	assert.Equal(t, int64(41500), os.GrandTotalCents)

	require.Len(t, os.Sellers, 2)
	assert.Equal(t, "seller1", os.Sellers[0].SellerID)
	assert.Equal(t, int64(700), os.Sellers[0].CommissionCents)
	assert.Equal(t, int64(10000), os.Sellers[0].NetCents)
	assert.Equal(t, "seller2", os.Sellers[1].SellerID)
	assert.Equal(t, int64(800), os.Sellers[1].CommissionCents)
	assert.Equal(t, int64(20000), os.Sellers[1].NetCents)
}

func TestCalculateOrderSplit_ServiceFeeOncePerOrder(t *testing.T) {
	calc := NewCalculator(1500)

	one := calc.CalculateOrderSplit([]Line{
		{SellerID: "a", UnitPriceCents: 1000, Quantity: 1, Tier: TierFree},
	}, 0)
	three := calc.CalculateOrderSplit([]Line{
		{SellerID: "a", UnitPriceCents: 1000, Quantity: 1, Tier: TierFree},
		{SellerID: "b", UnitPriceCents: 1000, Quantity: 1, Tier: TierFree},
		{SellerID: "c", UnitPriceCents: 1000, Quantity: 1, Tier: TierFree},
	}, 0)

	assert.Equal(t, int64(1500), one.TotalServiceFeeCents)
	assert.Equal(t, int64(1500), three.TotalServiceFeeCents, "fee must not scale with seller count")
}

func TestCalculateOrderSplit_GrandTotalInvariant(t *testing.T) {
	calc := NewCalculator(1500)

	lines := []Line{
		{SellerID: "a", UnitPriceCents: 333, Quantity: 3, Tier: TierFree},
		{SellerID: "b", UnitPriceCents: 12999, Quantity: 2, Tier: TierPremium},
		{SellerID: "a", UnitPriceCents: 750, Quantity: 1, Tier: TierFree},
	}
	os := calc.CalculateOrderSplit(lines, 4999)

	assert.Equal(t, os.SubtotalCents+os.TotalCommissionCents+os.TotalServiceFeeCents+os.ShippingFeeCents, os.GrandTotalCents)

	// lines for the same seller collapse into one split
	require.Len(t, os.Sellers, 2)
	assert.Equal(t, int64(333*3+750), os.Sellers[0].SubtotalCents)
}

func TestCalculateOrderSplit_Deterministic(t *testing.T) {
	calc := NewCalculator(1500)
	lines := []Line{
		{SellerID: "s1", UnitPriceCents: 5000, Quantity: 2, Tier: TierFree},
		{SellerID: "s2", UnitPriceCents: 20000, Quantity: 1, Tier: TierPremium},
	}

	first := calc.CalculateOrderSplit(lines, 8500)
	second := calc.CalculateOrderSplit(lines, 8500)
	assert.Equal(t, first, second)
}

func TestEstimateProviderFee_DisplayOnly(t *testing.T) {
	// 2.9% + fixed, never part of seller net
	assert.Equal(t, int64(390), EstimateProviderFee(10000))

	calc := NewCalculator(1500)
	os := calc.CalculateOrderSplit([]Line{
		{SellerID: "a", UnitPriceCents: 5000, Quantity: 2, Tier: TierFree},
	}, 0)
	assert.Equal(t, int64(10000), os.Sellers[0].NetCents, "estimate must not reduce seller net")
}
