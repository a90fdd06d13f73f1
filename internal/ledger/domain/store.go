package domain

import (
	"time"

	"github.com/tmalatji/marketplace-settlement/internal/split"
)

// Store is a seller account. Earnings and balance move only via
// ledger-recorded deltas so they stay auditable against the transaction log.
type Store struct {
	ID                    string
	SellerID              string
	Tier                  split.Tier
	TotalEarningsCents    int64
	AvailableBalanceCents int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// StoreCredit is one balance movement inside an atomic settlement.
type StoreCredit struct {
	StoreID            string
	EarningsDeltaCents int64
	BalanceDeltaCents  int64
}
