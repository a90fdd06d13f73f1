package domain

import "time"

type TransactionType string

const (
	TxnSale       TransactionType = "sale"
	TxnCommission TransactionType = "commission"
	TxnServiceFee TransactionType = "service_fee"
	TxnPayout     TransactionType = "payout"
	TxnRefund     TransactionType = "refund"
)

type TransactionStatus string

const (
	TxnPending   TransactionStatus = "pending"
	TxnCompleted TransactionStatus = "completed"
	TxnFailed    TransactionStatus = "failed"
)

// Transaction is one ledger entry. Rows are append-only; amount and type
// never change after creation, only a pending payout settles its status.
// StoreID is empty for platform-level entries such as the service fee.
type Transaction struct {
	ID                string
	OrderID           string
	StoreID           string
	Type              TransactionType
	AmountCents       int64
	Status            TransactionStatus
	ProviderReference string
	CreatedAt         time.Time
}

// Settlement is the atomic unit applied for one verified payment event:
// the order transition, every store credit and every transaction row land
// together or not at all.
type Settlement struct {
	OrderID           string
	ProviderTxnID     string
	ProviderReference string
	AmountPaidCents   int64
	Credits           []StoreCredit
	Transactions      []Transaction
	Event             Event
}
