package application

import (
	"context"
	"errors"

	"github.com/tmalatji/marketplace-settlement/internal/ledger/domain"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrStoreNotFound       = errors.New("store not found")
	ErrDuplicateReference  = errors.New("duplicate provider reference")
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrInvalidTransition   = errors.New("invalid order state transition")
)

// Repository is the persistence port for the settlement ledger. The Apply*
// and Settle* methods are atomic units: either every write inside them
// lands or none does, and each also records the business event durably.
type Repository interface {
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	UpsertOrder(ctx context.Context, o domain.Order) error
	GetStore(ctx context.Context, id string) (domain.Store, error)
	AdjustStoreBalance(ctx context.Context, storeID string, earningsDeltaCents, balanceDeltaCents int64) error
	InsertTransaction(ctx context.Context, t domain.Transaction) error
	FindTransactionsByProviderReference(ctx context.Context, ref string) ([]domain.Transaction, error)

	// ApplySettlement applies a payment-success settlement. Returns
	// ErrDuplicateReference when the provider reference was already applied
	// by a concurrent delivery.
	ApplySettlement(ctx context.Context, s domain.Settlement) error

	// SaveOrderWithEvent persists a transition out of pending together with
	// its business event. Returns ErrDuplicateReference when the order has
	// already left pending, so concurrent deliveries apply exactly once.
	SaveOrderWithEvent(ctx context.Context, o domain.Order, event domain.Event) error

	// SettlePayout moves a pending payout transaction to its final status
	// and applies the balance delta. Returns ErrDuplicateReference when the
	// transaction is no longer pending.
	SettlePayout(ctx context.Context, txnID string, status domain.TransactionStatus, balanceDeltaCents int64, event domain.Event) error

	// RecordPayout inserts a payout transaction that was settled without a
	// prior pending row.
	RecordPayout(ctx context.Context, t domain.Transaction, balanceDeltaCents int64, event domain.Event) error

	// ApplyRefund transitions the order to refunded, reverses the seller
	// credits and appends the refund transactions.
	ApplyRefund(ctx context.Context, o domain.Order, debits []domain.StoreCredit, txns []domain.Transaction, event domain.Event) error
}

// ProviderClient is the slice of the payment-provider API the ledger needs.
type ProviderClient interface {
	InitiateTransfer(ctx context.Context, storeID string, amountCents int64, reason string) (reference string, err error)
	InitiateRefund(ctx context.Context, providerTxnID string, amountCents int64) (reference string, err error)
}
