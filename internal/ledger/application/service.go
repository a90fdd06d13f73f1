package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tmalatji/marketplace-settlement/internal/ledger/domain"
	"github.com/tmalatji/marketplace-settlement/internal/split"
)

// Outcome distinguishes a fresh ledger application from an idempotent
// no-op, so callers never mistake a suppressed duplicate for a failure.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNoop      Outcome = "noop"
)

type ApplyResult struct {
	Outcome Outcome
	OrderID string
	// Event is set only when this call produced a new business event.
	Event *domain.Event
}

type Service struct {
	log      *slog.Logger
	repo     Repository
	provider ProviderClient
	calc     split.Calculator
}

func NewService(log *slog.Logger, repo Repository, provider ProviderClient, calc split.Calculator) *Service {
	return &Service{log: log, repo: repo, provider: provider, calc: calc}
}

// ApplyPaymentSuccess settles a verified charge. Idempotent on the provider
// reference: re-delivery of the same event credits nobody twice.
func (s *Service) ApplyPaymentSuccess(ctx context.Context, orderID, providerTxnID, providerRef string, amountPaidCents int64) (ApplyResult, error) {
	prior, err := s.repo.FindTransactionsByProviderReference(ctx, providerRef)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("idempotency lookup: %w", err)
	}
	if len(prior) > 0 {
		s.log.Info("duplicate payment event suppressed", "order_id", orderID, "reference", providerRef)
		return ApplyResult{Outcome: OutcomeDuplicate, OrderID: orderID}, nil
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	switch order.PaymentStatus {
	case domain.PaymentPaid:
		return ApplyResult{Outcome: OutcomeDuplicate, OrderID: orderID}, nil
	case domain.PaymentFailed, domain.PaymentRefunded:
		// A success after a terminal failure or refund is a state-machine
		// conflict, not a re-delivery. Flagged for reconciliation.
		s.log.Warn("payment success for non-pending order",
			"order_id", orderID, "reference", providerRef, "status", order.PaymentStatus)
		return ApplyResult{Outcome: OutcomeNoop, OrderID: orderID}, nil
	}

	os := s.calc.CalculateOrderSplit(order.SplitLines(), order.ShippingFeeCents)
	if amountPaidCents != os.GrandTotalCents {
		// Ledger amounts come from the order itself; the declared amount is
		// recorded but never overrides the calculated split.
		s.log.Warn("declared amount differs from order total",
			"order_id", orderID, "declared_cents", amountPaidCents, "expected_cents", os.GrandTotalCents)
	}

	now := time.Now().UTC()
	settlement := domain.Settlement{
		OrderID:           orderID,
		ProviderTxnID:     providerTxnID,
		ProviderReference: providerRef,
		AmountPaidCents:   amountPaidCents,
	}

	paid := domain.OrderPaid{
		OrderID:       orderID,
		CustomerID:    order.CustomerID,
		AmountCents:   os.GrandTotalCents,
		ProviderTxnID: providerTxnID,
	}
	for _, seller := range os.Sellers {
		settlement.Credits = append(settlement.Credits, domain.StoreCredit{
			StoreID:            seller.StoreID,
			EarningsDeltaCents: seller.NetCents,
			BalanceDeltaCents:  seller.NetCents,
		})
		settlement.Transactions = append(settlement.Transactions,
			domain.Transaction{
				ID:                uuid.NewString(),
				OrderID:           orderID,
				StoreID:           seller.StoreID,
				Type:              domain.TxnSale,
				AmountCents:       seller.NetCents,
				Status:            domain.TxnCompleted,
				ProviderReference: providerRef,
				CreatedAt:         now,
			},
			domain.Transaction{
				ID:                uuid.NewString(),
				OrderID:           orderID,
				StoreID:           seller.StoreID,
				Type:              domain.TxnCommission,
				AmountCents:       seller.CommissionCents,
				Status:            domain.TxnCompleted,
				ProviderReference: providerRef,
				CreatedAt:         now,
			},
		)
		paid.Sellers = append(paid.Sellers, domain.SellerCredit{
			StoreID:         seller.StoreID,
			NetCents:        seller.NetCents,
			CommissionCents: seller.CommissionCents,
		})
	}
	settlement.Transactions = append(settlement.Transactions, domain.Transaction{
		ID:                uuid.NewString(),
		OrderID:           orderID,
		Type:              domain.TxnServiceFee,
		AmountCents:       os.TotalServiceFeeCents,
		Status:            domain.TxnCompleted,
		ProviderReference: providerRef,
		CreatedAt:         now,
	})

	event, err := newEvent(domain.EventOrderPaid, orderID, paid)
	if err != nil {
		return ApplyResult{}, err
	}
	settlement.Event = event

	if err := s.repo.ApplySettlement(ctx, settlement); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			s.log.Info("concurrent duplicate payment event suppressed", "order_id", orderID, "reference", providerRef)
			return ApplyResult{Outcome: OutcomeDuplicate, OrderID: orderID}, nil
		}
		return ApplyResult{}, fmt.Errorf("apply settlement for order %s: %w", orderID, err)
	}

	s.log.Info("payment settled",
		"order_id", orderID, "reference", providerRef, "sellers", len(os.Sellers), "amount_cents", os.GrandTotalCents)
	return ApplyResult{Outcome: OutcomeApplied, OrderID: orderID, Event: &event}, nil
}

// ApplyPaymentFailure transitions a pending order to failed. Re-applying is
// a no-op; a failure arriving after the order was paid is ignored.
func (s *Service) ApplyPaymentFailure(ctx context.Context, orderID, reason string) (ApplyResult, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("load order %s: %w", orderID, err)
	}

	switch order.PaymentStatus {
	case domain.PaymentFailed:
		return ApplyResult{Outcome: OutcomeNoop, OrderID: orderID}, nil
	case domain.PaymentPaid, domain.PaymentRefunded:
		s.log.Warn("payment failure ignored for settled order", "order_id", orderID, "status", order.PaymentStatus)
		return ApplyResult{Outcome: OutcomeNoop, OrderID: orderID}, nil
	}

	order.PaymentStatus = domain.PaymentFailed
	order.FulfillmentStatus = domain.FulfillmentFailed
	order.UpdatedAt = time.Now().UTC()

	event, err := newEvent(domain.EventOrderPaymentFailed, orderID, domain.OrderPaymentFailed{OrderID: orderID, Reason: reason})
	if err != nil {
		return ApplyResult{}, err
	}
	if err := s.repo.SaveOrderWithEvent(ctx, order, event); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			s.log.Info("concurrent duplicate failure event suppressed", "order_id", orderID)
			return ApplyResult{Outcome: OutcomeNoop, OrderID: orderID}, nil
		}
		return ApplyResult{}, fmt.Errorf("mark order %s failed: %w", orderID, err)
	}

	s.log.Info("payment failed", "order_id", orderID, "reason", reason)
	return ApplyResult{Outcome: OutcomeApplied, OrderID: orderID, Event: &event}, nil
}

// ApplyTransferOutcome settles a payout. On success the store balance is
// reduced by the payout amount; on failure the transaction is recorded and
// the balance left untouched so the payout can be retried.
func (s *Service) ApplyTransferOutcome(ctx context.Context, succeeded bool, payoutRef, storeID string, amountCents int64, reason string) (ApplyResult, error) {
	txns, err := s.repo.FindTransactionsByProviderReference(ctx, payoutRef)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("payout lookup %s: %w", payoutRef, err)
	}

	var pending *domain.Transaction
	for i := range txns {
		if txns[i].Type != domain.TxnPayout {
			continue
		}
		if txns[i].Status != domain.TxnPending {
			s.log.Info("duplicate transfer event suppressed", "reference", payoutRef)
			return ApplyResult{Outcome: OutcomeDuplicate}, nil
		}
		pending = &txns[i]
		break
	}

	status := domain.TxnFailed
	eventType := domain.EventPayoutFailed
	if succeeded {
		status = domain.TxnCompleted
		eventType = domain.EventPayoutCompleted
	}

	if pending != nil {
		storeID = pending.StoreID
		amountCents = pending.AmountCents
	} else if storeID == "" {
		s.log.Warn("transfer event for unknown payout", "reference", payoutRef)
		return ApplyResult{Outcome: OutcomeNoop}, nil
	}

	var balanceDelta int64
	if succeeded {
		balanceDelta = -amountCents
	}

	event, err := newEvent(eventType, "", domain.PayoutSettled{
		StoreID:     storeID,
		Reference:   payoutRef,
		AmountCents: amountCents,
		Succeeded:   succeeded,
		Reason:      reason,
	})
	if err != nil {
		return ApplyResult{}, err
	}

	if pending != nil {
		err = s.repo.SettlePayout(ctx, pending.ID, status, balanceDelta, event)
	} else {
		err = s.repo.RecordPayout(ctx, domain.Transaction{
			ID:                uuid.NewString(),
			StoreID:           storeID,
			Type:              domain.TxnPayout,
			AmountCents:       amountCents,
			Status:            status,
			ProviderReference: payoutRef,
			CreatedAt:         time.Now().UTC(),
		}, balanceDelta, event)
	}
	if err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			s.log.Info("concurrent duplicate transfer event suppressed", "reference", payoutRef)
			return ApplyResult{Outcome: OutcomeDuplicate}, nil
		}
		return ApplyResult{}, fmt.Errorf("settle payout %s: %w", payoutRef, err)
	}

	s.log.Info("payout settled", "reference", payoutRef, "store_id", storeID, "succeeded", succeeded)
	return ApplyResult{Outcome: OutcomeApplied, Event: &event}, nil
}

// InitiatePayout asks the provider to transfer funds to the store owner and
// records the pending payout. The transfer webhook settles it later.
func (s *Service) InitiatePayout(ctx context.Context, storeID string, amountCents int64) (domain.Transaction, error) {
	store, err := s.repo.GetStore(ctx, storeID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("load store %s: %w", storeID, err)
	}
	if amountCents <= 0 || amountCents > store.AvailableBalanceCents {
		return domain.Transaction{}, ErrInsufficientBalance
	}

	ref, err := s.provider.InitiateTransfer(ctx, storeID, amountCents, "store payout")
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("initiate transfer for store %s: %w", storeID, err)
	}

	t := domain.Transaction{
		ID:                uuid.NewString(),
		StoreID:           storeID,
		Type:              domain.TxnPayout,
		AmountCents:       amountCents,
		Status:            domain.TxnPending,
		ProviderReference: ref,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.repo.InsertTransaction(ctx, t); err != nil {
		return domain.Transaction{}, fmt.Errorf("record payout %s: %w", ref, err)
	}

	s.log.Info("payout initiated", "store_id", storeID, "reference", ref, "amount_cents", amountCents)
	return t, nil
}

// InitiateRefund refunds a paid order in full and reverses the seller
// credits that its settlement produced.
func (s *Service) InitiateRefund(ctx context.Context, orderID string) (ApplyResult, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order.PaymentStatus == domain.PaymentRefunded {
		return ApplyResult{Outcome: OutcomeDuplicate, OrderID: orderID}, nil
	}
	if order.PaymentStatus != domain.PaymentPaid {
		return ApplyResult{}, fmt.Errorf("order %s is %s: %w", orderID, order.PaymentStatus, ErrInvalidTransition)
	}

	ref, err := s.provider.InitiateRefund(ctx, order.ProviderTxnID, order.GrandTotalCents)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("initiate refund for order %s: %w", orderID, err)
	}

	os := s.calc.CalculateOrderSplit(order.SplitLines(), order.ShippingFeeCents)
	now := time.Now().UTC()

	var debits []domain.StoreCredit
	var txns []domain.Transaction
	for _, seller := range os.Sellers {
		debits = append(debits, domain.StoreCredit{
			StoreID:            seller.StoreID,
			EarningsDeltaCents: -seller.NetCents,
			BalanceDeltaCents:  -seller.NetCents,
		})
		txns = append(txns, domain.Transaction{
			ID:                uuid.NewString(),
			OrderID:           orderID,
			StoreID:           seller.StoreID,
			Type:              domain.TxnRefund,
			AmountCents:       seller.NetCents,
			Status:            domain.TxnCompleted,
			ProviderReference: ref,
			CreatedAt:         now,
		})
	}

	order.PaymentStatus = domain.PaymentRefunded
	order.FulfillmentStatus = domain.FulfillmentCancelled
	order.UpdatedAt = now

	event, err := newEvent(domain.EventOrderRefunded, orderID, domain.OrderRefunded{OrderID: orderID, AmountCents: order.GrandTotalCents})
	if err != nil {
		return ApplyResult{}, err
	}
	if err := s.repo.ApplyRefund(ctx, order, debits, txns, event); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			return ApplyResult{Outcome: OutcomeDuplicate, OrderID: orderID}, nil
		}
		return ApplyResult{}, fmt.Errorf("apply refund for order %s: %w", orderID, err)
	}

	s.log.Info("order refunded", "order_id", orderID, "reference", ref)
	return ApplyResult{Outcome: OutcomeApplied, OrderID: orderID, Event: &event}, nil
}

func newEvent(t domain.EventType, orderID string, payload any) (domain.Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal %s event: %w", t, err)
	}
	return domain.Event{
		ID:         uuid.NewString(),
		Type:       t,
		OrderID:    orderID,
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	}, nil
}
