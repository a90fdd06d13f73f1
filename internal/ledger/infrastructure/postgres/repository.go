package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tmalatji/marketplace-settlement/internal/ledger/application"
	"github.com/tmalatji/marketplace-settlement/internal/ledger/domain"
	"github.com/tmalatji/marketplace-settlement/pkg/outbox"
	"github.com/tmalatji/marketplace-settlement/pkg/tracing"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, `SELECT id, customer_id, subtotal_cents, commission_cents, service_fee_cents,
			shipping_fee_cents, grand_total_cents, COALESCE(amount_paid_cents,0), payment_status, fulfillment_status,
			COALESCE(provider_txn_id,''), COALESCE(payment_reference,''), created_at, updated_at
		FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.CustomerID, &o.SubtotalCents, &o.CommissionCents, &o.ServiceFeeCents,
			&o.ShippingFeeCents, &o.GrandTotalCents, &o.AmountPaidCents, &o.PaymentStatus, &o.FulfillmentStatus,
			&o.ProviderTxnID, &o.PaymentReference, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, application.ErrOrderNotFound
		}
		return domain.Order{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT product_id, seller_id, store_id, unit_price_cents, quantity, tier
		FROM order_lines WHERE order_id=$1 ORDER BY product_id`, id)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ProductID, &l.SellerID, &l.StoreID, &l.UnitPriceCents, &l.Quantity, &l.Tier); err != nil {
			return domain.Order{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

func (r *Repository) UpsertOrder(ctx context.Context, o domain.Order) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO orders (id, customer_id, subtotal_cents, commission_cents, service_fee_cents,
			shipping_fee_cents, grand_total_cents, amount_paid_cents, payment_status, fulfillment_status, provider_txn_id, payment_reference, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),NULLIF($12,''),$13,$14)
		ON CONFLICT (id) DO UPDATE SET payment_status=$9, fulfillment_status=$10,
			provider_txn_id=NULLIF($11,''), payment_reference=NULLIF($12,''), updated_at=$14`,
		o.ID, o.CustomerID, o.SubtotalCents, o.CommissionCents, o.ServiceFeeCents,
		o.ShippingFeeCents, o.GrandTotalCents, o.AmountPaidCents, o.PaymentStatus, o.FulfillmentStatus,
		o.ProviderTxnID, o.PaymentReference, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, l := range o.Lines {
		batch.Queue(`INSERT INTO order_lines (order_id, product_id, seller_id, store_id, unit_price_cents, quantity, tier)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (order_id, product_id) DO NOTHING`,
			o.ID, l.ProductID, l.SellerID, l.StoreID, l.UnitPriceCents, l.Quantity, l.Tier)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetStore(ctx context.Context, id string) (domain.Store, error) {
	var st domain.Store
	err := r.pool.QueryRow(ctx, `SELECT id, seller_id, tier, total_earnings_cents, available_balance_cents, created_at, updated_at
		FROM stores WHERE id=$1`, id).
		Scan(&st.ID, &st.SellerID, &st.Tier, &st.TotalEarningsCents, &st.AvailableBalanceCents, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Store{}, application.ErrStoreNotFound
		}
		return domain.Store{}, err
	}
	return st, nil
}

func (r *Repository) AdjustStoreBalance(ctx context.Context, storeID string, earningsDeltaCents, balanceDeltaCents int64) error {
	ct, err := r.pool.Exec(ctx, `UPDATE stores
		SET total_earnings_cents = total_earnings_cents + $2,
			available_balance_cents = available_balance_cents + $3,
			updated_at = now()
		WHERE id=$1`, storeID, earningsDeltaCents, balanceDeltaCents)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrStoreNotFound
	}
	return nil
}

func (r *Repository) InsertTransaction(ctx context.Context, t domain.Transaction) error {
	err := insertTransaction(ctx, r.pool, t)
	if isUniqueViolation(err) {
		return application.ErrDuplicateReference
	}
	return err
}

func (r *Repository) FindTransactionsByProviderReference(ctx context.Context, ref string) ([]domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, COALESCE(order_id,''), COALESCE(store_id,''), type, amount_cents, status, provider_reference, created_at
		FROM transactions WHERE provider_reference=$1 ORDER BY created_at`, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.OrderID, &t.StoreID, &t.Type, &t.AmountCents, &t.Status, &t.ProviderReference, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// ApplySettlement runs the whole payment-success settlement in one
// transaction. The conditional order update is the compare-and-set that
// makes concurrent duplicate deliveries apply exactly once.
func (r *Repository) ApplySettlement(ctx context.Context, s domain.Settlement) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE orders
		SET payment_status='paid', fulfillment_status='paid',
			provider_txn_id=$2, payment_reference=$3, amount_paid_cents=$4, updated_at=now()
		WHERE id=$1 AND payment_status='pending'`,
		s.OrderID, s.ProviderTxnID, s.ProviderReference, s.AmountPaidCents)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrDuplicateReference
	}

	for _, c := range s.Credits {
		ct, err := tx.Exec(ctx, `UPDATE stores
			SET total_earnings_cents = total_earnings_cents + $2,
				available_balance_cents = available_balance_cents + $3,
				updated_at = now()
			WHERE id=$1`, c.StoreID, c.EarningsDeltaCents, c.BalanceDeltaCents)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("credit store %s: %w", c.StoreID, application.ErrStoreNotFound)
		}
	}

	for _, t := range s.Transactions {
		if err := insertTransaction(ctx, tx, t); err != nil {
			if isUniqueViolation(err) {
				return application.ErrDuplicateReference
			}
			return err
		}
	}

	if err := insertOutbox(ctx, tx, "order", s.OrderID, s.Event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) SaveOrderWithEvent(ctx context.Context, o domain.Order, event domain.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Same compare-and-set shape as ApplySettlement: only one of two
	// concurrent deliveries moves the order out of pending.
	ct, err := tx.Exec(ctx, `UPDATE orders
		SET payment_status=$2, fulfillment_status=$3, updated_at=$4
		WHERE id=$1 AND payment_status='pending'`, o.ID, o.PaymentStatus, o.FulfillmentStatus, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrDuplicateReference
	}
	if err := insertOutbox(ctx, tx, "order", o.ID, event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) SettlePayout(ctx context.Context, txnID string, status domain.TransactionStatus, balanceDeltaCents int64, event domain.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var storeID string
	err = tx.QueryRow(ctx, `UPDATE transactions SET status=$2
		WHERE id=$1 AND status='pending'
		RETURNING COALESCE(store_id,'')`, txnID, status).Scan(&storeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return application.ErrDuplicateReference
		}
		return err
	}

	if balanceDeltaCents != 0 {
		_, err = tx.Exec(ctx, `UPDATE stores
			SET available_balance_cents = available_balance_cents + $2, updated_at = now()
			WHERE id=$1`, storeID, balanceDeltaCents)
		if err != nil {
			return err
		}
	}

	if err := insertOutbox(ctx, tx, "payout", txnID, event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) RecordPayout(ctx context.Context, t domain.Transaction, balanceDeltaCents int64, event domain.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := insertTransaction(ctx, tx, t); err != nil {
		if isUniqueViolation(err) {
			return application.ErrDuplicateReference
		}
		return err
	}

	if balanceDeltaCents != 0 {
		_, err = tx.Exec(ctx, `UPDATE stores
			SET available_balance_cents = available_balance_cents + $2, updated_at = now()
			WHERE id=$1`, t.StoreID, balanceDeltaCents)
		if err != nil {
			return err
		}
	}

	if err := insertOutbox(ctx, tx, "payout", t.ID, event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) ApplyRefund(ctx context.Context, o domain.Order, debits []domain.StoreCredit, txns []domain.Transaction, event domain.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE orders
		SET payment_status='refunded', fulfillment_status=$2, updated_at=$3
		WHERE id=$1 AND payment_status='paid'`, o.ID, o.FulfillmentStatus, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrDuplicateReference
	}

	for _, d := range debits {
		ct, err := tx.Exec(ctx, `UPDATE stores
			SET total_earnings_cents = total_earnings_cents + $2,
				available_balance_cents = available_balance_cents + $3,
				updated_at = now()
			WHERE id=$1`, d.StoreID, d.EarningsDeltaCents, d.BalanceDeltaCents)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("debit store %s: %w", d.StoreID, application.ErrStoreNotFound)
		}
	}
	for _, t := range txns {
		if err := insertTransaction(ctx, tx, t); err != nil {
			return err
		}
	}

	if err := insertOutbox(ctx, tx, "order", o.ID, event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertTransaction(ctx context.Context, db execer, t domain.Transaction) error {
	_, err := db.Exec(ctx, `INSERT INTO transactions (id, order_id, store_id, type, amount_cents, status, provider_reference, created_at)
		VALUES ($1,NULLIF($2,''),NULLIF($3,''),$4,$5,$6,$7,$8)`,
		t.ID, t.OrderID, t.StoreID, t.Type, t.AmountCents, t.Status, t.ProviderReference, t.CreatedAt)
	return err
}

func insertOutbox(ctx context.Context, db execer, aggregateType, aggregateID string, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,'pending')`,
		aggregateType, aggregateID, string(event.Type), payload, tracing.TraceparentFromContext(ctx))
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// OutboxStore feeds the relay that publishes settlement events to Kafka.
type OutboxStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewOutboxStore(log *slog.Logger, pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{log: log, pool: pool}
}

func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, type, payload, COALESCE(traceparent,''), created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		var event outbox.Event
		if err := rows.Scan(&event.ID, &event.AggregateType, &event.AggregateID, &event.Type, &event.Payload, &event.Traceparent, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}

	_, err = tx.Exec(ctx, `UPDATE outbox SET status='in_progress', relay_id=$1, lease_until=now() + $2::interval WHERE id = ANY($3)`,
		relayID, lease.String(), ids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET status='sent' WHERE id = ANY($1)`, ids)
	return err
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET status='failed', last_error=$2, retry_count=retry_count+1 WHERE id=$1`, id, errMsg)
	return err
}

func (s *OutboxStore) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET lease_until=now() + $1::interval WHERE id = ANY($2) AND relay_id=$3`, lease.String(), ids, relayID)
	return err
}
