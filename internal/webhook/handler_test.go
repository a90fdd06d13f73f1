package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmalatji/marketplace-settlement/internal/dispatch"
	"github.com/tmalatji/marketplace-settlement/internal/ledger/application"
	"github.com/tmalatji/marketplace-settlement/internal/ledger/domain"
)

const testSecret = "sk_test_secret"

type ledgerCall struct {
	op      string
	orderID string
	ref     string
	amount  int64
}

type fakeLedger struct {
	mu     sync.Mutex
	calls  []ledgerCall
	result application.ApplyResult
	err    error
}

func (f *fakeLedger) record(c ledgerCall) (application.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.result, f.err
}

func (f *fakeLedger) ApplyPaymentSuccess(ctx context.Context, orderID, providerTxnID, providerRef string, amountPaidCents int64) (application.ApplyResult, error) {
	return f.record(ledgerCall{op: "payment_success", orderID: orderID, ref: providerRef, amount: amountPaidCents})
}

func (f *fakeLedger) ApplyPaymentFailure(ctx context.Context, orderID, reason string) (application.ApplyResult, error) {
	return f.record(ledgerCall{op: "payment_failure", orderID: orderID})
}

func (f *fakeLedger) ApplyTransferOutcome(ctx context.Context, succeeded bool, payoutRef, storeID string, amountCents int64, reason string) (application.ApplyResult, error) {
	op := "transfer_failure"
	if succeeded {
		op = "transfer_success"
	}
	return f.record(ledgerCall{op: op, ref: payoutRef, amount: amountCents})
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeFanout struct {
	events chan domain.Event
}

func newFakeFanout() *fakeFanout {
	return &fakeFanout{events: make(chan domain.Event, 8)}
}

func (f *fakeFanout) Fanout(ctx context.Context, event domain.Event) []dispatch.DeliveryResult {
	f.events <- event
	return nil
}

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{seen: make(map[string]bool)}
}

func (f *fakeDedup) Key(provider, ref string) string { return provider + ":" + ref }

func (f *fakeDedup) Seen(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[key], nil
}

func (f *fakeDedup) Mark(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[key] = true
	return nil
}

func newTestHandler(ledger *fakeLedger, fanout *fakeFanout, dedup *fakeDedup) http.Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	var d Deduper
	if dedup != nil {
		d = dedup
	}
	return NewHandler(log, testSecret, ledger, fanout, d).Routes()
}

func post(t *testing.T, h http.Handler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("x-paystack-signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const chargeSuccessBody = `{
	"event": "charge.success",
	"data": {
		"id": 302998,
		"reference": "ref-1",
		"amount": 41500,
		"metadata": {"order_id": "order-1"}
	}
}`

func TestHandleWebhook_AppliesAndFansOut(t *testing.T) {
	payload := []byte(`{"order_id":"order-1"}`)
	ledger := &fakeLedger{result: application.ApplyResult{
		Outcome: application.OutcomeApplied,
		OrderID: "order-1",
		Event:   &domain.Event{ID: "evt-1", Type: domain.EventOrderPaid, Payload: payload},
	}}
	fanout := newFakeFanout()
	h := newTestHandler(ledger, fanout, newFakeDedup())

	rec := post(t, h, chargeSuccessBody, Sign([]byte(chargeSuccessBody), testSecret))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "applied")

	require.Equal(t, 1, ledger.callCount())
	assert.Equal(t, ledgerCall{op: "payment_success", orderID: "order-1", ref: "ref-1", amount: 41500}, ledger.calls[0])

	select {
	case ev := <-fanout.events:
		assert.Equal(t, domain.EventOrderPaid, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("fan-out was never invoked")
	}
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	ledger := &fakeLedger{}
	fanout := newFakeFanout()
	h := newTestHandler(ledger, fanout, nil)

	// tampered after signing
	sig := Sign([]byte(chargeSuccessBody), testSecret)
	tampered := strings.Replace(chargeSuccessBody, "41500", "99999", 1)

	rec := post(t, h, tampered, sig)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, ledger.callCount(), "no ledger call on rejected signature")
	assert.Empty(t, fanout.events)

	rec = post(t, h, chargeSuccessBody, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWebhook_MalformedPayload(t *testing.T) {
	ledger := &fakeLedger{}
	h := newTestHandler(ledger, newFakeFanout(), nil)

	body := `{"event": `
	rec := post(t, h, body, Sign([]byte(body), testSecret))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ledger.callCount())
}

func TestHandleWebhook_UnknownEventAcknowledged(t *testing.T) {
	ledger := &fakeLedger{}
	fanout := newFakeFanout()
	h := newTestHandler(ledger, fanout, nil)

	body := `{"event": "invoice.create", "data": {}}`
	rec := post(t, h, body, Sign([]byte(body), testSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
	assert.Zero(t, ledger.callCount(), "unknown events never reach the ledger")
	assert.Empty(t, fanout.events)
}

func TestHandleWebhook_LedgerFailureSurfacesAsProcessingError(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("storage unavailable")}
	fanout := newFakeFanout()
	h := newTestHandler(ledger, fanout, newFakeDedup())

	rec := post(t, h, chargeSuccessBody, Sign([]byte(chargeSuccessBody), testSecret))
	assert.Equal(t, http.StatusInternalServerError, rec.Code, "provider must re-deliver")
	assert.Empty(t, fanout.events, "no fan-out for an unapplied event")
}

func TestHandleWebhook_DuplicateSuppressedAtIntake(t *testing.T) {
	ledger := &fakeLedger{result: application.ApplyResult{
		Outcome: application.OutcomeApplied,
		Event:   &domain.Event{ID: "evt-1", Type: domain.EventOrderPaid},
	}}
	fanout := newFakeFanout()
	dedup := newFakeDedup()
	h := newTestHandler(ledger, fanout, dedup)

	sig := Sign([]byte(chargeSuccessBody), testSecret)

	rec := post(t, h, chargeSuccessBody, sig)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, ledger.callCount())
	<-fanout.events

	rec = post(t, h, chargeSuccessBody, sig)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "duplicate")
	assert.Equal(t, 1, ledger.callCount(), "second delivery short-circuits before the ledger")
}

func TestHandleWebhook_DedupNotMarkedOnLedgerFailure(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("storage unavailable")}
	dedup := newFakeDedup()
	h := newTestHandler(ledger, newFakeFanout(), dedup)

	sig := Sign([]byte(chargeSuccessBody), testSecret)

	rec := post(t, h, chargeSuccessBody, sig)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// the retry must reach the ledger again
	ledger.err = nil
	ledger.result = application.ApplyResult{Outcome: application.OutcomeApplied}
	rec = post(t, h, chargeSuccessBody, sig)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, ledger.callCount())
}

func TestHandleWebhook_TransferEvent(t *testing.T) {
	ledger := &fakeLedger{result: application.ApplyResult{
		Outcome: application.OutcomeApplied,
		Event:   &domain.Event{ID: "evt-2", Type: domain.EventPayoutCompleted},
	}}
	fanout := newFakeFanout()
	h := newTestHandler(ledger, fanout, nil)

	body := `{"event": "transfer.success", "data": {"reference": "tr-1", "amount": 6000, "metadata": {"store_id": "store1"}}}`
	rec := post(t, h, body, Sign([]byte(body), testSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, ledger.callCount())
	assert.Equal(t, "transfer_success", ledger.calls[0].op)

	select {
	case ev := <-fanout.events:
		assert.Equal(t, domain.EventPayoutCompleted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("fan-out was never invoked")
	}
}
