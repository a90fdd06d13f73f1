package webhook

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter() *Router {
	return NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRoute_ChargeSuccess(t *testing.T) {
	raw := []byte(`{
		"event": "charge.success",
		"data": {
			"id": 302998,
			"reference": "T685312322670591",
			"amount": 41500,
			"metadata": {"order_id": "order-1"}
		}
	}`)

	routed, err := newTestRouter().Route(raw)
	require.NoError(t, err)

	ev, ok := routed.(PaymentSuccess)
	require.True(t, ok)
	assert.Equal(t, "order-1", ev.OrderID)
	assert.Equal(t, "302998", ev.ProviderTxnID)
	assert.Equal(t, "T685312322670591", ev.Reference)
	assert.Equal(t, int64(41500), ev.AmountCents)
}

func TestRoute_ChargeFailed(t *testing.T) {
	raw := []byte(`{
		"event": "charge.failed",
		"data": {
			"reference": "T1",
			"gateway_response": "Insufficient funds",
			"metadata": {"order_id": "order-1"}
		}
	}`)

	routed, err := newTestRouter().Route(raw)
	require.NoError(t, err)

	ev, ok := routed.(PaymentFailure)
	require.True(t, ok)
	assert.Equal(t, "order-1", ev.OrderID)
	assert.Equal(t, "Insufficient funds", ev.Reason)
}

func TestRoute_TransferEvents(t *testing.T) {
	success, err := newTestRouter().Route([]byte(`{
		"event": "transfer.success",
		"data": {"reference": "tr-1", "amount": 6000, "metadata": {"store_id": "store1"}}
	}`))
	require.NoError(t, err)
	ts, ok := success.(TransferSuccess)
	require.True(t, ok)
	assert.Equal(t, "tr-1", ts.Reference)
	assert.Equal(t, "store1", ts.StoreID)
	assert.Equal(t, int64(6000), ts.AmountCents)

	failure, err := newTestRouter().Route([]byte(`{
		"event": "transfer.failed",
		"data": {"reference": "tr-2", "amount": 6000, "gateway_response": "account closed"}
	}`))
	require.NoError(t, err)
	tf, ok := failure.(TransferFailure)
	require.True(t, ok)
	assert.Equal(t, "account closed", tf.Reason)
}

func TestRoute_UnknownEventTypeIsNotAnError(t *testing.T) {
	routed, err := newTestRouter().Route([]byte(`{"event": "subscription.create", "data": {}}`))
	require.NoError(t, err)

	un, ok := routed.(Unhandled)
	require.True(t, ok)
	assert.Equal(t, "subscription.create", un.EventType)
}

func TestRoute_Malformed(t *testing.T) {
	for _, raw := range []string{
		`{not json`,
		`{"data": {}}`,
		``,
	} {
		_, err := newTestRouter().Route([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedPayload, "payload: %s", raw)
	}
}
