package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tmalatji/marketplace-settlement/internal/ledger/domain"
	"github.com/tmalatji/marketplace-settlement/internal/metrics"
)

const defaultMaxRetries = 3

// Transport delivers one payload to one endpoint. Implementations must
// honour the context deadline.
type Transport interface {
	Post(ctx context.Context, url string, headers map[string]string, body []byte) (int, error)
}

type HTTPTransport struct {
	client *http.Client
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) Post(ctx context.Context, url string, headers map[string]string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// DeliveryResult is the settled outcome for one endpoint.
type DeliveryResult struct {
	URL       string
	Attempts  int
	Delivered bool
	Err       error
}

// Dispatcher fans a business event out to every matching subscription.
// Endpoints are independent: one endpoint exhausting its retries never
// blocks or fails another, and nothing here reaches back into the ledger.
type Dispatcher struct {
	log        *slog.Logger
	registry   *Registry
	transport  Transport
	baseDelay  time.Duration
	delayCeil  time.Duration
	perAttempt time.Duration
}

func NewDispatcher(log *slog.Logger, registry *Registry, transport Transport) *Dispatcher {
	return &Dispatcher{
		log:        log,
		registry:   registry,
		transport:  transport,
		baseDelay:  time.Second,
		delayCeil:  30 * time.Second,
		perAttempt: 15 * time.Second,
	}
}

// Fanout delivers the event to all matching endpoints concurrently and
// returns once every delivery has settled.
func (d *Dispatcher) Fanout(ctx context.Context, event domain.Event) []DeliveryResult {
	subs := d.registry.Matching(event.Type)
	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		d.log.Error("event marshal failed", "event_id", event.ID, "err", err)
		return nil
	}

	start := time.Now()
	results := make([]DeliveryResult, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub Subscription) {
			defer wg.Done()
			results[i] = d.deliver(ctx, sub, body)
		}(i, sub)
	}
	wg.Wait()
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())

	for _, res := range results {
		if res.Delivered {
			metrics.DispatchDeliveriesTotal.WithLabelValues("delivered").Inc()
			continue
		}
		metrics.DispatchDeliveriesTotal.WithLabelValues("exhausted").Inc()
		d.log.Error("delivery exhausted",
			"event_id", event.ID, "event_type", event.Type, "url", res.URL, "attempts", res.Attempts, "err", res.Err)
	}
	return results
}

func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, body []byte) DeliveryResult {
	maxRetries := sub.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	res := DeliveryResult{URL: sub.URL}
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.backoff(attempt - 1)):
			case <-ctx.Done():
				res.Err = ctx.Err()
				return res
			}
		}
		res.Attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, d.perAttempt)
		status, err := d.transport.Post(attemptCtx, sub.URL, sub.Headers, body)
		cancel()

		if err == nil && status >= 200 && status < 300 {
			res.Delivered = true
			res.Err = nil
			return res
		}
		if err != nil {
			res.Err = err
		} else {
			res.Err = fmt.Errorf("endpoint returned status %d", status)
		}
	}
	return res
}

// backoff doubles the base delay per attempt, capped at the ceiling.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := d.baseDelay << attempt
	if delay > d.delayCeil || delay <= 0 {
		delay = d.delayCeil
	}
	return delay
}
