package dispatch

import (
	"sync"

	"github.com/tmalatji/marketplace-settlement/internal/ledger/domain"
)

// Subscription is one automation endpoint. Read-only during dispatch; the
// registry hands out snapshots.
type Subscription struct {
	URL        string            `json:"url"`
	EventTypes []string          `json:"event_types"`
	Headers    map[string]string `json:"headers,omitempty"`
	MaxRetries int               `json:"max_retries,omitempty"`
}

func (s Subscription) Accepts(t domain.EventType) bool {
	for _, et := range s.EventTypes {
		if et == string(t) {
			return true
		}
	}
	return false
}

// Registry holds the process-wide subscription set, mutable at runtime.
// Dispatch reads a snapshot, so a concurrent Add or Remove never affects an
// in-flight fan-out.
type Registry struct {
	mu   sync.RWMutex
	subs []Subscription
}

func NewRegistry(initial ...Subscription) *Registry {
	r := &Registry{}
	for _, s := range initial {
		r.Add(s)
	}
	return r
}

// Add registers an endpoint, replacing any existing subscription with the
// same URL.
func (r *Registry) Add(s Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.subs {
		if r.subs[i].URL == s.URL {
			r.subs[i] = s
			return
		}
	}
	r.subs = append(r.subs, s)
}

func (r *Registry) Remove(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.subs {
		if r.subs[i].URL == url {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) Snapshot() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscription, len(r.subs))
	copy(out, r.subs)
	return out
}

// Matching returns the subscriptions that accept the given event type.
func (r *Registry) Matching(t domain.EventType) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Subscription
	for _, s := range r.subs {
		if s.Accepts(t) {
			out = append(out, s)
		}
	}
	return out
}
