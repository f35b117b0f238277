package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/store"
)

// Refresher serializes refresh rotations so that a burst of concurrent
// requests holding the same expired access token triggers exactly one
// upstream Rotate. Without it, two requests from the same client racing
// after expiry would both present the same link; the loser would trip the
// reuse detector and needlessly burn a valid chain.
//
// Callers are keyed by the presented token's hash, which identifies a single
// chain link. Callers racing on one link share the in-flight rotation, and
// because singleflight forgets a key the moment its flight resolves, the
// resolved outcome is also held for a short grace window: a retry of the
// same token that lands just after resolution is served the memoized pair
// instead of re-executing against the now-consumed link. Only a token
// presented outside the window is treated as genuine replay. Rotations for
// different chains proceed fully in parallel.
type Refresher struct {
	authority *Authority
	group     singleflight.Group
	timeout   time.Duration
	grace     time.Duration

	mu     sync.Mutex
	recent map[string]flightResult
}

// flightResult is a resolved rotation held for the grace window.
type flightResult struct {
	pair *model.TokenPair
	err  error
	at   time.Time
}

// NewRefresher wraps an Authority with single-flight rotation. timeout bounds
// each rotation independently of any caller's request context; grace is how
// long a resolved rotation keeps answering retries of the same token before
// re-presentation counts as replay. A grace of zero disables memoization.
func NewRefresher(authority *Authority, timeout, grace time.Duration) *Refresher {
	return &Refresher{
		authority: authority,
		timeout:   timeout,
		grace:     grace,
		recent:    make(map[string]flightResult),
	}
}

// Rotate performs a shared rotation for the given refresh token. The first
// caller for a link executes Authority.Rotate; every caller arriving before
// it resolves is parked on the same flight, and callers arriving within the
// grace window after resolution receive the memoized outcome. All of them
// observe the identical pair or the identical failure.
//
// The rotation runs under its own timeout, detached from the initiating
// caller's context, so one caller disconnecting cannot fail the flight for
// everyone parked on it.
func (r *Refresher) Rotate(ctx context.Context, rawRefresh string) (*model.TokenPair, error) {
	key := store.HashSecret(rawRefresh)

	if res, ok := r.recall(key); ok {
		return res.pair, res.err
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a caller that missed the memo before
		// the previous flight resolved must not rotate the consumed link.
		if res, ok := r.recall(key); ok {
			return res.pair, res.err
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		pair, err := r.authority.Rotate(rctx, rawRefresh)
		r.remember(key, pair, err)
		if err != nil {
			return nil, err
		}
		return pair, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.TokenPair), nil
}

// recall returns the memoized outcome for a token hash if its flight resolved
// within the grace window.
func (r *Refresher) recall(key string) (flightResult, bool) {
	if r.grace <= 0 {
		return flightResult{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.recent[key]
	if !ok || time.Since(res.at) > r.grace {
		return flightResult{}, false
	}
	return res, true
}

// remember records a resolved rotation. Context failures are not memoized;
// they say nothing about the link's state, and a retry should re-execute.
// Expired entries are pruned on each write so the map stays bounded by the
// rotation rate within one window.
func (r *Refresher) remember(key string, pair *model.TokenPair, err error) {
	if r.grace <= 0 {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, res := range r.recent {
		if now.Sub(res.at) > r.grace {
			delete(r.recent, k)
		}
	}
	r.recent[key] = flightResult{pair: pair, err: err, at: now}
}
