// Package execution implements the Execution State Machine (C7): the
// post-only maker placement, fill wait, cancel-and-hedge, and market-order
// hedge orchestration that turns one fired signal into a delta-neutral pair
// of fills (or a clean abort back to Idle).
package execution

import (
	"context"
	"sync"

	"arbd/pkg/types"
)

// UpdateRouter demultiplexes one venue's OrderUpdates stream to whichever
// in-flight attempt is waiting on a given order. A fill event can arrive
// before PlacePostOnly's REST acknowledgement returns the venue order id,
// so a waiter registers by client id first; once the ack returns the venue
// order id, Alias lets subsequent updates keyed only by venue order id
// reach the same waiter.
type UpdateRouter struct {
	mu       sync.Mutex
	buffered map[string][]types.OrderUpdate
	waiters  map[string]chan types.OrderUpdate
}

// NewUpdateRouter creates an empty router.
func NewUpdateRouter() *UpdateRouter {
	return &UpdateRouter{
		buffered: make(map[string][]types.OrderUpdate),
		waiters:  make(map[string]chan types.OrderUpdate),
	}
}

// Run consumes src until it closes or ctx is canceled, dispatching each
// update to its registered waiter (or buffering it if none is registered
// yet).
func (r *UpdateRouter) Run(ctx context.Context, src <-chan types.OrderUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-src:
			if !ok {
				return
			}
			r.dispatch(u)
		}
	}
}

func (r *UpdateRouter) dispatch(u types.OrderUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := u.ClientID
	if key == "" {
		key = u.VenueOrderID
	}
	if ch, ok := r.waiters[key]; ok {
		select {
		case ch <- u:
		default:
		}
		return
	}
	r.buffered[key] = append(r.buffered[key], u)
}

// Register opens a waiter for key and flushes anything already buffered
// under it. Callers must register before placing the order that key
// identifies, to close the race against an update arriving first.
// Idempotent: a second Register for a key that is already waited on
// (typically via a prior Alias) returns the same channel rather than
// replacing it, so no update delivered to it is lost.
func (r *UpdateRouter) Register(key string) <-chan types.OrderUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.waiters[key]
	if !ok {
		ch = make(chan types.OrderUpdate, 8)
		r.waiters[key] = ch
	}
	if buf, ok := r.buffered[key]; ok {
		for _, u := range buf {
			select {
			case ch <- u:
			default:
			}
		}
		delete(r.buffered, key)
	}
	return ch
}

// Alias makes alias resolve to the same waiter as key, and flushes any
// updates already buffered under alias into it. Used once a REST
// acknowledgement reveals the venue order id for an order registered by
// client id.
func (r *UpdateRouter) Alias(alias, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.waiters[key]
	if !ok || alias == "" || alias == key {
		return
	}
	r.waiters[alias] = ch
	if buf, ok := r.buffered[alias]; ok {
		for _, u := range buf {
			select {
			case ch <- u:
			default:
			}
		}
		delete(r.buffered, alias)
	}
}

// Unregister removes all waiter entries for the given keys, releasing the
// channel once an attempt has reached a terminal state.
func (r *UpdateRouter) Unregister(keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		if k != "" {
			delete(r.waiters, k)
		}
	}
}
