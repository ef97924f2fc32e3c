// Package position implements the Position Tracker (C6): authoritative
// per-venue signed inventory, mutated either by confirmed fill deltas or by
// an authoritative re-query that overwrites the local value, plus the
// delta-neutral safety invariant check.
package position

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"arbd/pkg/types"
)

// Tracker holds (maker_pos, taker_pos) and the bookkeeping needed to apply
// each confirmed fill exactly once.
type Tracker struct {
	mu sync.Mutex

	maker decimal.Decimal
	taker decimal.Decimal

	// lastFilled records the cumulative filled_size last applied for a
	// given venue order id, so a repeated OrderUpdate with the same
	// cumulative fill is a no-op rather than double-counted.
	lastFilled map[string]decimal.Decimal

	epsilon decimal.Decimal
	logger  *slog.Logger
}

// New creates a tracker with both venue positions at zero.
func New(epsilon decimal.Decimal, logger *slog.Logger) *Tracker {
	return &Tracker{
		maker:      decimal.Zero,
		taker:      decimal.Zero,
		lastFilled: make(map[string]decimal.Decimal),
		epsilon:    epsilon,
		logger:     logger.With("component", "position"),
	}
}

// ApplyFill applies the incremental quantity implied by an OrderUpdate's
// cumulative filled_size, for the given venue role. Safe to call
// repeatedly with the same cumulative value — only the new increment (if
// any) is applied, satisfying "exactly once per fill."
func (t *Tracker) ApplyFill(role types.Role, update types.OrderUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.lastFilled[update.VenueOrderID]
	if !ok {
		prev = decimal.Zero
	}
	delta := update.FilledSize.Sub(prev)
	if !delta.IsPositive() {
		return
	}
	t.lastFilled[update.VenueOrderID] = update.FilledSize

	signed := delta
	if update.Side == types.Sell {
		signed = delta.Neg()
	}

	if role == types.RoleMaker {
		t.maker = t.maker.Add(signed)
	} else {
		t.taker = t.taker.Add(signed)
	}
}

// Requery overwrites the local position for role with an authoritative
// value from the venue. A discrepancy beyond epsilon is logged — a
// persistent discrepancy is a bug signal, not merely network noise.
func (t *Tracker) Requery(role types.Role, authoritative decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var current decimal.Decimal
	if role == types.RoleMaker {
		current = t.maker
	} else {
		current = t.taker
	}

	diff := authoritative.Sub(current).Abs()
	if diff.GreaterThan(t.epsilon) {
		t.logger.Warn("position discrepancy on requery",
			"venue", role, "local", current, "authoritative", authoritative, "diff", diff)
	}

	if role == types.RoleMaker {
		t.maker = authoritative
	} else {
		t.taker = authoritative
	}
}

// Position returns the current cached position for role.
func (t *Tracker) Position(role types.Role) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	if role == types.RoleMaker {
		return t.maker
	}
	return t.taker
}

// Net returns maker_position + taker_position.
func (t *Tracker) Net() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maker.Add(t.taker)
}

// IsOverCap reports whether the maker venue's position has reached the
// given cap in the direction of side: >= cap for a long cap check (Buy),
// <= -cap for a short cap check (Sell).
func (t *Tracker) IsOverCap(side types.Side, cap decimal.Decimal) bool {
	pos := t.Position(types.RoleMaker)
	if side == types.Buy {
		return pos.GreaterThanOrEqual(cap)
	}
	return pos.LessThanOrEqual(cap.Neg())
}

// SafetyViolated reports whether |net| > 2*orderQty, the engine's hard
// safety bound, per spec.
func (t *Tracker) SafetyViolated(orderQty decimal.Decimal) bool {
	net := t.Net().Abs()
	return net.GreaterThan(orderQty.Mul(decimal.NewFromInt(2)))
}
