// Package book implements the Order Book Maintainer: a per-venue local
// mirror of bids/asks fed by snapshot or delta frames, exposing an
// atomically-read best-bid/best-ask pair.
package book

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbd/internal/errs"
	"arbd/pkg/types"
)

// Book maintains two price->size maps for one venue's instrument. State is
// guarded by a single writer (ApplyFrame) and read by multiple concurrent
// readers (the coordinator, the logger) through BBO, which only takes the
// read lock — full map iteration never happens on that path.
type Book struct {
	mu sync.RWMutex

	venue      types.Role
	instrument types.Instrument
	mode       types.BookStreamMode

	bids map[string]decimal.Decimal // keyed by Price.String()
	asks map[string]decimal.Decimal

	bestBid decimal.Decimal
	bestAsk decimal.Decimal
	ready   bool

	lastSequence int64
	updatedAt    time.Time
}

// New creates an empty, not-ready book for one venue/instrument pair.
func New(venue types.Role, instrument types.Instrument, mode types.BookStreamMode) *Book {
	return &Book{
		venue:      venue,
		instrument: instrument,
		mode:       mode,
		bids:       make(map[string]decimal.Decimal),
		asks:       make(map[string]decimal.Decimal),
	}
}

// Invalidate clears the book and drops the ready flag. Called by the
// Connection Supervisor on reconnect, heartbeat timeout, or sequence gap.
func (b *Book) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = make(map[string]decimal.Decimal)
	b.asks = make(map[string]decimal.Decimal)
	b.bestBid = decimal.Zero
	b.bestAsk = decimal.Zero
	b.ready = false
	b.lastSequence = 0
}

// ApplyFrame applies a snapshot or delta frame, per the frame's Mode (which
// the venue parsers set from the configured stream mode). Returns errs.KindStreamGap if the frame's sequence number indicates
// a missed update; the caller (the supervisor) must then Invalidate and
// resync.
func (b *Book) ApplyFrame(frame types.BookFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if frame.Sequence != 0 && b.lastSequence != 0 && frame.Sequence != b.lastSequence+1 {
		return errs.New(errs.KindStreamGap, nil)
	}
	if frame.Sequence != 0 {
		b.lastSequence = frame.Sequence
	}

	switch frame.Mode {
	case types.StreamSnapshot:
		b.applySnapshot(frame)
	default:
		b.applyDelta(frame.Bids, b.bids)
		b.applyDelta(frame.Asks, b.asks)
	}

	b.recomputeBBO()
	b.updatedAt = frame.Timestamp

	if b.bestBid.GreaterThanOrEqual(b.bestAsk) && !b.bestBid.IsZero() && !b.bestAsk.IsZero() {
		b.ready = false
		return errs.New(errs.KindStreamGap, nil)
	}
	if !b.ready && len(b.bids) > 0 && len(b.asks) > 0 {
		b.ready = true
	}
	return nil
}

// applyDelta sets (size>0) or removes (size=0) each level in place.
func (b *Book) applyDelta(levels []types.PriceLevel, side map[string]decimal.Decimal) {
	for _, lvl := range levels {
		key := lvl.Price.String()
		if lvl.Size.IsZero() {
			delete(side, key)
			continue
		}
		side[key] = lvl.Size
	}
}

// applySnapshot replaces the top-N range covered by the frame: any existing
// level at or within the worst price the frame carries, that the frame does
// not re-send, is dropped; levels the frame does carry are set (or removed,
// for size=0). Levels deeper than the frame's worst price are left
// untouched — the book keeps depth beyond N, per the snapshot contract.
func (b *Book) applySnapshot(frame types.BookFrame) {
	if len(frame.Bids) > 0 {
		worst := frame.Bids[0].Price
		for _, lvl := range frame.Bids {
			if lvl.Price.LessThan(worst) {
				worst = lvl.Price
			}
		}
		for key := range b.bids {
			p, err := decimal.NewFromString(key)
			if err != nil {
				continue
			}
			if p.GreaterThanOrEqual(worst) {
				delete(b.bids, key)
			}
		}
		b.applyDelta(frame.Bids, b.bids)
	}
	if len(frame.Asks) > 0 {
		worst := frame.Asks[0].Price
		for _, lvl := range frame.Asks {
			if lvl.Price.GreaterThan(worst) {
				worst = lvl.Price
			}
		}
		for key := range b.asks {
			p, err := decimal.NewFromString(key)
			if err != nil {
				continue
			}
			if p.LessThanOrEqual(worst) {
				delete(b.asks, key)
			}
		}
		b.applyDelta(frame.Asks, b.asks)
	}
}

func (b *Book) recomputeBBO() {
	var bestBid decimal.Decimal
	hasBid := false
	for key := range b.bids {
		p, err := decimal.NewFromString(key)
		if err != nil {
			continue
		}
		if !hasBid || p.GreaterThan(bestBid) {
			bestBid = p
			hasBid = true
		}
	}
	if hasBid {
		b.bestBid = bestBid
	} else {
		b.bestBid = decimal.Zero
	}

	var bestAsk decimal.Decimal
	hasAsk := false
	for key := range b.asks {
		p, err := decimal.NewFromString(key)
		if err != nil {
			continue
		}
		if !hasAsk || p.LessThan(bestAsk) {
			bestAsk = p
			hasAsk = true
		}
	}
	if hasAsk {
		b.bestAsk = bestAsk
	} else {
		b.bestAsk = decimal.Zero
	}
}

// BBO returns an atomic snapshot of the current best bid/ask and readiness.
func (b *Book) BBO() types.BBO {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return types.BBO{
		BestBid: b.bestBid,
		BestAsk: b.bestAsk,
		Ready:   b.ready,
	}
}

// LastUpdated reports when the book last applied a frame, for staleness checks.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// Instrument returns the book's instrument metadata.
func (b *Book) Instrument() types.Instrument {
	return b.instrument
}
