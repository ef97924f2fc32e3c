package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbd/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func lvl(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: dec(price), Size: dec(size)}
}

func newTestBook(mode types.BookStreamMode) *Book {
	inst := types.Instrument{Symbol: "BTC", TickSize: dec("0.5")}
	return New(types.RoleMaker, inst, mode)
}

func TestApplyFrameDeltaSetsAndRemoves(t *testing.T) {
	t.Parallel()
	b := newTestBook(types.StreamDelta)

	if err := b.ApplyFrame(types.BookFrame{
		Mode: types.StreamDelta,
		Bids: []types.PriceLevel{lvl("100", "1"), lvl("99", "2")},
		Asks: []types.PriceLevel{lvl("101", "1")},
	}); err != nil {
		t.Fatalf("ApplyFrame: %v", err)
	}

	bbo := b.BBO()
	if !bbo.Ready {
		t.Fatal("book should be ready once both sides are non-empty")
	}
	if !bbo.BestBid.Equal(dec("100")) || !bbo.BestAsk.Equal(dec("101")) {
		t.Fatalf("bbo = %+v, want bid=100 ask=101", bbo)
	}

	// Removing the best bid should fall back to the next level.
	if err := b.ApplyFrame(types.BookFrame{
		Mode: types.StreamDelta,
		Bids: []types.PriceLevel{lvl("100", "0")},
	}); err != nil {
		t.Fatalf("ApplyFrame: %v", err)
	}
	bbo = b.BBO()
	if !bbo.BestBid.Equal(dec("99")) {
		t.Fatalf("bestBid = %v, want 99 after removing top level", bbo.BestBid)
	}
}

func TestApplyFrameDeltaZeroOnAbsentIsNoOp(t *testing.T) {
	t.Parallel()
	b := newTestBook(types.StreamDelta)

	if err := b.ApplyFrame(types.BookFrame{
		Mode: types.StreamDelta,
		Bids: []types.PriceLevel{lvl("50", "0")},
	}); err != nil {
		t.Fatalf("ApplyFrame: %v", err)
	}
	bbo := b.BBO()
	if bbo.Ready {
		t.Fatal("book should not be ready: no levels were ever added")
	}
}

func TestApplyFrameSnapshotReplacesCoveredRange(t *testing.T) {
	t.Parallel()
	b := newTestBook(types.StreamSnapshot)

	if err := b.ApplyFrame(types.BookFrame{
		Mode: types.StreamSnapshot,
		Bids: []types.PriceLevel{lvl("100", "1"), lvl("99", "1"), lvl("98", "1")},
		Asks: []types.PriceLevel{lvl("101", "1"), lvl("102", "1")},
	}); err != nil {
		t.Fatalf("ApplyFrame: %v", err)
	}

	// Second snapshot covers only 100 on the bid side and 101 on the ask
	// side; 99/98 and 102 fall outside the covered range (the worst price in
	// this frame) and must survive, while the covered levels are replaced.
	if err := b.ApplyFrame(types.BookFrame{
		Mode: types.StreamSnapshot,
		Bids: []types.PriceLevel{lvl("100", "2")},
		Asks: []types.PriceLevel{lvl("101", "3")},
	}); err != nil {
		t.Fatalf("ApplyFrame: %v", err)
	}

	bbo := b.BBO()
	if !bbo.BestBid.Equal(dec("100")) {
		t.Fatalf("bestBid = %v, want 100", bbo.BestBid)
	}
	if !bbo.BestAsk.Equal(dec("101")) {
		t.Fatalf("bestAsk = %v, want 101", bbo.BestAsk)
	}
}

func TestApplyFrameInconsistentClearsReady(t *testing.T) {
	t.Parallel()
	b := newTestBook(types.StreamDelta)

	if err := b.ApplyFrame(types.BookFrame{
		Mode: types.StreamDelta,
		Bids: []types.PriceLevel{lvl("100", "1")},
		Asks: []types.PriceLevel{lvl("101", "1")},
	}); err != nil {
		t.Fatalf("ApplyFrame: %v", err)
	}

	// A crossed update (bid >= ask) must mark the book not-ready and signal a resync.
	err := b.ApplyFrame(types.BookFrame{
		Mode: types.StreamDelta,
		Bids: []types.PriceLevel{lvl("105", "1")},
	})
	if err == nil {
		t.Fatal("expected a stream-gap error for a crossed book")
	}
	if b.BBO().Ready {
		t.Fatal("book should not be ready after going crossed")
	}
}

func TestInvalidateClearsBook(t *testing.T) {
	t.Parallel()
	b := newTestBook(types.StreamDelta)

	_ = b.ApplyFrame(types.BookFrame{
		Mode: types.StreamDelta,
		Bids: []types.PriceLevel{lvl("100", "1")},
		Asks: []types.PriceLevel{lvl("101", "1")},
	})
	b.Invalidate()

	bbo := b.BBO()
	if bbo.Ready {
		t.Fatal("book should not be ready after Invalidate")
	}
	if !bbo.BestBid.IsZero() || !bbo.BestAsk.IsZero() {
		t.Fatalf("bbo = %+v, want zeroed after Invalidate", bbo)
	}
}

func TestSequenceGapInvalidatesResync(t *testing.T) {
	t.Parallel()
	b := newTestBook(types.StreamDelta)

	if err := b.ApplyFrame(types.BookFrame{
		Mode: types.StreamDelta, Sequence: 1,
		Bids: []types.PriceLevel{lvl("100", "1")},
		Asks: []types.PriceLevel{lvl("101", "1")},
	}); err != nil {
		t.Fatalf("ApplyFrame: %v", err)
	}

	err := b.ApplyFrame(types.BookFrame{
		Mode: types.StreamDelta, Sequence: 3,
		Bids: []types.PriceLevel{lvl("99", "1")},
	})
	if err == nil {
		t.Fatal("expected a stream-gap error for a missed sequence number")
	}
}

func TestLastUpdated(t *testing.T) {
	t.Parallel()
	b := newTestBook(types.StreamDelta)

	now := time.Now()
	if err := b.ApplyFrame(types.BookFrame{
		Mode: types.StreamDelta, Timestamp: now,
		Bids: []types.PriceLevel{lvl("100", "1")},
		Asks: []types.PriceLevel{lvl("101", "1")},
	}); err != nil {
		t.Fatalf("ApplyFrame: %v", err)
	}
	if !b.LastUpdated().Equal(now) {
		t.Fatalf("LastUpdated = %v, want %v", b.LastUpdated(), now)
	}
}
