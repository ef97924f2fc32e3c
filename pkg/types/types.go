// Package types defines the shared vocabulary used across all packages of
// the arbitrage engine — instruments, sides, order status, book levels, and
// the normalized wire shapes each venue adapter produces. It has no
// dependencies on internal packages so any layer can import it.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side, used when sizing the hedge leg.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus is the normalized lifecycle state of a working order, common
// across venues regardless of each venue's own status vocabulary.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status ends the order's lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	default:
		return false
	}
}

// BookStreamMode declares how a venue's book subscription delivers updates.
// The maker/taker pairing in the original source mixed both styles on the
// same venue across variants; this module keeps the mode an explicit,
// per-venue configuration value rather than inferring it from traffic.
type BookStreamMode string

const (
	StreamSnapshot BookStreamMode = "snapshot"
	StreamDelta    BookStreamMode = "delta"
)

// Role identifies which half of the pair a venue plays.
type Role string

const (
	RoleMaker Role = "maker"
	RoleTaker Role = "taker"
)

// Instrument is immutable per (venue, symbol): the tick size and minimum
// order size a venue enforces for a symbol.
type Instrument struct {
	Symbol       string
	ContractID   string
	TickSize     decimal.Decimal
	MinOrderSize decimal.Decimal
}

// RoundToTick rounds price toward the book: down for a buy (so the bid
// never overstates what we're willing to pay), up for a sell.
func (i Instrument) RoundToTick(price decimal.Decimal, side Side) decimal.Decimal {
	if i.TickSize.IsZero() {
		return price
	}
	units := price.Div(i.TickSize)
	if side == Buy {
		units = units.Floor()
	} else {
		units = units.Ceil()
	}
	return units.Mul(i.TickSize)
}

// PriceLevel is a single resting level: price and size, both non-negative.
// A zero size is never stored; it is the removal signal on wire updates.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BBO is an atomic snapshot of best-bid/best-ask for one venue's book,
// together with the readiness flag the coordinator must check before
// sampling a signal from it.
type BBO struct {
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
	Ready   bool
}

// Mid returns the midpoint price. Callers must check Ready first.
func (b BBO) Mid() decimal.Decimal {
	return b.BestBid.Add(b.BestAsk).Div(decimal.NewFromInt(2))
}

// WorkingOrder is the Execution State Machine's private record of an order
// it placed, from dispatch through terminal status.
type WorkingOrder struct {
	Venue       Role
	Side        Side
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	ClientID    string
	VenueID     string
	Status      OrderStatus
	FilledSize  decimal.Decimal
	CreatedAt   time.Time
}

// OrderUpdate is the venue-agnostic shape every adapter normalizes its
// order-lifecycle events into, per spec §6:
// {venue_order_id, client_id, status, side, price, filled_size, remaining_size, instrument}.
type OrderUpdate struct {
	VenueOrderID  string          `json:"venue_order_id"`
	ClientID      string          `json:"client_id"`
	Status        OrderStatus     `json:"status"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	FilledSize    decimal.Decimal `json:"filled_size"`
	RemainingSize decimal.Decimal `json:"remaining_size"`
	Instrument    string          `json:"instrument"`
	ReceivedAt    time.Time       `json:"-"`
}

// ThresholdPair is the current dynamic (long, short) threshold, read
// atomically by the coordinator so it always sees a consistent pair.
type ThresholdPair struct {
	Long  decimal.Decimal
	Short decimal.Decimal
}

// MarketFillReport is emitted by a venue adapter after a market order is
// placed on the taker venue — it reflects the terminal fill synchronously.
type MarketFillReport struct {
	VenueOrderID     string
	AverageFillPrice decimal.Decimal
	FilledQuantity   decimal.Decimal
}

// BookFrame is the venue-agnostic shape the Order Book Maintainer consumes,
// after each venue adapter has parsed its own wire format. Bids and Asks are
// either the top-of-book snapshot levels or a set of deltas, dispatched on
// Mode.
type BookFrame struct {
	Mode      BookStreamMode
	Sequence  int64 // 0 when the venue does not provide sequence numbers
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}
