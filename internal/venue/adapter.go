// adapter.go defines the Venue Adapter (C1) capability set and the
// concrete Adapter that composes a REST Client with a WS Supervisor to
// implement it for one venue (maker or taker).
package venue

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"arbd/internal/book"
	"arbd/pkg/types"
)

func secondsToDuration(s int) time.Duration {
	if s <= 0 {
		s = 60 // default T_hb per spec
	}
	return time.Duration(s) * time.Second
}

// VenueAdapter is the uniform capability set every venue provides, per the
// engine's Venue Adapter design: connect/subscribe are driven by Run, the
// remaining operations are synchronous REST calls.
type VenueAdapter interface {
	Run(ctx context.Context)
	Ready() bool
	BBO() types.BBO
	Instrument() types.Instrument
	OrderUpdates() <-chan types.OrderUpdate
	PlacePostOnly(ctx context.Context, side types.Side, qty, price decimal.Decimal, clientID string) (string, error)
	PlaceMarket(ctx context.Context, side types.Side, qty decimal.Decimal) (types.MarketFillReport, error)
	Cancel(ctx context.Context, orderID string) error
	GetPosition(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Adapter is the concrete VenueAdapter for one venue: a connection
// supervisor feeding a local book, plus a rate-limited, circuit-broken REST
// client for order operations. Adapters own only per-connection state —
// no strategy state lives here.
type Adapter struct {
	role       types.Role
	instrument types.Instrument
	client     *Client
	supervisor *Supervisor
}

// NewAdapter builds a venue adapter. instrument must already be resolved
// (e.g. via Client.InstrumentInfo at startup) since tick size is needed by
// the execution state machine before any order is placed.
func NewAdapter(role types.Role, instrument types.Instrument, wsURL, restBaseURL, apiKey string, mode types.BookStreamMode, subscribe func(*Supervisor), dryRun bool, heartbeatTimeout int, logger *slog.Logger) *Adapter {
	bk := book.New(role, instrument, mode)

	var parse FrameParser
	if role == types.RoleMaker {
		parse = ParseMakerFrame(mode)
	} else {
		parse = ParseTakerFrame(mode)
	}

	sup := NewSupervisor(role, wsURL, bk, parse, secondsToDuration(heartbeatTimeout), logger)
	if subscribe != nil {
		subscribe(sup)
	}

	return &Adapter{
		role:       role,
		instrument: instrument,
		client:     NewClient(restBaseURL, apiKey, dryRun, logger),
		supervisor: sup,
	}
}

func (a *Adapter) Run(ctx context.Context) { a.supervisor.Run(ctx) }
func (a *Adapter) Ready() bool             { return a.supervisor.Ready() }
func (a *Adapter) BBO() types.BBO          { return a.supervisor.Book().BBO() }
func (a *Adapter) Instrument() types.Instrument { return a.instrument }
func (a *Adapter) OrderUpdates() <-chan types.OrderUpdate { return a.supervisor.OrderUpdates() }

func (a *Adapter) PlacePostOnly(ctx context.Context, side types.Side, qty, price decimal.Decimal, clientID string) (string, error) {
	return a.client.PlacePostOnly(ctx, side, qty, price, clientID)
}

func (a *Adapter) PlaceMarket(ctx context.Context, side types.Side, qty decimal.Decimal) (types.MarketFillReport, error) {
	return a.client.PlaceMarket(ctx, side, qty)
}

func (a *Adapter) Cancel(ctx context.Context, orderID string) error {
	return a.client.Cancel(ctx, orderID)
}

func (a *Adapter) GetPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return a.client.GetPosition(ctx, symbol)
}
