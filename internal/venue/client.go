// client.go implements the REST half of the Venue Adapter (C1): placing
// post-only and market orders, cancelling, and querying authoritative
// position, each rate-limited per operation class and wrapped in a circuit
// breaker so a venue outage stops being hammered with retries.
package venue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"arbd/internal/errs"
	"arbd/pkg/types"
)

// Client is the REST transport for one venue. It is deliberately generic:
// the exact venue wire contract is an external-collaborator concern (spec
// scopes venue-specific REST adapters out of this module); this client
// implements the uniform operation set against configurable endpoints.
type Client struct {
	rc      *resty.Client
	limiter *RateLimiter
	breaker *gobreaker.CircuitBreaker[*resty.Response]
	dryRun  bool
	logger  *slog.Logger
}

// NewClient builds a REST client for baseURL, authenticated with apiKey.
func NewClient(baseURL, apiKey string, dryRun bool, logger *slog.Logger) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	if apiKey != "" {
		rc.SetHeader("Authorization", "Bearer "+apiKey)
	}

	breakerSettings := gobreaker.Settings{
		Name:        "venue-rest",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Client{
		rc:      rc,
		limiter: NewRateLimiter(),
		breaker: gobreaker.NewCircuitBreaker[*resty.Response](breakerSettings),
		dryRun:  dryRun,
		logger:  logger.With("component", "venue-rest"),
	}
}

type placeOrderRequest struct {
	Side     types.Side `json:"side"`
	Quantity string     `json:"quantity"`
	Price    string     `json:"price,omitempty"`
	PostOnly bool       `json:"post_only"`
	Market   bool       `json:"market"`
	ClientID string     `json:"client_id,omitempty"`
}

type placeOrderResponse struct {
	OrderID          string `json:"order_id"`
	Rejected         bool   `json:"rejected"`
	RejectReason     string `json:"reject_reason"`
	AverageFillPrice string `json:"average_fill_price"`
	FilledQuantity   string `json:"filled_quantity"`
}

// PlacePostOnly places a post-only resting order tagged with clientID, so
// the caller can correlate an order-update event that arrives over the WS
// stream before this call returns its venue order id. Returns the venue
// order id on acknowledgement; the venue rejects (not retries) if the
// order would cross.
func (c *Client) PlacePostOnly(ctx context.Context, side types.Side, qty, price decimal.Decimal, clientID string) (string, error) {
	if err := c.limiter.Order.Wait(ctx); err != nil {
		return "", err
	}
	if c.dryRun {
		return fmt.Sprintf("dryrun-%d", time.Now().UnixNano()), nil
	}

	var out placeOrderResponse
	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		return c.rc.R().
			SetContext(ctx).
			SetBody(placeOrderRequest{Side: side, Quantity: qty.String(), Price: price.String(), PostOnly: true, ClientID: clientID}).
			SetResult(&out).
			Post("/orders")
	})
	if err != nil {
		return "", errs.New(errs.KindTransientNetwork, err)
	}
	if resp.IsError() || out.Rejected {
		return "", errs.New(errs.KindOrderRejected, fmt.Errorf("%s", out.RejectReason))
	}
	return out.OrderID, nil
}

// PlaceMarket places an immediate market order on the taker venue and
// returns its synchronous terminal fill.
func (c *Client) PlaceMarket(ctx context.Context, side types.Side, qty decimal.Decimal) (types.MarketFillReport, error) {
	if err := c.limiter.Order.Wait(ctx); err != nil {
		return types.MarketFillReport{}, err
	}
	if c.dryRun {
		return types.MarketFillReport{VenueOrderID: fmt.Sprintf("dryrun-%d", time.Now().UnixNano()), FilledQuantity: qty}, nil
	}

	var out placeOrderResponse
	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		return c.rc.R().
			SetContext(ctx).
			SetBody(placeOrderRequest{Side: side, Quantity: qty.String(), Market: true}).
			SetResult(&out).
			Post("/orders")
	})
	if err != nil {
		return types.MarketFillReport{}, errs.New(errs.KindTransientNetwork, err)
	}
	if resp.IsError() || out.Rejected {
		return types.MarketFillReport{}, errs.New(errs.KindOrderRejected, fmt.Errorf("%s", out.RejectReason))
	}

	avg, _ := decimal.NewFromString(out.AverageFillPrice)
	filled, _ := decimal.NewFromString(out.FilledQuantity)
	return types.MarketFillReport{
		VenueOrderID:     out.OrderID,
		AverageFillPrice: avg,
		FilledQuantity:   filled,
	}, nil
}

// Cancel cancels a resting order. Idempotent: an already-terminal order is
// reported as success by the venue and this client reclassifies a 404 the
// same way.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	if err := c.limiter.Cancel.Wait(ctx); err != nil {
		return err
	}
	if c.dryRun {
		return nil
	}

	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		return c.rc.R().SetContext(ctx).Delete("/orders/" + orderID)
	})
	if err != nil {
		return errs.New(errs.KindTransientNetwork, err)
	}
	if resp.StatusCode() == 404 {
		return nil // already terminal: reclassify as success
	}
	if resp.IsError() {
		return errs.New(errs.KindCancelFailed, fmt.Errorf("status %d", resp.StatusCode()))
	}
	return nil
}

type positionResponse struct {
	Position string `json:"position"`
}

// GetPosition queries the venue's authoritative signed position for symbol.
func (c *Client) GetPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.limiter.PositionQuery.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	var out positionResponse
	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		return c.rc.R().SetContext(ctx).SetResult(&out).Get("/positions/" + symbol)
	})
	if err != nil {
		return decimal.Zero, errs.New(errs.KindPositionQueryFailed, err)
	}
	if resp.IsError() {
		return decimal.Zero, errs.New(errs.KindPositionQueryFailed, fmt.Errorf("status %d", resp.StatusCode()))
	}
	pos, err := decimal.NewFromString(out.Position)
	if err != nil {
		return decimal.Zero, errs.New(errs.KindPositionQueryFailed, err)
	}
	return pos, nil
}

type instrumentResponse struct {
	ContractID   string `json:"contract_id"`
	TickSize     string `json:"tick_size"`
	MinOrderSize string `json:"min_order_size"`
}

// InstrumentInfo fetches the tick size and minimum order size for symbol.
func (c *Client) InstrumentInfo(ctx context.Context, symbol string) (types.Instrument, error) {
	var out instrumentResponse
	resp, err := c.rc.R().SetContext(ctx).SetResult(&out).Get("/instruments/" + symbol)
	if err != nil {
		return types.Instrument{}, errs.New(errs.KindTransientNetwork, err)
	}
	if resp.StatusCode() == 404 {
		return types.Instrument{}, errs.ErrUnknownSymbol
	}
	if resp.IsError() {
		return types.Instrument{}, errs.New(errs.KindTransientNetwork, fmt.Errorf("status %d", resp.StatusCode()))
	}
	tick, err := decimal.NewFromString(out.TickSize)
	if err != nil {
		return types.Instrument{}, fmt.Errorf("parse tick_size: %w", err)
	}
	minSize, err := decimal.NewFromString(out.MinOrderSize)
	if err != nil {
		return types.Instrument{}, fmt.Errorf("parse min_order_size: %w", err)
	}
	return types.Instrument{
		Symbol:       symbol,
		ContractID:   out.ContractID,
		TickSize:     tick,
		MinOrderSize: minSize,
	}, nil
}
