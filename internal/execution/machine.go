package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"arbd/internal/errs"
	"arbd/internal/position"
	"arbd/internal/venue"
	"arbd/pkg/types"
)

// ErrAlreadyInFlight is returned by Execute when an attempt is already
// running — the machine is single-flight, one attempt per call to
// completion or abort.
var ErrAlreadyInFlight = errors.New("execution attempt already in flight")

// ErrEmergencyStop is returned when a position requery finds the
// delta-neutral safety invariant broken. The caller must stop the engine;
// the machine does not attempt to recover from this state on its own.
var ErrEmergencyStop = errors.New("safety invariant violated: emergency stop")

// Alerter delivers a priority notification out of band. Priority follows
// the sink's own scale; 0 is informational, higher values escalate.
type Alerter interface {
	Alert(priority int, title, message string)
}

// TradeRecorder observes confirmed fills for external logging. Either leg
// may call it; implementations must be safe for concurrent use.
type TradeRecorder interface {
	RecordFill(role types.Role, side types.Side, price, qty decimal.Decimal)
}

// Config tunes the state machine's timeouts and sizing.
type Config struct {
	OrderQuantity        decimal.Decimal
	MaxPosition          decimal.Decimal
	FillWait             time.Duration // T_cancel: resting time before cancel
	TotalAttemptTimeout  time.Duration // full Idle->Idle budget; defaults to 180s
	PositionQueryTimeout time.Duration // per-venue position query budget
	AckTimeout           time.Duration // place/cancel REST ack budget
	CancelDrainWait      time.Duration // window after cancel ack to catch a racing fill; defaults to 2s
}

type state string

const (
	stateRefreshPositions state = "refresh_positions"
	statePlaceMaker       state = "place_maker"
	stateWaitFill         state = "wait_fill"
	stateCancelMaker      state = "cancel_maker"
	stateHedgeTaker       state = "hedge_taker"
	stateEmergencyStop    state = "emergency_stop"
	stateIdle             state = "idle"
)

// Machine is the Execution State Machine for one symbol pair. It owns no
// signal logic — the coordinator decides when to fire a side; the machine
// only carries one attempt from RefreshPositions through to Idle (or a
// fatal EmergencyStop).
type Machine struct {
	symbol string
	maker  venue.VenueAdapter
	taker  venue.VenueAdapter

	positions *position.Tracker
	router    *UpdateRouter
	alerter   Alerter
	recorder  TradeRecorder

	cfg    Config
	logger *slog.Logger

	inFlight  atomic.Bool
	clientSeq atomic.Int64
}

// New builds an execution state machine. recorder may be nil if trade
// logging is not wired.
func New(symbol string, maker, taker venue.VenueAdapter, positions *position.Tracker, router *UpdateRouter, alerter Alerter, recorder TradeRecorder, cfg Config, logger *slog.Logger) *Machine {
	return &Machine{
		symbol:    symbol,
		maker:     maker,
		taker:     taker,
		positions: positions,
		router:    router,
		alerter:   alerter,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger.With("component", "execution"),
	}
}

func (m *Machine) newClientID() string {
	return fmt.Sprintf("%s-%d", m.symbol, m.clientSeq.Add(1))
}

// Execute runs one full attempt for side (Buy for a long signal, Sell for
// a short signal) from RefreshPositions to a terminal Idle outcome. It
// returns ErrAlreadyInFlight if another attempt is running, ErrEmergencyStop
// if the safety invariant was found broken, or any unexpected error from a
// venue call. A clean abort (rejected order, cap hit, hedge reject) returns
// nil — those are expected Idle outcomes, not failures.
func (m *Machine) Execute(ctx context.Context, side types.Side) error {
	if !m.inFlight.CompareAndSwap(false, true) {
		return ErrAlreadyInFlight
	}
	defer m.inFlight.Store(false)

	attemptTimeout := m.cfg.TotalAttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = 180 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	st := stateRefreshPositions
	var wo types.WorkingOrder

	for {
		m.logger.Debug("state transition", "state", st, "side", side, "symbol", m.symbol)

		switch st {
		case stateRefreshPositions:
			next, err := m.refreshPositions(ctx, side)
			if err != nil {
				return err
			}
			st = next

		case statePlaceMaker:
			next, placed, err := m.placeMaker(ctx, side)
			if err != nil {
				return err
			}
			wo = placed
			st = next

		case stateWaitFill:
			next, filled, err := m.waitFill(ctx, wo)
			if err != nil {
				return err
			}
			wo = filled
			st = next

		case stateCancelMaker:
			next, canceled, err := m.cancelMaker(ctx, wo)
			if err != nil {
				return err
			}
			wo = canceled
			st = next

		case stateHedgeTaker:
			m.hedgeTaker(ctx, side, wo)
			return nil

		case stateEmergencyStop:
			m.alerter.Alert(2, "emergency stop",
				fmt.Sprintf("%s: delta-neutral safety invariant violated, net position exceeds 2x order quantity", m.symbol))
			return ErrEmergencyStop

		case stateIdle:
			return nil
		}
	}
}

func (m *Machine) refreshPositions(ctx context.Context, side types.Side) (state, error) {
	makerCtx, makerCancel := context.WithTimeout(ctx, m.cfg.PositionQueryTimeout)
	makerPos, err := m.maker.GetPosition(makerCtx, m.symbol)
	makerCancel()
	if err != nil {
		return "", err
	}
	m.positions.Requery(types.RoleMaker, makerPos)

	takerCtx, takerCancel := context.WithTimeout(ctx, m.cfg.PositionQueryTimeout)
	takerPos, err := m.taker.GetPosition(takerCtx, m.symbol)
	takerCancel()
	if err != nil {
		return "", err
	}
	m.positions.Requery(types.RoleTaker, takerPos)

	if m.positions.SafetyViolated(m.cfg.OrderQuantity) {
		return stateEmergencyStop, nil
	}
	if m.positions.IsOverCap(side, m.cfg.MaxPosition) {
		m.logger.Info("position cap reached, skipping attempt", "side", side)
		return stateIdle, nil
	}
	return statePlaceMaker, nil
}

func (m *Machine) placeMaker(ctx context.Context, side types.Side) (state, types.WorkingOrder, error) {
	if !m.maker.Ready() {
		m.logger.Warn("maker book not ready, aborting attempt")
		return stateIdle, types.WorkingOrder{}, nil
	}

	bbo := m.maker.BBO()
	instrument := m.maker.Instrument()
	price := postOnlyPrice(bbo, side, instrument)

	clientID := m.newClientID()
	m.router.Register(clientID)

	actx, cancel := context.WithTimeout(ctx, m.cfg.AckTimeout)
	defer cancel()
	venueOrderID, err := m.maker.PlacePostOnly(actx, side, m.cfg.OrderQuantity, price, clientID)
	if err != nil {
		m.router.Unregister(clientID)
		if errs.Is(err, errs.KindOrderRejected) {
			m.logger.Info("maker order rejected", "side", side, "price", price, "error", err)
			return stateIdle, types.WorkingOrder{}, nil
		}
		return "", types.WorkingOrder{}, err
	}
	m.router.Alias(venueOrderID, clientID)

	wo := types.WorkingOrder{
		Venue:      types.RoleMaker,
		Side:       side,
		Price:      price,
		Quantity:   m.cfg.OrderQuantity,
		ClientID:   clientID,
		VenueID:    venueOrderID,
		Status:     types.StatusOpen,
		FilledSize: decimal.Zero,
		CreatedAt:  time.Now(),
	}
	return stateWaitFill, wo, nil
}

// postOnlyPrice rounds one tick inside the spread so the order can never
// cross: one tick below best ask for a buy, one tick above best bid for a
// sell.
func postOnlyPrice(bbo types.BBO, side types.Side, instrument types.Instrument) decimal.Decimal {
	var raw decimal.Decimal
	if side == types.Buy {
		raw = bbo.BestAsk.Sub(instrument.TickSize)
	} else {
		raw = bbo.BestBid.Add(instrument.TickSize)
	}
	return instrument.RoundToTick(raw, side)
}

func (m *Machine) waitFill(ctx context.Context, wo types.WorkingOrder) (state, types.WorkingOrder, error) {
	ch := m.router.Register(wo.ClientID)
	m.router.Alias(wo.VenueID, wo.ClientID)
	defer m.router.Unregister(wo.ClientID, wo.VenueID)

	timer := time.NewTimer(m.cfg.FillWait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", wo, ctx.Err()

		case <-timer.C:
			return stateCancelMaker, wo, nil

		case u := <-ch:
			m.applyMakerUpdate(&wo, u)
			switch u.Status {
			case types.StatusFilled:
				return stateHedgeTaker, wo, nil
			case types.StatusCanceled:
				if wo.FilledSize.IsZero() {
					return stateIdle, wo, nil
				}
				return stateHedgeTaker, wo, nil
			case types.StatusRejected:
				return stateIdle, wo, nil
			default:
				// partial fill: keep waiting out the same fill window
			}
		}
	}
}

func (m *Machine) cancelMaker(ctx context.Context, wo types.WorkingOrder) (state, types.WorkingOrder, error) {
	ch := m.router.Register(wo.ClientID)
	m.router.Alias(wo.VenueID, wo.ClientID)
	defer m.router.Unregister(wo.ClientID, wo.VenueID)

	actx, cancel := context.WithTimeout(ctx, m.cfg.AckTimeout)
	err := m.maker.Cancel(actx, wo.VenueID)
	cancel()
	if err != nil && !errs.Is(err, errs.KindCancelFailed) {
		return "", wo, err
	}
	if err != nil {
		m.logger.Warn("cancel failed, treating as already terminal", "venue_order_id", wo.VenueID, "error", err)
	}

	// A fill can race the cancel; give any last update a brief window to
	// arrive before deciding the order's final filled size.
	drainWait := m.cfg.CancelDrainWait
	if drainWait <= 0 {
		drainWait = 2 * time.Second
	}
	drain := time.NewTimer(drainWait)
	defer drain.Stop()
drainLoop:
	for {
		select {
		case <-drain.C:
			break drainLoop
		case u := <-ch:
			m.applyMakerUpdate(&wo, u)
			if u.Status.Terminal() {
				break drainLoop
			}
		}
	}

	if wo.FilledSize.IsZero() {
		return stateIdle, wo, nil
	}
	return stateHedgeTaker, wo, nil
}

func (m *Machine) applyMakerUpdate(wo *types.WorkingOrder, u types.OrderUpdate) {
	m.positions.ApplyFill(types.RoleMaker, u)
	if u.FilledSize.GreaterThan(wo.FilledSize) && m.recorder != nil {
		delta := u.FilledSize.Sub(wo.FilledSize)
		m.recorder.RecordFill(types.RoleMaker, wo.Side, u.Price, delta)
	}
	wo.FilledSize = u.FilledSize
	wo.Status = u.Status
}

func (m *Machine) hedgeTaker(ctx context.Context, side types.Side, wo types.WorkingOrder) {
	hedgeSide := side.Opposite()
	report, err := m.taker.PlaceMarket(ctx, hedgeSide, wo.FilledSize)
	if err != nil {
		m.alerter.Alert(1, "hedge leg failed",
			fmt.Sprintf("%s: taker market order failed after maker fill of %s, net exposure uncovered: %v",
				m.symbol, wo.FilledSize, err))
		return
	}

	m.positions.ApplyFill(types.RoleTaker, types.OrderUpdate{
		VenueOrderID: report.VenueOrderID,
		Status:       types.StatusFilled,
		Side:         hedgeSide,
		FilledSize:   report.FilledQuantity,
		Price:        report.AverageFillPrice,
	})
	if m.recorder != nil {
		m.recorder.RecordFill(types.RoleTaker, hedgeSide, report.AverageFillPrice, report.FilledQuantity)
	}
}
