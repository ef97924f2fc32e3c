// Package coordinator implements the Strategy Coordinator (C8): the
// top-level loop that samples both venues' BBOs, feeds the spread
// statistics window, reads the current dynamic thresholds, computes the
// mutually-exclusive long/short signal, and hands off to the execution
// state machine whenever one fires.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"arbd/internal/execution"
	"arbd/internal/stats"
	"arbd/internal/venue"
	"arbd/pkg/types"
)

// BBORecorder observes every sampled BBO pair, whether or not a signal
// fired, for the bbo_data.csv sink.
type BBORecorder interface {
	RecordBBO(makerBBO, takerBBO types.BBO, longSpread, shortSpread, longThreshold, shortThreshold decimal.Decimal, longSignal, shortSignal bool)
}

// SpreadStatsRecorder observes each side's rolling spread window on every
// sample, for the spread_stats.csv sink.
type SpreadStatsRecorder interface {
	RecordSpreadStats(spreadType string, spread decimal.Decimal, mean, std float64, count int, min, max float64)
}

// Config tunes the coordinator's polling and cool-down cadence.
type Config struct {
	NotReadySleep time.Duration // default 500ms: either book not ready
	NoSignalSleep time.Duration // default 50ms: no signal this tick
	Cooldown      time.Duration // default 2s: after every execution attempt
}

// Coordinator drives one symbol pair's signal loop. It owns no order or
// position state itself — RefreshPositions, safety, and cap checks live in
// the execution state machine's first state; the coordinator's job is
// purely signal detection and handoff.
type Coordinator struct {
	symbol string
	maker  venue.VenueAdapter
	taker  venue.VenueAdapter
	stats  *stats.Engine
	engine *execution.Machine

	recorder       BBORecorder
	spreadRecorder SpreadStatsRecorder
	cfg            Config
	logger         *slog.Logger
}

// New builds a coordinator. recorder and spreadRecorder may each be nil if
// that sink is not wired.
func New(symbol string, maker, taker venue.VenueAdapter, statsEngine *stats.Engine, engine *execution.Machine, recorder BBORecorder, spreadRecorder SpreadStatsRecorder, cfg Config, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		symbol:         symbol,
		maker:          maker,
		taker:          taker,
		stats:          statsEngine,
		engine:         engine,
		recorder:       recorder,
		spreadRecorder: spreadRecorder,
		cfg:            cfg,
		logger:         logger.With("component", "coordinator", "symbol", symbol),
	}
}

// Run drives the signal loop until ctx is canceled or the execution state
// machine reports an emergency stop, which Run returns so the caller can
// exit with the appropriate code.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		makerBBO := c.maker.BBO()
		takerBBO := c.taker.BBO()
		if !makerBBO.Ready || !takerBBO.Ready {
			if !sleepCtx(ctx, c.cfg.NotReadySleep) {
				return nil
			}
			continue
		}

		longSpread := takerBBO.BestBid.Sub(makerBBO.BestBid)
		shortSpread := makerBBO.BestAsk.Sub(takerBBO.BestAsk)
		c.stats.RecordLong(longSpread)
		c.stats.RecordShort(shortSpread)

		if c.spreadRecorder != nil {
			c.recordSpreadStats(longSpread, shortSpread)
		}

		thresholds := c.stats.Current()
		longSignal := longSpread.GreaterThan(thresholds.Long)
		shortSignal := shortSpread.GreaterThan(thresholds.Short)

		if longSignal && shortSignal {
			// Both spreads clear their thresholds when the maker book is
			// materially wider than the taker's; log loudly and suppress both
			// rather than fire either, since the two legs would point in
			// opposite directions.
			c.logger.Error("long and short signals fired simultaneously, suppressing both",
				"long_spread", longSpread, "short_spread", shortSpread)
			longSignal, shortSignal = false, false
		}

		if c.recorder != nil {
			c.recorder.RecordBBO(makerBBO, takerBBO, longSpread, shortSpread, thresholds.Long, thresholds.Short, longSignal, shortSignal)
		}

		var side types.Side
		switch {
		case longSignal:
			side = types.Buy
		case shortSignal:
			side = types.Sell
		default:
			if !sleepCtx(ctx, c.cfg.NoSignalSleep) {
				return nil
			}
			continue
		}

		err := c.engine.Execute(ctx, side)
		switch {
		case err == nil:
		case errors.Is(err, execution.ErrEmergencyStop):
			return err
		case errors.Is(err, execution.ErrAlreadyInFlight):
			c.logger.Warn("execution already in flight, skipping this signal")
		default:
			c.logger.Error("execution attempt failed", "side", side, "error", err)
		}

		if !sleepCtx(ctx, c.cfg.Cooldown) {
			return nil
		}
	}
}

// recordSpreadStats reports both sides' rolling window snapshot to the
// spread-stats sink, once per sampled tick.
func (c *Coordinator) recordSpreadStats(longSpread, shortSpread decimal.Decimal) {
	long := c.stats.LongWindow()
	longMean, longStd := long.MeanStd()
	longMin, longMax := long.MinMax()
	c.spreadRecorder.RecordSpreadStats("long", longSpread, longMean, longStd, long.Count(), longMin, longMax)

	short := c.stats.ShortWindow()
	shortMean, shortStd := short.MeanStd()
	shortMin, shortMax := short.MinMax()
	c.spreadRecorder.RecordSpreadStats("short", shortSpread, shortMean, shortStd, short.Count(), shortMin, shortMax)
}

// sleepCtx sleeps for d or returns false early if ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
