// Package stats implements the Spread Statistics window (C4) and the
// Threshold Engine (C5): a bounded FIFO of strictly-positive spread samples
// per side, and a periodic recomputation of the dynamic long/short
// threshold pair from their rolling mean and population standard
// deviation.
package stats

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbd/pkg/types"
)

// Window is a bounded FIFO of strictly-positive spread samples. Losing
// (non-positive) samples are never recorded — they would bias the
// threshold downward into noise.
type Window struct {
	mu       sync.Mutex
	capacity int
	samples  []float64
}

// NewWindow creates a window of the given capacity.
func NewWindow(capacity int) *Window {
	return &Window{capacity: capacity, samples: make([]float64, 0, capacity)}
}

// Append records a sample if it is strictly positive. Returns false if the
// sample was suppressed for being non-positive.
func (w *Window) Append(sample decimal.Decimal) bool {
	if !sample.IsPositive() {
		return false
	}
	f, _ := sample.Float64()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, f)
	if len(w.samples) > w.capacity {
		w.samples = w.samples[len(w.samples)-w.capacity:]
	}
	return true
}

// Count returns the number of samples currently held.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

// MeanStd returns the sample mean and population standard deviation over
// the current window. Both are zero for an empty window.
func (w *Window) MeanStd() (mean, std float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return meanStd(w.samples)
}

// MinMax returns the minimum and maximum sample currently held, used only
// for the spread-stats log line; zero for an empty window.
func (w *Window) MinMax() (min, max float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) == 0 {
		return 0, 0
	}
	min, max = w.samples[0], w.samples[0]
	for _, s := range w.samples[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max
}

func meanStd(samples []float64) (mean, std float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean = sum / float64(len(samples))

	var sqDiff float64
	for _, s := range samples {
		d := s - mean
		sqDiff += d * d
	}
	std = math.Sqrt(sqDiff / float64(len(samples)))
	return mean, std
}

// Config tunes the threshold engine.
type Config struct {
	FloorLong            decimal.Decimal
	FloorShort           decimal.Decimal
	ZScoreMultiplier     float64
	MinSamplesForDynamic int
	SuppressDelta        decimal.Decimal
	RecomputeInterval    time.Duration
	WindowCapacity       int // samples kept per side; defaults to 100 if <= 0
}

// epsilon is the absolute floor every threshold obeys, per spec: ε = 0.1.
var epsilon = decimal.NewFromFloat(0.1)

// Engine periodically recomputes the dynamic (long, short) threshold pair
// from the rolling windows it owns, independent of the trading loop's
// cadence. Reads are atomic: Current() returns a consistent pair under a
// single lock acquisition.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	long  *Window
	short *Window

	mu      sync.RWMutex
	current types.ThresholdPair
}

// New creates a threshold engine seeded with its configured floors.
func New(cfg Config, logger *slog.Logger) *Engine {
	capacity := cfg.WindowCapacity
	if capacity <= 0 {
		capacity = 100
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With("component", "stats"),
		long:   NewWindow(capacity),
		short:  NewWindow(capacity),
		current: types.ThresholdPair{
			Long:  cfg.FloorLong,
			Short: cfg.FloorShort,
		},
	}
}

// RecordLong appends a long-spread sample (taker_bid - maker_bid).
func (e *Engine) RecordLong(sample decimal.Decimal) { e.long.Append(sample) }

// RecordShort appends a short-spread sample (maker_ask - taker_ask).
func (e *Engine) RecordShort(sample decimal.Decimal) { e.short.Append(sample) }

// LongWindow and ShortWindow expose the underlying windows for logging
// (mean/std/count/min/max per spec's spread_stats.csv schema).
func (e *Engine) LongWindow() *Window  { return e.long }
func (e *Engine) ShortWindow() *Window { return e.short }

// Current returns the current threshold pair, read atomically.
func (e *Engine) Current() types.ThresholdPair {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Run recomputes thresholds on cfg.RecomputeInterval until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RecomputeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.recompute()
		}
	}
}

func (e *Engine) recompute() {
	newLong := e.dynThreshold(e.long, e.cfg.FloorLong)
	newShort := e.dynThreshold(e.short, e.cfg.FloorShort)

	e.mu.Lock()
	defer e.mu.Unlock()

	if decimalAbsDiff(newLong, e.current.Long).GreaterThanOrEqual(e.cfg.SuppressDelta) {
		e.current.Long = newLong
	}
	if decimalAbsDiff(newShort, e.current.Short).GreaterThanOrEqual(e.cfg.SuppressDelta) {
		e.current.Short = newShort
	}
}

// dynThreshold = max(floor, mean + k*std, epsilon). Below min_samples, the
// dynamic threshold equals the floor regardless of mean/std.
func (e *Engine) dynThreshold(w *Window, floor decimal.Decimal) decimal.Decimal {
	if w.Count() < e.cfg.MinSamplesForDynamic {
		return floor
	}
	mean, std := w.MeanStd()
	candidate := decimal.NewFromFloat(mean + e.cfg.ZScoreMultiplier*std)

	result := floor
	if candidate.GreaterThan(result) {
		result = candidate
	}
	if epsilon.GreaterThan(result) {
		result = epsilon
	}
	return result
}

func decimalAbsDiff(a, b decimal.Decimal) decimal.Decimal {
	d := a.Sub(b)
	if d.IsNegative() {
		return d.Neg()
	}
	return d
}
