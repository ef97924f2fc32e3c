// Package datalog implements the engine's three CSV sinks — trades, BBO
// samples, and spread statistics — each owned by a dedicated task fed by a
// bounded channel, per the buffered-writer-owned-by-a-log-task
// re-architecture: no caller ever holds a file handle or blocks on disk
// I/O directly. Each file is opened append-only and gets its header
// written only when empty or absent.
package datalog

import (
	"context"
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"arbd/pkg/types"
)

const (
	flushEvery  = 10
	channelSize = 256
)

// csvSink owns one CSV file: a single writer goroutine consumes pre-
// rendered rows from a bounded channel, flushing every flushEvery writes.
type csvSink struct {
	path   string
	header []string
	rows   chan []string
	logger *slog.Logger
}

func newCSVSink(path string, header []string, logger *slog.Logger) *csvSink {
	return &csvSink{
		path:   path,
		header: header,
		rows:   make(chan []string, channelSize),
		logger: logger,
	}
}

func (s *csvSink) enqueue(row []string) {
	select {
	case s.rows <- row:
	default:
		s.logger.Warn("datalog sink full, dropping row", "path", s.path)
	}
}

// run opens the file, writes the header if the file is new or empty, then
// consumes rows until ctx is canceled, draining whatever is still buffered
// before its final flush.
func (s *csvSink) run(ctx context.Context) {
	needHeader := true
	if info, err := os.Stat(s.path); err == nil && info.Size() > 0 {
		needHeader = false
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		s.logger.Error("open sink file", "path", s.path, "error", err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needHeader {
		if err := w.Write(s.header); err != nil {
			s.logger.Error("write header", "path", s.path, "error", err)
		}
		w.Flush()
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			s.drain(w)
			return
		case row := <-s.rows:
			s.write(w, row, &count)
		}
	}
}

func (s *csvSink) write(w *csv.Writer, row []string, count *int) {
	if err := w.Write(row); err != nil {
		s.logger.Error("write row", "path", s.path, "error", err)
		return
	}
	*count++
	if *count >= flushEvery {
		w.Flush()
		*count = 0
	}
}

func (s *csvSink) drain(w *csv.Writer) {
	for {
		select {
		case row := <-s.rows:
			w.Write(row)
		default:
			w.Flush()
			return
		}
	}
}

// Logger owns the three per-(venue,symbol) CSV sinks: trades, BBO samples,
// and spread statistics.
type Logger struct {
	trades  *csvSink
	bbo     *csvSink
	spread  *csvSink
	venue   string
	symbol  string
}

// New builds a Logger writing `<venue>_<symbol>_{trades,bbo_data,spread_stats}.csv`
// under dir.
func New(dir, venue, symbol string, logger *slog.Logger) *Logger {
	logger = logger.With("component", "datalog", "venue", venue, "symbol", symbol)
	prefix := filepath.Join(dir, venue+"_"+symbol)
	return &Logger{
		venue:  venue,
		symbol: symbol,
		trades: newCSVSink(prefix+"_trades.csv",
			[]string{"exchange", "iso_timestamp", "side", "price", "quantity"}, logger),
		bbo: newCSVSink(prefix+"_bbo_data.csv",
			[]string{"timestamp", "maker_bid", "maker_ask", "taker_bid", "taker_ask",
				"long_spread", "short_spread", "long_signal", "short_signal",
				"long_threshold", "short_threshold"}, logger),
		spread: newCSVSink(prefix+"_spread_stats.csv",
			[]string{"timestamp", "spread", "spread_type", "mean", "std", "count", "min", "max"}, logger),
	}
}

// Run starts all three sink tasks and blocks until ctx is canceled.
func (l *Logger) Run(ctx context.Context) {
	done := make(chan struct{}, 3)
	for _, s := range []*csvSink{l.trades, l.bbo, l.spread} {
		s := s
		go func() {
			s.run(ctx)
			done <- struct{}{}
		}()
	}
	<-ctx.Done()
	for i := 0; i < 3; i++ {
		<-done
	}
}

// RecordFill satisfies execution.TradeRecorder: logs one confirmed fill to
// the trades sink.
func (l *Logger) RecordFill(role types.Role, side types.Side, price, qty decimal.Decimal) {
	l.trades.enqueue([]string{
		string(role),
		time.Now().UTC().Format(time.RFC3339Nano),
		string(side),
		price.String(),
		qty.String(),
	})
}

// RecordBBO satisfies coordinator.BBORecorder: logs one sampled BBO pair
// with its computed spreads, signals, and the thresholds they were
// compared against.
func (l *Logger) RecordBBO(makerBBO, takerBBO types.BBO, longSpread, shortSpread, longThreshold, shortThreshold decimal.Decimal, longSignal, shortSignal bool) {
	l.bbo.enqueue([]string{
		time.Now().UTC().Format(time.RFC3339Nano),
		makerBBO.BestBid.String(),
		makerBBO.BestAsk.String(),
		takerBBO.BestBid.String(),
		takerBBO.BestAsk.String(),
		longSpread.String(),
		shortSpread.String(),
		boolStr(longSignal),
		boolStr(shortSignal),
		longThreshold.String(),
		shortThreshold.String(),
	})
}

// RecordSpreadStats logs one spread-window snapshot (mean/std/count/min/max)
// for spreadType ("long" or "short").
func (l *Logger) RecordSpreadStats(spreadType string, spread decimal.Decimal, mean, std float64, count int, min, max float64) {
	l.spread.enqueue([]string{
		time.Now().UTC().Format(time.RFC3339Nano),
		spread.String(),
		spreadType,
		formatFloat(mean),
		formatFloat(std),
		strconv.Itoa(count),
		formatFloat(min),
		formatFloat(max),
	})
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func formatFloat(f float64) string {
	return decimal.NewFromFloat(f).StringFixed(2)
}
