package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbd/internal/execution"
	"arbd/internal/position"
	"arbd/internal/stats"
	"arbd/internal/venue"
	"arbd/pkg/types"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// stubAdapter is a minimal venue.VenueAdapter stand-in whose BBO can be
// swapped mid-test.
type stubAdapter struct {
	mu  sync.Mutex
	bbo types.BBO
}

func (s *stubAdapter) setBBO(b types.BBO) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bbo = b
}

func (s *stubAdapter) Run(ctx context.Context) {}
func (s *stubAdapter) Ready() bool             { return true }
func (s *stubAdapter) BBO() types.BBO {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bbo
}
func (s *stubAdapter) Instrument() types.Instrument           { return types.Instrument{Symbol: "TEST", TickSize: dec("0.1")} }
func (s *stubAdapter) OrderUpdates() <-chan types.OrderUpdate { return make(chan types.OrderUpdate) }
func (s *stubAdapter) PlacePostOnly(ctx context.Context, side types.Side, qty, price decimal.Decimal, clientID string) (string, error) {
	return "stub-order", nil
}
func (s *stubAdapter) PlaceMarket(ctx context.Context, side types.Side, qty decimal.Decimal) (types.MarketFillReport, error) {
	return types.MarketFillReport{FilledQuantity: qty}, nil
}
func (s *stubAdapter) Cancel(ctx context.Context, orderID string) error { return nil }
func (s *stubAdapter) GetPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

var _ venue.VenueAdapter = (*stubAdapter)(nil)

type recordingRecorder struct {
	mu    sync.Mutex
	calls int
	last  struct {
		longSignal, shortSignal bool
	}
}

func (r *recordingRecorder) RecordBBO(makerBBO, takerBBO types.BBO, longSpread, shortSpread, longThreshold, shortThreshold decimal.Decimal, longSignal, shortSignal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.last.longSignal = longSignal
	r.last.shortSignal = shortSignal
}

func newTestCoordinator(t *testing.T, maker, taker *stubAdapter, recorder *recordingRecorder) (*Coordinator, *execution.Machine) {
	t.Helper()
	statsEngine := stats.New(stats.Config{
		FloorLong:            dec("0.1"),
		FloorShort:           dec("0.1"),
		ZScoreMultiplier:     1.5,
		MinSamplesForDynamic: 50,
		SuppressDelta:        dec("0.1"),
		RecomputeInterval:    time.Hour, // not under test here
	}, testLogger())

	// A nil position tracker would panic on use; the machine's
	// RefreshPositions state queries GetPosition and calls Requery, so it
	// needs a real tracker even though this suite only exercises signal
	// detection, not full attempts reaching a fill.
	machine := execution.New("TEST", maker, taker, position.New(dec("0.0001"), testLogger()), execution.NewUpdateRouter(), noopAlerter{}, nil, execution.Config{
		OrderQuantity:        dec("0.01"),
		MaxPosition:          dec("10"),
		FillWait:             10 * time.Millisecond,
		TotalAttemptTimeout:  time.Second,
		PositionQueryTimeout: time.Second,
		AckTimeout:           time.Second,
		CancelDrainWait:      5 * time.Millisecond,
	}, testLogger())

	c := New("TEST", maker, taker, statsEngine, machine, recorder, nil, Config{
		NotReadySleep: 5 * time.Millisecond,
		NoSignalSleep: 5 * time.Millisecond,
		Cooldown:      5 * time.Millisecond,
	}, testLogger())
	return c, machine
}

type noopAlerter struct{}

func (noopAlerter) Alert(priority int, title, message string) {}

func TestCoordinatorSuppressesWhenNotReady(t *testing.T) {
	t.Parallel()
	maker := &stubAdapter{bbo: types.BBO{Ready: false}}
	taker := &stubAdapter{bbo: types.BBO{Ready: true, BestBid: dec("100"), BestAsk: dec("101")}}
	recorder := &recordingRecorder{}
	c, _ := newTestCoordinator(t, maker, taker, recorder)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if recorder.calls != 0 {
		t.Errorf("expected no BBO samples recorded while a book is not ready, got %d", recorder.calls)
	}
}

func TestCoordinatorNoSignalBelowThreshold(t *testing.T) {
	t.Parallel()
	maker := &stubAdapter{bbo: types.BBO{Ready: true, BestBid: dec("100.0"), BestAsk: dec("100.2")}}
	taker := &stubAdapter{bbo: types.BBO{Ready: true, BestBid: dec("100.05"), BestAsk: dec("100.15")}}
	recorder := &recordingRecorder{}
	c, _ := newTestCoordinator(t, maker, taker, recorder)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if recorder.last.longSignal || recorder.last.shortSignal {
		t.Error("spreads below floor should never fire a signal")
	}
}

func TestCoordinatorFiresLongSignalAboveFloor(t *testing.T) {
	t.Parallel()
	// long_spread = taker_bid - maker_bid = 100.5 - 100.0 = 0.5 > floor 0.1
	maker := &stubAdapter{bbo: types.BBO{Ready: true, BestBid: dec("100.0"), BestAsk: dec("100.2")}}
	taker := &stubAdapter{bbo: types.BBO{Ready: true, BestBid: dec("100.5"), BestAsk: dec("100.6")}}
	recorder := &recordingRecorder{}
	c, _ := newTestCoordinator(t, maker, taker, recorder)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if recorder.calls == 0 {
		t.Fatal("expected at least one recorded sample")
	}
	if !recorder.last.longSignal {
		t.Error("expected a long signal for a spread above the floor")
	}
}

func TestCoordinatorEmergencyStopPropagates(t *testing.T) {
	t.Parallel()
	maker := &stubAdapter{bbo: types.BBO{Ready: true, BestBid: dec("100.0"), BestAsk: dec("100.2")}}
	taker := &stubAdapter{bbo: types.BBO{Ready: true, BestBid: dec("100.5"), BestAsk: dec("100.6")}}
	recorder := &recordingRecorder{}

	statsEngine := stats.New(stats.Config{
		FloorLong: dec("0.1"), FloorShort: dec("0.1"), ZScoreMultiplier: 1.5,
		MinSamplesForDynamic: 50, SuppressDelta: dec("0.1"), RecomputeInterval: time.Hour,
	}, testLogger())

	violatingMaker := &positionStub{stubAdapter: maker, position: dec("10")}
	machine := execution.New("TEST", violatingMaker, taker, position.New(dec("0.0001"), testLogger()), execution.NewUpdateRouter(), noopAlerter{}, nil, execution.Config{
		OrderQuantity: dec("0.01"), MaxPosition: dec("10"),
		FillWait: 10 * time.Millisecond, TotalAttemptTimeout: time.Second,
		PositionQueryTimeout: time.Second, AckTimeout: time.Second, CancelDrainWait: 5 * time.Millisecond,
	}, testLogger())

	c := New("TEST", violatingMaker, taker, statsEngine, machine, recorder, nil, Config{
		NotReadySleep: 5 * time.Millisecond, NoSignalSleep: 5 * time.Millisecond, Cooldown: 5 * time.Millisecond,
	}, testLogger())

	err := c.Run(context.Background())
	if !errors.Is(err, execution.ErrEmergencyStop) {
		t.Fatalf("err = %v, want ErrEmergencyStop", err)
	}
}

type recordingSpreadRecorder struct {
	mu    sync.Mutex
	calls int
	types map[string]bool
}

func (r *recordingSpreadRecorder) RecordSpreadStats(spreadType string, spread decimal.Decimal, mean, std float64, count int, min, max float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.types == nil {
		r.types = make(map[string]bool)
	}
	r.types[spreadType] = true
}

func TestCoordinatorRecordsSpreadStatsEachSample(t *testing.T) {
	t.Parallel()
	maker := &stubAdapter{bbo: types.BBO{Ready: true, BestBid: dec("100.0"), BestAsk: dec("100.2")}}
	taker := &stubAdapter{bbo: types.BBO{Ready: true, BestBid: dec("100.05"), BestAsk: dec("100.15")}}
	recorder := &recordingRecorder{}
	spreadRecorder := &recordingSpreadRecorder{}

	statsEngine := stats.New(stats.Config{
		FloorLong: dec("5"), FloorShort: dec("5"), ZScoreMultiplier: 1.5,
		MinSamplesForDynamic: 50, SuppressDelta: dec("0.1"), RecomputeInterval: time.Hour,
	}, testLogger())
	machine := execution.New("TEST", maker, taker, position.New(dec("0.0001"), testLogger()), execution.NewUpdateRouter(), noopAlerter{}, nil, execution.Config{
		OrderQuantity:        dec("0.01"),
		MaxPosition:          dec("10"),
		FillWait:             10 * time.Millisecond,
		TotalAttemptTimeout:  time.Second,
		PositionQueryTimeout: time.Second,
		AckTimeout:           time.Second,
		CancelDrainWait:      5 * time.Millisecond,
	}, testLogger())
	c := New("TEST", maker, taker, statsEngine, machine, recorder, spreadRecorder, Config{
		NotReadySleep: 5 * time.Millisecond,
		NoSignalSleep: 5 * time.Millisecond,
		Cooldown:      5 * time.Millisecond,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	spreadRecorder.mu.Lock()
	defer spreadRecorder.mu.Unlock()
	if spreadRecorder.calls == 0 {
		t.Fatal("expected spread stats to be recorded at least once")
	}
	if !spreadRecorder.types["long"] || !spreadRecorder.types["short"] {
		t.Errorf("expected both long and short spread types recorded, got %v", spreadRecorder.types)
	}
}

type positionStub struct {
	*stubAdapter
	position decimal.Decimal
}

func (p *positionStub) GetPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return p.position, nil
}
