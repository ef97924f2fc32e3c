package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()
	if Buy.Opposite() != Sell {
		t.Errorf("Buy.Opposite() = %v, want Sell", Buy.Opposite())
	}
	if Sell.Opposite() != Buy {
		t.Errorf("Sell.Opposite() = %v, want Buy", Sell.Opposite())
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	t.Parallel()
	terminal := []OrderStatus{StatusFilled, StatusCanceled, StatusRejected}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%v.Terminal() = false, want true", s)
		}
	}
	nonTerminal := []OrderStatus{StatusPending, StatusOpen, StatusPartiallyFilled}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%v.Terminal() = true, want false", s)
		}
	}
}

func TestInstrumentRoundToTick(t *testing.T) {
	t.Parallel()
	inst := Instrument{Symbol: "BTC-PERP", TickSize: dec("0.5")}

	cases := []struct {
		price string
		side  Side
		want  string
	}{
		{"100.3", Buy, "100.0"},
		{"100.3", Sell, "100.5"},
		{"100.5", Buy, "100.5"},
		{"100.5", Sell, "100.5"},
	}
	for _, c := range cases {
		got := inst.RoundToTick(dec(c.price), c.side)
		if !got.Equal(dec(c.want)) {
			t.Errorf("RoundToTick(%s, %v) = %s, want %s", c.price, c.side, got, c.want)
		}
	}
}

func TestInstrumentRoundToTickZeroTickIsNoOp(t *testing.T) {
	t.Parallel()
	inst := Instrument{Symbol: "BTC-PERP", TickSize: decimal.Zero}
	price := dec("100.37")
	if got := inst.RoundToTick(price, Buy); !got.Equal(price) {
		t.Errorf("RoundToTick with zero tick = %s, want unchanged %s", got, price)
	}
}

func TestBBOMid(t *testing.T) {
	t.Parallel()
	b := BBO{BestBid: dec("100"), BestAsk: dec("101"), Ready: true}
	if !b.Mid().Equal(dec("100.5")) {
		t.Errorf("Mid() = %s, want 100.5", b.Mid())
	}
}
