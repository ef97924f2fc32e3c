package position

import (
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"arbd/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestApplyFillBuyAndSell(t *testing.T) {
	t.Parallel()
	tr := New(dec("0.0001"), testLogger())

	tr.ApplyFill(types.RoleMaker, types.OrderUpdate{
		VenueOrderID: "m1", Side: types.Buy, FilledSize: dec("0.004"),
	})
	if !tr.Position(types.RoleMaker).Equal(dec("0.004")) {
		t.Fatalf("maker position = %v, want 0.004", tr.Position(types.RoleMaker))
	}

	tr.ApplyFill(types.RoleTaker, types.OrderUpdate{
		VenueOrderID: "t1", Side: types.Sell, FilledSize: dec("0.004"),
	})
	if !tr.Position(types.RoleTaker).Equal(dec("-0.004")) {
		t.Fatalf("taker position = %v, want -0.004", tr.Position(types.RoleTaker))
	}
	if !tr.Net().IsZero() {
		t.Fatalf("net = %v, want 0", tr.Net())
	}
}

func TestApplyFillDedupesByCumulativeFilledSize(t *testing.T) {
	t.Parallel()
	tr := New(dec("0.0001"), testLogger())

	update := types.OrderUpdate{VenueOrderID: "m1", Side: types.Buy, FilledSize: dec("0.004")}
	tr.ApplyFill(types.RoleMaker, update)
	tr.ApplyFill(types.RoleMaker, update) // repeat: must not double-apply

	if !tr.Position(types.RoleMaker).Equal(dec("0.004")) {
		t.Fatalf("maker position = %v, want 0.004 after repeated update", tr.Position(types.RoleMaker))
	}

	// A partial-fill progression should apply only the increment each time.
	tr.ApplyFill(types.RoleMaker, types.OrderUpdate{
		VenueOrderID: "m1", Side: types.Buy, FilledSize: dec("0.006"),
	})
	if !tr.Position(types.RoleMaker).Equal(dec("0.006")) {
		t.Fatalf("maker position = %v, want 0.006 after incremental fill", tr.Position(types.RoleMaker))
	}
}

func TestRequeryOverwritesAndLogsDiscrepancy(t *testing.T) {
	t.Parallel()
	tr := New(dec("0.0001"), testLogger())

	tr.ApplyFill(types.RoleMaker, types.OrderUpdate{
		VenueOrderID: "m1", Side: types.Buy, FilledSize: dec("0.004"),
	})
	tr.Requery(types.RoleMaker, dec("0.01")) // authoritative value disagrees

	if !tr.Position(types.RoleMaker).Equal(dec("0.01")) {
		t.Fatalf("maker position = %v, want 0.01 after requery overwrite", tr.Position(types.RoleMaker))
	}
}

func TestSafetyViolated(t *testing.T) {
	t.Parallel()
	tr := New(dec("0.0001"), testLogger())

	tr.Requery(types.RoleMaker, dec("0.10"))
	tr.Requery(types.RoleTaker, dec("-0.06"))

	orderQty := dec("0.004")
	if !tr.SafetyViolated(orderQty) {
		t.Fatalf("expected safety violation: net=%v, 2*orderQty=%v", tr.Net(), orderQty.Mul(dec("2")))
	}
}

func TestIsOverCap(t *testing.T) {
	t.Parallel()
	tr := New(dec("0.0001"), testLogger())
	tr.Requery(types.RoleMaker, dec("0.01"))

	if !tr.IsOverCap(types.Buy, dec("0.01")) {
		t.Fatal("expected long cap to be reached at exactly the cap")
	}
	if tr.IsOverCap(types.Sell, dec("0.01")) {
		t.Fatal("short cap should not trip for a positive position")
	}
}
