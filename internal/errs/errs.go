// Package errs classifies the engine's fallible outcomes into the kinds
// enumerated by the error handling design: transient network errors stay
// local to the supervisor that owns retry, stream gaps invalidate a book,
// order-level errors drive state-machine transitions, and anything that
// compromises the delta-neutral invariant escalates to a fatal exit.
package errs

import "errors"

// Kind is one of the classified error categories.
type Kind string

const (
	KindTransientNetwork   Kind = "transient_network"
	KindStreamGap          Kind = "stream_gap"
	KindOrderRejected      Kind = "order_rejected"
	KindCancelFailed       Kind = "cancel_failed"
	KindPositionQueryFailed Kind = "position_query_failed"
	KindSafetyViolation    Kind = "safety_violation"
	KindConfigError        Kind = "config_error"
	KindAdapterPanic       Kind = "adapter_panic"
)

// Classified wraps an underlying error with its Kind so callers can branch
// on classification with errors.As instead of string matching.
type Classified struct {
	Kind Kind
	Err  error
}

func (c *Classified) Error() string {
	if c.Err == nil {
		return string(c.Kind)
	}
	return string(c.Kind) + ": " + c.Err.Error()
}

func (c *Classified) Unwrap() error { return c.Err }

// New builds a Classified error of the given kind.
func New(kind Kind, err error) error {
	return &Classified{Kind: kind, Err: err}
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind == kind
	}
	return false
}

// ErrNotFound names a cancel that targets an order the venue no longer
// knows about. venue.Client.Cancel does not return it: it reports a 404 as
// success, treating the order as already terminal.
var ErrNotFound = errors.New("order not found")

// ErrUnknownSymbol is returned when instrument_info is called for a symbol
// the venue doesn't recognize.
var ErrUnknownSymbol = errors.New("unknown symbol")
