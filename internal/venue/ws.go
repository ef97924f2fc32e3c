// ws.go implements the Connection Supervisor (C3): a per-venue WebSocket
// subscription with heartbeat monitoring, exponential-backoff reconnect
// that switches to a fixed slow-retry mode after repeated failures, and
// book invalidation on any disconnect, parse failure, or detected gap.
package venue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arbd/internal/book"
	"arbd/pkg/types"
)

const (
	maxReconnectWait  = 30 * time.Second
	slowRetryInterval = 30 * time.Second
	consecutiveFailuresForSlowRetry = 5
	heartbeatCheckInterval = 10 * time.Second
	writeTimeout           = 10 * time.Second
)

// FrameParser parses one raw WS message into at most one book frame and/or
// one order update. Either return value may be nil. A non-nil error means
// the message was unparseable; the supervisor logs it, drops the connection
// and resyncs the book rather than treating it as fatal.
type FrameParser func(raw []byte) (*types.BookFrame, *types.OrderUpdate, error)

// Supervisor owns one venue's WebSocket subscription and the Book it feeds.
type Supervisor struct {
	role    types.Role
	url     string
	book    *book.Book
	parse   FrameParser
	// Subscribe sends the venue's initial subscription message(s) right
	// after dial. May be nil if the venue subscribes implicitly by URL.
	Subscribe func(*websocket.Conn) error

	heartbeatTimeout time.Duration
	orderCh          chan types.OrderUpdate
	logger           *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	lastFrameMu sync.Mutex
	lastFrameAt time.Time

	consecutiveFailures int
}

// NewSupervisor creates a connection supervisor for one venue.
func NewSupervisor(role types.Role, url string, bk *book.Book, parse FrameParser, heartbeatTimeout time.Duration, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		role:             role,
		url:              url,
		book:             bk,
		parse:            parse,
		heartbeatTimeout: heartbeatTimeout,
		orderCh:          make(chan types.OrderUpdate, 64),
		logger:           logger.With("component", "venue", "venue_role", role),
	}
}

// Book returns the order book this supervisor feeds.
func (s *Supervisor) Book() *book.Book { return s.book }

// OrderUpdates returns the channel order-lifecycle events are delivered on.
func (s *Supervisor) OrderUpdates() <-chan types.OrderUpdate { return s.orderCh }

// Ready reports whether the underlying book is currently tradeable.
func (s *Supervisor) Ready() bool { return s.book.BBO().Ready }

// Run drives the reconnect loop until ctx is canceled. On any disconnect it
// invalidates the book (clearing ready) before waiting out the backoff and
// resubscribing.
func (s *Supervisor) Run(ctx context.Context) {
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		s.book.Invalidate()
		s.consecutiveFailures++

		var wait time.Duration
		if s.consecutiveFailures > consecutiveFailuresForSlowRetry {
			wait = slowRetryInterval
		} else {
			wait = backoff
			backoff *= 2
			if backoff > maxReconnectWait {
				backoff = maxReconnectWait
			}
		}

		s.logger.Warn("disconnected, will reconnect",
			"error", err, "wait", wait, "consecutive_failures", s.consecutiveFailures)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *Supervisor) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	if s.Subscribe != nil {
		if err := s.Subscribe(conn); err != nil {
			return err
		}
	}

	// A successful connection resets the failure streak — N_max counts
	// consecutive connect failures, not lifetime disconnects.
	s.consecutiveFailures = 0
	s.touchHeartbeat()

	watchdogCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.heartbeatWatchdog(watchdogCtx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.touchHeartbeat()

		frame, order, perr := s.parse(raw)
		if perr != nil {
			s.logger.Warn("frame parse error, resyncing", "error", perr)
			return perr
		}
		if frame != nil {
			if aerr := s.book.ApplyFrame(*frame); aerr != nil {
				s.logger.Warn("book inconsistent or gapped, resyncing", "error", aerr)
				return aerr
			}
		}
		if order != nil {
			select {
			case s.orderCh <- *order:
			default:
				s.logger.Warn("order update channel full, dropping update", "venue_order_id", order.VenueOrderID)
			}
		}
	}
}

func (s *Supervisor) heartbeatWatchdog(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.lastFrameMu.Lock()
			stale := time.Since(s.lastFrameAt) > s.heartbeatTimeout
			s.lastFrameMu.Unlock()
			if stale {
				s.logger.Warn("heartbeat timeout, forcing reconnect", "timeout", s.heartbeatTimeout)
				conn.Close()
				return
			}
		}
	}
}

func (s *Supervisor) touchHeartbeat() {
	s.lastFrameMu.Lock()
	s.lastFrameAt = time.Now()
	s.lastFrameMu.Unlock()
}

// writeJSON writes a JSON message with a bounded write deadline, for use by
// Subscribe callbacks.
func writeJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}
