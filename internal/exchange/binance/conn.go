package binance

import (
	"context"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"

	"feedline/internal/event"
	"feedline/internal/health"
	"feedline/logger"
)

// readTimeout is the frame-read timeout: silence this long forces a
// reconnect (spec.md §5: "WebSocket frame read: 60s").
const readTimeout = 60 * time.Second

// weightTracker mirrors the teacher's WSWeightTracker shape
// (internal/metrics/rate/binance.go), repurposed as the shard's
// ws_attempts/ws_outgoing health pair (SPEC_FULL.md §4.1 supplemental).
type weightTracker struct {
	window   time.Time
	outgoing int
	attempts int
}

func (t *weightTracker) registerOutgoing(n int) {
	now := time.Now()
	if now.Sub(t.window) >= time.Second {
		t.outgoing = 0
		t.window = now
	}
	t.outgoing += n
}

func (t *weightTracker) registerAttempt() { t.attempts++ }

func (t *weightTracker) stats() (outgoing, attempts int) { return t.outgoing, t.attempts }

// runShardLoop dials url, subscribes via the combined-stream query
// string (so no explicit subscribe frame is required), and feeds every
// decoded frame to handler until ctx is canceled. On any dial or read
// failure it reconnects with exponential backoff + jitter (spec.md
// §4.1), never clearing the caller's aggregator state across
// reconnects. h may be nil (no health reporting).
func runShardLoop(ctx context.Context, url string, handler func([]byte) error, tracker *weightTracker, log *logger.Entry, h *health.Monitor, ch event.Channel) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		tracker.registerAttempt()
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			log.WithError(err).WithField("url", url).Warn("shard dial failed")
			if sleepBackoff(ctx, attempt, rng) {
				return
			}
			attempt++
			continue
		}

		attempt = 0
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPingHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(readTimeout))
			return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(5*time.Second))
		})

		err = readLoop(ctx, conn, handler)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.WithError(err).WithField("url", url).Warn("shard read loop ended; reconnecting")
		}
		tracker.registerOutgoing(1)
		outgoing, attempts := tracker.stats()
		log.WithFields(logger.Fields{"ws_outgoing": outgoing, "ws_attempts": attempts}).Info("shard disconnected")
		if h != nil {
			h.RecordShardHealth(ch, outgoing, attempts)
		}

		if sleepBackoff(ctx, attempt, rng) {
			return
		}
		attempt++
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, handler func([]byte) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := handler(msg); err != nil {
			return err
		}
	}
}

func sleepBackoff(ctx context.Context, attempt int, rng *rand.Rand) (canceled bool) {
	delay := nextBackoff(attempt, rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
