// Package marketdata provides the Price Bus's default live-feed
// adapter (spec §6 names Price Bus as an external collaborator
// specified only by the interface the core consumes; SPEC_FULL.md
// gives Persistence and Trading Hours Port concrete default adapters
// "because a complete repo needs at least one real implementation of
// each" — this package is the same treatment for the Price Bus).
// Grounded in the teacher's internal/marketdata/external BinanceProvider
// (gorilla/websocket dial-then-read-loop, one connection per feed),
// generalized from Binance's multi-stream JSON schema down to the
// single scrip_code/price/timestamp tick this fabric needs.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/ports"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Tick is the wire shape a feed emits: one JSON object per text frame.
type Tick struct {
	ScripCode string  `json:"scrip_code"`
	Price     float64 `json:"price"`
	// TimestampMS is unix millis; zero falls back to receipt time.
	TimestampMS int64 `json:"timestamp_ms"`
}

// Sink receives decoded ticks. *coordinator.Coordinator satisfies this
// with its existing SubmitPriceTick method (spec §5 "drop-newest for
// PriceTick"); the feed never blocks on a full queue.
type Sink interface {
	SubmitPriceTick(tick ports.PriceTick)
}

// WebSocketFeed dials a single websocket endpoint and forwards every
// decoded Tick to Sink, reconnecting on any dial or read error.
type WebSocketFeed struct {
	url            string
	reconnectDelay time.Duration
	logger         *zap.Logger
	sink           Sink
	dialer         *websocket.Dialer
}

// NewWebSocketFeed constructs a feed. url is the full ws(s):// endpoint;
// reconnectDelay is the fixed pause between a disconnect and the next
// dial attempt.
func NewWebSocketFeed(url string, reconnectDelay time.Duration, logger *zap.Logger, sink Sink) *WebSocketFeed {
	return &WebSocketFeed{
		url:            url,
		reconnectDelay: reconnectDelay,
		logger:         logger,
		sink:           sink,
		dialer:         websocket.DefaultDialer,
	}
}

// Run dials and reads until ctx is canceled, reconnecting with a fixed
// delay after every disconnect. Intended to be launched in its own
// goroutine from an fx OnStart hook.
func (f *WebSocketFeed) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := f.runOnce(ctx); err != nil {
			if f.logger != nil {
				f.logger.Warn("market data feed disconnected", zap.String("url", f.url), zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *WebSocketFeed) runOnce(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var tick Tick
		if err := json.Unmarshal(message, &tick); err != nil {
			if f.logger != nil {
				f.logger.Warn("market data feed: malformed tick", zap.Error(err))
			}
			continue
		}
		if tick.ScripCode == "" || tick.Price <= 0 {
			continue
		}
		ts := time.UnixMilli(tick.TimestampMS)
		if tick.TimestampMS == 0 {
			ts = time.Now()
		}
		f.sink.SubmitPriceTick(ports.PriceTick{ScripCode: tick.ScripCode, Price: tick.Price, Timestamp: ts})
	}
}
