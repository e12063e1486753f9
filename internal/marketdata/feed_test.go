package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/ports"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	ticks []ports.PriceTick
}

func (s *recordingSink) SubmitPriceTick(tick ports.PriceTick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, tick)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

func (s *recordingSink) first() ports.PriceTick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks[0]
}

var upgrader = websocket.Upgrader{}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/feed"
}

func TestWebSocketFeedForwardsDecodedTicks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"scrip_code":"NSE:SBIN","price":512.5,"timestamp_ms":1700000000000}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"scrip_code":"NSE:TCS","price":3500.25,"timestamp_ms":1700000001000}`))
		time.Sleep(200 * time.Millisecond)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sink := &recordingSink{}
	feed := NewWebSocketFeed(wsURL(server), 10*time.Millisecond, nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	require.Eventually(t, func() bool {
		return sink.count() >= 2
	}, time.Second, 5*time.Millisecond)

	first := sink.first()
	require.Equal(t, "NSE:SBIN", first.ScripCode)
	require.Equal(t, 512.5, first.Price)
	require.Equal(t, time.UnixMilli(1700000000000), first.Timestamp)
}

// TestWebSocketFeedSkipsMalformedAndInvalidTicks confirms a bad JSON
// frame, a blank scrip_code, and a non-positive price never reach the
// sink.
func TestWebSocketFeedSkipsMalformedAndInvalidTicks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"scrip_code":"","price":100}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"scrip_code":"NSE:X","price":0}`))
		time.Sleep(100 * time.Millisecond)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sink := &recordingSink{}
	feed := NewWebSocketFeed(wsURL(server), 10*time.Millisecond, nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, sink.count())
}

// TestWebSocketFeedReconnectsAfterDisconnect confirms a dropped
// connection is retried rather than ending the feed permanently.
func TestWebSocketFeedReconnectsAfterDisconnect(t *testing.T) {
	var attempts int32
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"scrip_code":"NSE:Y","price":10}`))
		time.Sleep(200 * time.Millisecond)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sink := &recordingSink{}
	feed := NewWebSocketFeed(wsURL(server), 10*time.Millisecond, nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	require.Eventually(t, func() bool {
		return sink.count() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}
