package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"github.com/stretchr/testify/require"
)

// newTestBus relies on gochannel.NewGoChannel's concrete type being
// both message.Publisher and message.Subscriber: NewGoChannelPublisher
// only hands back the Publisher half, so this helper asserts the same
// value back to a Subscriber to observe delivery.
func newTestBus(t *testing.T) (message.Publisher, message.Subscriber) {
	pub, err := NewGoChannelPublisher(nil)
	require.NoError(t, err)
	sub, ok := pub.(message.Subscriber)
	require.True(t, ok, "gochannel publisher must also satisfy message.Subscriber")
	return pub, sub
}

func TestTradeExitPrecedesPortfolioUpdateOnTheWire(t *testing.T) {
	pub, sub := newTestBus(t)
	defer pub.Close()

	e := New(nil, pub, nil, "")
	defer e.Close()

	exitMsgs, err := sub.Subscribe(context.Background(), topicFor(domain.EventTradeExit))
	require.NoError(t, err)
	updateMsgs, err := sub.Subscribe(context.Background(), topicFor(domain.EventPortfolioUpdate))
	require.NoError(t, err)

	require.NoError(t, e.Publish(context.Background(), domain.EventTradeExit, domain.TradeExitEvent{TradeID: "T1"}))
	require.NoError(t, e.Publish(context.Background(), domain.EventPortfolioUpdate, domain.PortfolioUpdateEvent{CurrentValue: 1000}))

	select {
	case msg := <-exitMsgs:
		var got domain.TradeExitEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		require.Equal(t, "T1", got.TradeID)
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trade-exit event")
	}

	select {
	case msg := <-updateMsgs:
		var got domain.PortfolioUpdateEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		require.Equal(t, 1000.0, got.CurrentValue)
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for portfolio-update event")
	}
}

func TestEmitterNotifiesChatBestEffort(t *testing.T) {
	pub, _ := newTestBus(t)
	defer pub.Close()

	chat := &recordingChat{}
	e := New(nil, pub, chat, "#trades")
	defer e.Close()

	require.NoError(t, e.Publish(context.Background(), domain.EventTradeEntry, domain.TradeEntryEvent{TradeID: "T1", ScripCode: "X"}))

	require.Eventually(t, func() bool {
		return chat.count() == 1
	}, time.Second, 5*time.Millisecond)
}

type recordingChat struct {
	mu sync.Mutex
	n  int
}

func (c *recordingChat) Send(_ context.Context, _ string, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *recordingChat) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestTradeExitEventRoundTripsThroughJSON(t *testing.T) {
	payload := domain.TradeExitEvent{TradeID: "T2", ScripCode: "Y", RealizedPL: 42.5}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	var roundTrip domain.TradeExitEvent
	require.NoError(t, json.Unmarshal(data, &roundTrip))
	require.Equal(t, payload, roundTrip)
}
