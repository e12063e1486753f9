// Package events implements the Event Emitter (spec §4.F) over
// watermill's message.Publisher, the way the teacher's
// architecture/cqrs/eventbus adapters wrap gochannel/NATS behind one
// interface. Ordering ("trade-exit before portfolio-update") is
// enforced here, per stream, by a single writer goroutine — not by
// whichever transport is plugged in underneath.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"github.com/abdoelhodaky/tradefabric/internal/ports"
	"go.uber.org/zap"
)

const topicPrefix = "tradefabric.events."

func topicFor(kind domain.EventKind) string {
	return topicPrefix + string(kind)
}

// stream is one single-writer-goroutine outbound queue for an
// EventKind. Buffered so Publish (called from inside the Position
// Manager's scrip-slot critical section) never blocks on I/O.
type stream struct {
	ch chan *message.Message
}

// Emitter implements ports.EventPublisher.
type Emitter struct {
	logger    *zap.Logger
	publisher message.Publisher
	chat      ports.ChatPort
	chatCh    string

	mu      sync.Mutex
	streams map[domain.EventKind]*stream

	wg     sync.WaitGroup
	closed bool
}

// New constructs an Emitter over the given watermill Publisher.
// chat/chatCh may be nil/"" to disable best-effort chat notifications.
func New(logger *zap.Logger, publisher message.Publisher, chat ports.ChatPort, chatCh string) *Emitter {
	return &Emitter{
		logger:    logger,
		publisher: publisher,
		chat:      chat,
		chatCh:    chatCh,
		streams:   make(map[domain.EventKind]*stream),
	}
}

func (e *Emitter) streamFor(kind domain.EventKind) *stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.streams[kind]
	if ok {
		return s
	}
	s = &stream{ch: make(chan *message.Message, 256)}
	e.streams[kind] = s
	e.wg.Add(1)
	go e.runWriter(kind, s)
	return s
}

func (e *Emitter) runWriter(kind domain.EventKind, s *stream) {
	defer e.wg.Done()
	topic := topicFor(kind)
	for msg := range s.ch {
		if err := e.publisher.Publish(topic, msg); err != nil && e.logger != nil {
			e.logger.Error("event publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// Publish implements ports.EventPublisher. The payload is marshaled to
// JSON and handed to the kind's single writer goroutine; chat
// notification is fired best-effort alongside (spec §4.F "failures do
// not rollback state").
func (e *Emitter) Publish(ctx context.Context, kind domain.EventKind, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", kind, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)

	s := e.streamFor(kind)
	select {
	case s.ch <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.notifyChat(kind, payload)
	return nil
}

// notifyChat is fire-and-forget: a chat failure never surfaces to the
// caller (spec §4.F "best-effort").
func (e *Emitter) notifyChat(kind domain.EventKind, payload interface{}) {
	if e.chat == nil || e.chatCh == "" {
		return
	}
	switch kind {
	case domain.EventTradeEntry, domain.EventTradeExitPartial, domain.EventTradeExit, domain.EventTradeResult:
	default:
		return
	}
	go func() {
		text := fmt.Sprintf("%s: %+v", kind, payload)
		if err := e.chat.Send(context.Background(), e.chatCh, text); err != nil && e.logger != nil {
			e.logger.Warn("chat notification failed", zap.String("kind", string(kind)), zap.Error(err))
		}
	}()
}

// Close drains and stops every stream's writer goroutine. Safe to call
// once; subsequent calls are no-ops.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	streams := make([]*stream, 0, len(e.streams))
	for _, s := range e.streams {
		streams = append(streams, s)
	}
	e.mu.Unlock()

	for _, s := range streams {
		close(s.ch)
	}
	e.wg.Wait()
}
