package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// watermillLogger adapts the fabric's zap.Logger to watermill's
// LoggerAdapter, the way the teacher's eventbus adapters do.
func watermillLogger(logger *zap.Logger) watermill.LoggerAdapter {
	if logger == nil {
		return watermill.NopLogger{}
	}
	return watermill.NewStdLoggerWithOut(zap.NewStdLog(logger).Writer(), false, false)
}

// NewGoChannelPublisher builds the default, zero-external-deps
// transport: an in-process pub/sub with no subscriber of its own here
// (the core only publishes; consumers subscribe independently).
func NewGoChannelPublisher(logger *zap.Logger) (message.Publisher, error) {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 1024,
		Persistent:          false,
	}, watermillLogger(logger)), nil
}

// NewNATSPublisher builds a NATS-backed transport for the same
// message.Publisher interface, letting a deployment swap the outbound
// bus without touching Emitter or its ordering contract (SPEC_FULL.md
// §4.F transport note).
func NewNATSPublisher(natsURL string, logger *zap.Logger) (message.Publisher, error) {
	return nats.NewPublisher(
		nats.PublisherConfig{
			URL:       natsURL,
			Marshaler: &nats.GobMarshaler{},
		},
		watermillLogger(logger),
	)
}
