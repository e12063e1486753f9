package broker

import (
	"context"

	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// LoggingBroker is a placeholder ports.BrokerPort: the concrete broker
// HTTP client is out of scope (spec §1 "specified only by the
// interfaces the core consumes"). It acknowledges every order
// immediately with a fresh order ID, but FetchOrderBook always returns
// an empty book, so the Order Verifier never finds a placed order's
// entry and keeps treating it as pending until its verification
// timeout. A deployment wires a real client in its place behind the
// same ports.BrokerPort interface.
type LoggingBroker struct {
	logger *zap.Logger
}

// NewLoggingBroker constructs the placeholder broker.
func NewLoggingBroker(logger *zap.Logger) *LoggingBroker {
	return &LoggingBroker{logger: logger}
}

func (b *LoggingBroker) PlaceMarketOrder(ctx context.Context, scripCode, exchange, exchangeType string, side domain.OrderSide, qty int64) (domain.BrokerOrderAck, error) {
	orderID := ksuid.New().String()
	if b.logger != nil {
		b.logger.Info("placeholder broker: order placed",
			zap.String("order_id", orderID), zap.String("scrip_code", scripCode),
			zap.String("exchange", exchange), zap.String("side", string(side)), zap.Int64("qty", qty))
	}
	return domain.BrokerOrderAck{OrderID: orderID}, nil
}

func (b *LoggingBroker) FetchOrderBook(ctx context.Context) ([]domain.BrokerBookEntry, error) {
	return nil, nil
}
