package infrastructure

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eshop-ordering/internal/pkg/mq"
	"eshop-ordering/internal/service/ordering/domain"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func testOrder() *domain.Order {
	return &domain.Order{
		BuyerID:    "buyer-1",
		BuyerEmail: "buyer@example.com",
		OrderItems: []domain.OrderItem{{ProductID: 1, ProductName: "productA", UnitPrice: 10, Units: 2}},
	}
}

func TestKafkaEventPublisher(t *testing.T) {
	w := &captureWriter{}
	p := NewKafkaEventPublisher(w)

	event := domain.NewPaidEvent("o1", testOrder())
	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "OrderStatusChangedToPaidIntegrationEvent", msg.Topic)
	assert.Equal(t, "o1", string(msg.Key))
	assert.Equal(t, event.EventName(), mq.Header(msg.Headers, HeaderEventType))

	var decoded domain.OrderStatusChangedToPaidIntegrationEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "paid", decoded.OrderStatus)
	assert.Equal(t, []domain.StockItem{{ProductID: 1, Units: 2}}, decoded.OrderStockItems)
}

func TestKafkaEventPublisherRawEvent(t *testing.T) {
	w := &captureWriter{}
	p := NewKafkaEventPublisher(w)

	raw, err := domain.NewRawEvent(domain.NewShippedEvent("o2", testOrder()))
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), raw))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "OrderStatusChangedToShippedIntegrationEvent", w.msgs[0].Topic)
	assert.Equal(t, "o2", string(w.msgs[0].Key))
	assert.JSONEq(t, string(raw.Payload), string(w.msgs[0].Value))
}

func TestKafkaEventPublisherWrapsWriteError(t *testing.T) {
	p := NewKafkaEventPublisher(&captureWriter{err: assert.AnError})
	err := p.Publish(context.Background(), domain.NewShippedEvent("o1", testOrder()))
	assert.ErrorIs(t, err, assert.AnError)
}
