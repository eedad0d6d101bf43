// internal/service/ordering/infrastructure/kafka_publisher.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"eshop-ordering/internal/pkg/mq"
	"eshop-ordering/internal/service/ordering/domain"
)

// HeaderEventType 携带事件名，消费者不用解析消息体就能路由
const HeaderEventType = "event-type"

// MessageWriter 是 *kafka.Writer 的最小子集
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaEventPublisher 把每个集成事件写到以事件名命名的 topic，分区键为订单 ID
type KafkaEventPublisher struct {
	writer MessageWriter
}

// NewKafkaEventPublisher 要求 writer 不绑定 topic
func NewKafkaEventPublisher(writer MessageWriter) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, event domain.IntegrationEvent) error {
	msg, err := buildEventMessage(ctx, event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s to kafka", event.EventName())
	}
	return nil
}

func buildEventMessage(ctx context.Context, event domain.IntegrationEvent) (kafka.Message, error) {
	value, err := domain.EncodeEvent(event)
	if err != nil {
		return kafka.Message{}, err
	}
	headers := []kafka.Header{{Key: HeaderEventType, Value: []byte(event.EventName())}}
	mq.InjectTraceContext(ctx, &headers)
	return kafka.Message{
		Topic:   event.EventName(),
		Key:     []byte(event.Key()),
		Value:   value,
		Headers: headers,
	}, nil
}
