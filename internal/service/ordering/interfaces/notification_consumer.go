// internal/service/ordering/interfaces/notification_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"eshop-ordering/internal/pkg/logger"
	"eshop-ordering/internal/pkg/mq"
	"eshop-ordering/internal/service/ordering/domain"
)

// 通知类型
const (
	NotificationStockConfirmed   = "stock-confirmed"
	NotificationStockRejected    = "stock-rejected"
	NotificationPaymentSucceeded = "payment-succeeded"
	NotificationPaymentFailed    = "payment-failed"
	NotificationCancel           = "cancel"
	NotificationShip             = "ship"
)

var ErrUnknownNotification = errors.New("unknown notification type")

// Notification 是库存、支付等上游服务发来的消息
type Notification struct {
	Type               string `json:"type"`
	OrderID            string `json:"orderId"`
	RejectedProductIDs []int  `json:"rejectedProductIds,omitempty"`
}

// OrderingProcess 是 consumer 驱动的入站操作
type OrderingProcess interface {
	NotifyStockConfirmed(ctx context.Context, orderID string) error
	NotifyStockRejected(ctx context.Context, orderID string, rejectedProductIDs []int) error
	NotifyPaymentSucceeded(ctx context.Context, orderID string) error
	NotifyPaymentFailed(ctx context.Context, orderID string) error
	Cancel(ctx context.Context, orderID string) (bool, error)
	Ship(ctx context.Context, orderID string) (bool, error)
}

// MessageReader 是 *kafka.Reader 的最小子集
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterWriter 是 *kafka.Writer 的最小子集
type DeadLetterWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NotificationConsumer 消费通知 topic 并驱动订单流程
type NotificationConsumer struct {
	reader   MessageReader
	process  OrderingProcess
	attempts int
	backoff  time.Duration

	dlt      DeadLetterWriter
	dltTopic string
}

func NewNotificationConsumer(reader MessageReader, process OrderingProcess) *NotificationConsumer {
	return &NotificationConsumer{reader: reader, process: process, attempts: 3, backoff: time.Second}
}

// WithDeadLetter 让重试耗尽的通知转发到死信 topic 后再提交 offset。
// 不配置时这类通知不提交，一直重试到下游恢复。
func (c *NotificationConsumer) WithDeadLetter(w DeadLetterWriter, topic string) *NotificationConsumer {
	if w != nil && topic != "" {
		c.dlt, c.dltTopic = w, topic
	}
	return c
}

// Run 阻塞直到 ctx 结束。
// 只有处理成功、永远无法成功或已经进入死信的消息才提交 offset。
func (c *NotificationConsumer) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Msg("✅ Notification consumer started")
	defer func() {
		if err := c.reader.Close(); err != nil {
			logger.L().Error().Err(err).Msg("Failed to close notification reader")
		}
	}()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("🛑 Notification consumer shutting down")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("Could not read notification, retrying")
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		if !c.processMessage(ctx, msg) {
			// ctx 已结束，offset 留给下一个消费者重新投递
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit notification offset")
		}
	}
}

// processMessage 返回 offset 是否可以提交
func (c *NotificationConsumer) processMessage(parent context.Context, msg kafka.Message) bool {
	ctx := mq.ExtractTraceContext(parent, msg.Headers)

	var n Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("Skipping malformed notification")
		return true
	}
	if n.OrderID == "" {
		logger.Ctx(ctx).Error().Str("type", n.Type).Int64("offset", msg.Offset).Msg("Skipping notification without order id")
		return true
	}

	for {
		err := c.dispatchWithRetry(ctx, n)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if isPermanent(err) {
			logger.Ctx(ctx).Error().Err(err).Str("order_id", n.OrderID).Str("type", n.Type).
				Msg("Dropping notification that can never succeed")
			return true
		}
		if c.forwardToDeadLetter(ctx, msg, err) {
			return true
		}
		logger.Ctx(ctx).Error().Err(err).Str("order_id", n.OrderID).Str("type", n.Type).Int64("offset", msg.Offset).
			Msg("Notification keeps failing, holding offset")
		if !sleep(ctx, c.backoff) {
			return false
		}
	}
}

func (c *NotificationConsumer) dispatchWithRetry(ctx context.Context, n Notification) error {
	for attempt := 1; ; attempt++ {
		err := c.Dispatch(ctx, n)
		if err == nil || isPermanent(err) || attempt >= c.attempts {
			return err
		}
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", n.OrderID).Str("type", n.Type).Int("attempt", attempt).
			Msg("Notification failed, retrying")
		if !sleep(ctx, c.backoff) {
			return ctx.Err()
		}
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrUnknownNotification) || errors.Is(err, domain.ErrEmptyRejection)
}

// forwardToDeadLetter 把原消息连同来源和异常信息写入死信 topic
func (c *NotificationConsumer) forwardToDeadLetter(ctx context.Context, msg kafka.Message, cause error) bool {
	if c.dlt == nil {
		return false
	}
	headers := append([]kafka.Header{}, msg.Headers...)
	carrier := mq.KafkaHeaderCarrier(headers)
	carrier.Set(mq.HeaderOriginalTopic, msg.Topic)
	carrier.Set(mq.HeaderOriginalPartition, strconv.Itoa(msg.Partition))
	carrier.Set(mq.HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	carrier.Set(mq.HeaderExceptionFqcn, fmt.Sprintf("%T", errors.Cause(cause)))
	carrier.Set(mq.HeaderExceptionMessage, cause.Error())

	err := c.dlt.WriteMessages(ctx, kafka.Message{
		Topic:   c.dltTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: carrier,
	})
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("topic", c.dltTopic).Msg("Failed to forward notification to dead letter topic")
		return false
	}
	logger.Ctx(ctx).Error().Err(cause).Str("topic", c.dltTopic).Int64("offset", msg.Offset).
		Msg("🚨 Notification moved to dead letter topic")
	return true
}

// Dispatch 把一条通知路由到对应的操作
func (c *NotificationConsumer) Dispatch(ctx context.Context, n Notification) error {
	switch n.Type {
	case NotificationStockConfirmed:
		return c.process.NotifyStockConfirmed(ctx, n.OrderID)
	case NotificationStockRejected:
		return c.process.NotifyStockRejected(ctx, n.OrderID, n.RejectedProductIDs)
	case NotificationPaymentSucceeded:
		return c.process.NotifyPaymentSucceeded(ctx, n.OrderID)
	case NotificationPaymentFailed:
		return c.process.NotifyPaymentFailed(ctx, n.OrderID)
	case NotificationCancel:
		ok, err := c.process.Cancel(ctx, n.OrderID)
		if err == nil {
			logger.Ctx(ctx).Info().Str("order_id", n.OrderID).Bool("cancelled", ok).Msg("Cancel handled")
		}
		return err
	case NotificationShip:
		ok, err := c.process.Ship(ctx, n.OrderID)
		if err == nil {
			logger.Ctx(ctx).Info().Str("order_id", n.OrderID).Bool("shipped", ok).Msg("Ship handled")
		}
		return err
	}
	return errors.Wrapf(ErrUnknownNotification, "%q", n.Type)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
