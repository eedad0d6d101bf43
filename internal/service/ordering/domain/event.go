// internal/service/ordering/domain/event.go
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// IntegrationEvent 是发布给外部消费者的不可变事件
type IntegrationEvent interface {
	// EventName 同时用作 Kafka topic
	EventName() string
	// Key 为分区键，即订单 ID
	Key() string
}

// EventBase 是所有订单状态变更事件的公共字段
type EventBase struct {
	ID           string    `json:"id"`
	CreationDate time.Time `json:"creationDate"`
	OrderID      string    `json:"orderId"`
	OrderStatus  string    `json:"orderStatus"`
	Description  string    `json:"description"`
	BuyerID      string    `json:"buyerId"`
}

func newEventBase(orderID string, status OrderStatus, description, buyerID string) EventBase {
	return EventBase{
		ID:           uuid.NewString(),
		CreationDate: time.Now().UTC(),
		OrderID:      orderID,
		OrderStatus:  status.Name,
		Description:  description,
		BuyerID:      buyerID,
	}
}

func (b EventBase) Key() string { return b.OrderID }

type OrderStatusChangedToSubmittedIntegrationEvent struct {
	EventBase
	BuyerEmail string `json:"buyerEmail"`
}

func (OrderStatusChangedToSubmittedIntegrationEvent) EventName() string {
	return "OrderStatusChangedToSubmittedIntegrationEvent"
}

type OrderStatusChangedToAwaitingStockValidationIntegrationEvent struct {
	EventBase
	OrderStockItems []StockItem `json:"orderStockItems"`
}

func (OrderStatusChangedToAwaitingStockValidationIntegrationEvent) EventName() string {
	return "OrderStatusChangedToAwaitingStockValidationIntegrationEvent"
}

type OrderStatusChangedToValidatedIntegrationEvent struct {
	EventBase
	Total float64 `json:"total"`
}

func (OrderStatusChangedToValidatedIntegrationEvent) EventName() string {
	return "OrderStatusChangedToValidatedIntegrationEvent"
}

type OrderStatusChangedToPaidIntegrationEvent struct {
	EventBase
	OrderStockItems []StockItem `json:"orderStockItems"`
}

func (OrderStatusChangedToPaidIntegrationEvent) EventName() string {
	return "OrderStatusChangedToPaidIntegrationEvent"
}

type OrderStatusChangedToShippedIntegrationEvent struct {
	EventBase
}

func (OrderStatusChangedToShippedIntegrationEvent) EventName() string {
	return "OrderStatusChangedToShippedIntegrationEvent"
}

type OrderStatusChangedToCancelledIntegrationEvent struct {
	EventBase
}

func (OrderStatusChangedToCancelledIntegrationEvent) EventName() string {
	return "OrderStatusChangedToCancelledIntegrationEvent"
}

// NewSubmittedEvent 等工厂函数统一填充事件 ID 与时间
func NewSubmittedEvent(orderID string, order *Order) *OrderStatusChangedToSubmittedIntegrationEvent {
	return &OrderStatusChangedToSubmittedIntegrationEvent{
		EventBase:  newEventBase(orderID, StatusSubmitted, order.Description, order.BuyerID),
		BuyerEmail: order.BuyerEmail,
	}
}

func NewAwaitingStockValidationEvent(orderID string, order *Order) *OrderStatusChangedToAwaitingStockValidationIntegrationEvent {
	return &OrderStatusChangedToAwaitingStockValidationIntegrationEvent{
		EventBase:       newEventBase(orderID, StatusAwaitingStockValidation, DescriptionAwaitingStockValidation, order.BuyerID),
		OrderStockItems: order.StockItems(),
	}
}

func NewValidatedEvent(orderID string, order *Order) *OrderStatusChangedToValidatedIntegrationEvent {
	return &OrderStatusChangedToValidatedIntegrationEvent{
		EventBase: newEventBase(orderID, StatusValidated, DescriptionValidated, order.BuyerID),
		Total:     order.Total(),
	}
}

func NewPaidEvent(orderID string, order *Order) *OrderStatusChangedToPaidIntegrationEvent {
	return &OrderStatusChangedToPaidIntegrationEvent{
		EventBase:       newEventBase(orderID, StatusPaid, DescriptionPaid, order.BuyerID),
		OrderStockItems: order.StockItems(),
	}
}

func NewShippedEvent(orderID string, order *Order) *OrderStatusChangedToShippedIntegrationEvent {
	return &OrderStatusChangedToShippedIntegrationEvent{
		EventBase: newEventBase(orderID, StatusShipped, DescriptionShipped, order.BuyerID),
	}
}

func NewCancelledEvent(orderID string, order *Order, description string) *OrderStatusChangedToCancelledIntegrationEvent {
	return &OrderStatusChangedToCancelledIntegrationEvent{
		EventBase: newEventBase(orderID, StatusCancelled, description, order.BuyerID),
	}
}

// RawEvent 是已经序列化好的事件，用于 outbox 中断后的重放
type RawEvent struct {
	Name    string          `json:"name"`
	OrderID string          `json:"orderId"`
	Payload json.RawMessage `json:"payload"`
}

func (e RawEvent) EventName() string { return e.Name }
func (e RawEvent) Key() string       { return e.OrderID }

// EncodeEvent 返回事件的消息体，RawEvent 直接使用原始负载
func EncodeEvent(event IntegrationEvent) ([]byte, error) {
	if raw, ok := event.(RawEvent); ok {
		return raw.Payload, nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s", event.EventName())
	}
	return data, nil
}

// NewRawEvent 把一个类型化事件编码为 RawEvent
func NewRawEvent(event IntegrationEvent) (RawEvent, error) {
	data, err := EncodeEvent(event)
	if err != nil {
		return RawEvent{}, err
	}
	return RawEvent{Name: event.EventName(), OrderID: event.Key(), Payload: data}, nil
}
