package application

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"eshop-ordering/internal/service/ordering/domain"
	"eshop-ordering/internal/service/ordering/port"
)

// 状态存储中使用的键
const (
	KeyOrderDetails  = "OrderDetails"
	KeyOrderStatus   = "OrderStatus"
	KeyPendingEvents = "PendingEvents"
)

func encodeStatus(status domain.OrderStatus) ([]byte, error) {
	data, err := json.Marshal(status)
	return data, errors.Wrap(err, "encode order status")
}

func decodeStatus(data []byte) (domain.OrderStatus, error) {
	var s domain.OrderStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return s, errors.Wrap(err, "decode order status")
	}
	// 只认 ID，防止存储里的名称被篡改
	return domain.StatusFromID(s.ID)
}

func encodeOrder(order *domain.Order) ([]byte, error) {
	data, err := json.Marshal(order)
	return data, errors.Wrap(err, "encode order details")
}

func decodeOrder(data []byte) (*domain.Order, error) {
	var o domain.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, errors.Wrap(err, "decode order details")
	}
	return &o, nil
}

func decodePendingEvents(data []byte) ([]domain.RawEvent, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var events []domain.RawEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, errors.Wrap(err, "decode pending events")
	}
	return events, nil
}

// pendingEventsCleared 是清空后的 outbox
var pendingEventsCleared = []byte("[]")

// readStatus 直接读存储，供生命周期钩子和查询使用
func readStatus(ctx context.Context, store port.StateStore, orderID string) (domain.OrderStatus, bool, error) {
	data, ok, err := store.TryGet(ctx, orderID, KeyOrderStatus)
	if err != nil || !ok {
		return domain.OrderStatus{}, false, err
	}
	status, err := decodeStatus(data)
	if err != nil {
		return domain.OrderStatus{}, false, err
	}
	return status, true, nil
}
