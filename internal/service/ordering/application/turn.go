// internal/service/ordering/application/turn.go
package application

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"eshop-ordering/internal/pkg/logger"
	"eshop-ordering/internal/service/ordering/domain"
)

// turn 收集一次调用内的全部副作用，最后按固定顺序提交:
// 1. 注册 reminder  2. 原子写入状态 + outbox  3. 发布事件  4. 清空 outbox
// 第 2 步之前失败不会改变任何持久化状态; 事件永远在状态写入确认之后才发布。
type turn struct {
	svc     *OrderingProcessService
	orderID string

	status       domain.OrderStatus
	statusExists bool
	statusLoaded bool

	order       *domain.Order
	orderLoaded bool

	writes      map[string][]byte
	reminders   []domain.Reminder
	events      []domain.IntegrationEvent
	transitions [][2]domain.OrderStatus

	replayed []string // 本 turn 开始时从 outbox 重放的事件名
}

func newTurn(svc *OrderingProcessService, orderID string) *turn {
	return &turn{
		svc:     svc,
		orderID: orderID,
		writes:  make(map[string][]byte),
	}
}

// readStatus 读取当前状态，本 turn 内的写入优先
func (t *turn) readStatus(ctx context.Context) (domain.OrderStatus, bool, error) {
	if t.statusLoaded {
		return t.status, t.statusExists, nil
	}
	status, ok, err := readStatus(ctx, t.svc.store, t.orderID)
	if err != nil {
		return domain.OrderStatus{}, false, errors.Wrapf(err, "read status of order %s", t.orderID)
	}
	t.status, t.statusExists, t.statusLoaded = status, ok, true
	return status, ok, nil
}

func (t *turn) readOrder(ctx context.Context) (*domain.Order, bool, error) {
	if t.orderLoaded {
		return t.order, t.order != nil, nil
	}
	data, ok, err := t.svc.store.TryGet(ctx, t.orderID, KeyOrderDetails)
	if err != nil {
		return nil, false, errors.Wrapf(err, "read details of order %s", t.orderID)
	}
	t.orderLoaded = true
	if !ok {
		return nil, false, nil
	}
	order, err := decodeOrder(data)
	if err != nil {
		return nil, false, err
	}
	t.order = order
	return order, true, nil
}

func (t *turn) writeStatus(status domain.OrderStatus) error {
	data, err := encodeStatus(status)
	if err != nil {
		return err
	}
	if t.statusExists {
		t.transitions = append(t.transitions, [2]domain.OrderStatus{t.status, status})
	} else {
		t.transitions = append(t.transitions, [2]domain.OrderStatus{{}, status})
	}
	t.writes[KeyOrderStatus] = data
	t.status, t.statusExists, t.statusLoaded = status, true, true
	return nil
}

func (t *turn) writeOrder(order *domain.Order) error {
	data, err := encodeOrder(order)
	if err != nil {
		return err
	}
	t.writes[KeyOrderDetails] = data
	t.order, t.orderLoaded = order, true
	return nil
}

func (t *turn) schedule(reminder domain.Reminder) {
	t.reminders = append(t.reminders, reminder)
}

func (t *turn) publish(event domain.IntegrationEvent) {
	t.events = append(t.events, event)
}

// tryTransition 是带守卫的状态流转。
// 订单不存在或当前状态不等于 expected 时只记录日志，返回 false，不写任何东西。
func (t *turn) tryTransition(ctx context.Context, operation string, expected, next domain.OrderStatus, description string) (bool, error) {
	current, ok, err := t.readStatus(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		t.svc.rejectNotFound(ctx, t.orderID, operation)
		return false, nil
	}
	if err := domain.AttemptTransition(current, expected, next); err != nil {
		t.svc.metrics.GuardRejections.WithLabelValues(operation, "precondition_mismatch").Inc()
		logger.Ctx(ctx).Warn().
			Str("order_id", t.orderID).
			Str("operation", operation).
			Str("expected", expected.Name).
			Str("actual", current.Name).
			Msg("Order status precondition mismatch, transition skipped")
		return false, nil
	}

	if err := t.writeStatus(next); err != nil {
		return false, err
	}
	order, ok, err := t.readOrder(ctx)
	if err != nil {
		return false, err
	}
	if ok {
		if err := t.writeOrder(order.WithStatus(next, description)); err != nil {
			return false, err
		}
	}
	return true, nil
}

// flushOutbox 重放上一个 turn 写入但没来得及发布的事件
func (t *turn) flushOutbox(ctx context.Context) error {
	data, ok, err := t.svc.store.TryGet(ctx, t.orderID, KeyPendingEvents)
	if err != nil {
		return errors.Wrapf(err, "read pending events of order %s", t.orderID)
	}
	if !ok {
		return nil
	}
	pending, err := decodePendingEvents(data)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	logger.Ctx(ctx).Info().Str("order_id", t.orderID).Int("count", len(pending)).Msg("Republishing pending events")
	for _, event := range pending {
		if err := t.svc.publishEvent(ctx, event); err != nil {
			return err
		}
		t.replayed = append(t.replayed, event.EventName())
	}
	return errors.Wrap(t.svc.store.Set(ctx, t.orderID, KeyPendingEvents, pendingEventsCleared), "clear pending events")
}

func (t *turn) hasReplayed(eventName string) bool {
	for _, name := range t.replayed {
		if name == eventName {
			return true
		}
	}
	return false
}

func (t *turn) commit(ctx context.Context) error {
	for _, reminder := range t.reminders {
		if err := t.svc.scheduler.RegisterReminder(ctx, t.orderID, reminder); err != nil {
			return errors.Wrapf(err, "register reminder %s for order %s", reminder.Name, t.orderID)
		}
	}

	if len(t.events) > 0 {
		pending := make([]domain.RawEvent, 0, len(t.events))
		for _, event := range t.events {
			raw, err := domain.NewRawEvent(event)
			if err != nil {
				return err
			}
			pending = append(pending, raw)
		}
		data, err := json.Marshal(pending)
		if err != nil {
			return errors.Wrap(err, "encode pending events")
		}
		t.writes[KeyPendingEvents] = data
	}

	if len(t.writes) > 0 {
		if err := t.svc.store.SetMany(ctx, t.orderID, t.writes); err != nil {
			return errors.Wrapf(err, "save state of order %s", t.orderID)
		}
		for _, tr := range t.transitions {
			t.svc.metrics.Transitions.WithLabelValues(statusLabel(tr[0]), statusLabel(tr[1])).Inc()
		}
	}

	if len(t.events) == 0 {
		return nil
	}
	for _, event := range t.events {
		if err := t.svc.publishEvent(ctx, event); err != nil {
			return err
		}
	}
	return errors.Wrap(t.svc.store.Set(ctx, t.orderID, KeyPendingEvents, pendingEventsCleared), "clear pending events")
}

func statusLabel(s domain.OrderStatus) string {
	if s.Name == "" {
		return "none"
	}
	return s.Name
}
