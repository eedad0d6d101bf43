// internal/service/ordering/application/reminders.go
package application

import (
	"context"

	"eshop-ordering/internal/pkg/logger"
	"eshop-ordering/internal/service/ordering/domain"
)

// ReceiveReminder 是调度器触发 reminder 时的入口，签名与 port.FireFunc 一致。
// 未知名称直接忽略。
func (s *OrderingProcessService) ReceiveReminder(ctx context.Context, orderID, name string, payload []byte) error {
	if !domain.IsKnownReminder(name) {
		logger.Ctx(ctx).Debug().Str("order_id", orderID).Str("reminder", name).Msg("Ignoring unknown reminder")
		return nil
	}
	s.metrics.RemindersFired.WithLabelValues(name).Inc()

	return s.invoke(ctx, orderID, "Reminder."+name, func(ctx context.Context, t *turn) error {
		switch name {
		case domain.ReminderGracePeriodElapsed:
			return s.onGracePeriodElapsed(ctx, t)
		case domain.ReminderStockConfirmed:
			return s.onSimulatedWorkDone(ctx, t, name, domain.StatusValidated, func(order *domain.Order) domain.IntegrationEvent {
				return domain.NewValidatedEvent(orderID, order)
			})
		case domain.ReminderStockRejected:
			return s.onStockRejected(ctx, t, payload)
		case domain.ReminderPaymentSucceeded:
			return s.onSimulatedWorkDone(ctx, t, name, domain.StatusPaid, func(order *domain.Order) domain.IntegrationEvent {
				return domain.NewPaidEvent(orderID, order)
			})
		case domain.ReminderPaymentFailed:
			return s.onSimulatedWorkDone(ctx, t, name, domain.StatusPaid, func(order *domain.Order) domain.IntegrationEvent {
				return domain.NewCancelledEvent(orderID, order, domain.DescriptionPaymentFailed)
			})
		}
		return nil
	})
}

// 宽限期结束: Submitted -> AwaitingStockValidation
func (s *OrderingProcessService) onGracePeriodElapsed(ctx context.Context, t *turn) error {
	ok, err := t.tryTransition(ctx, domain.ReminderGracePeriodElapsed, domain.StatusSubmitted, domain.StatusAwaitingStockValidation, domain.DescriptionAwaitingStockValidation)
	if err != nil || !ok {
		return err
	}
	order, found, err := t.readOrder(ctx)
	if err != nil || !found {
		return err
	}
	t.publish(domain.NewAwaitingStockValidationEvent(t.orderID, order))
	return nil
}

// onSimulatedWorkDone 在模拟的外部处理完成后发布事件。
// 状态已经不是触发它的通知写入的状态时，说明订单已经往前走了，直接跳过。
func (s *OrderingProcessService) onSimulatedWorkDone(ctx context.Context, t *turn, name string, want domain.OrderStatus, build func(*domain.Order) domain.IntegrationEvent) error {
	order, ok, err := s.loadForContinuation(ctx, t, name, want)
	if err != nil || !ok {
		return err
	}
	t.publish(build(order))
	return nil
}

func (s *OrderingProcessService) onStockRejected(ctx context.Context, t *turn, payload []byte) error {
	rejected, err := domain.DecodeRejectedStock(payload)
	if err != nil {
		// 负载坏了重试也没有意义
		logger.Ctx(ctx).Error().Err(err).Str("order_id", t.orderID).Msg("Dropping stock rejected reminder with invalid payload")
		return nil
	}
	order, ok, err := s.loadForContinuation(ctx, t, domain.ReminderStockRejected, domain.StatusCancelled)
	if err != nil || !ok {
		return err
	}
	description := domain.StockRejectedDescription(order.ProductNames(rejected.ProductIDs))
	t.publish(domain.NewCancelledEvent(t.orderID, order, description))
	return nil
}

// loadForContinuation 只在状态仍是 want 时返回订单快照。
// commit 先注册 reminder 再写状态，写状态失败时 reminder 已经落地，
// 所以 continuation 触发时必须确认状态确实完成了那次流转，否则什么也不发布。
// 订单在延迟期间被取消时同样跳过。
func (s *OrderingProcessService) loadForContinuation(ctx context.Context, t *turn, name string, want domain.OrderStatus) (*domain.Order, bool, error) {
	status, ok, err := t.readStatus(ctx)
	if err != nil {
		return nil, false, err
	}
	order, found, err := t.readOrder(ctx)
	if err != nil {
		return nil, false, err
	}
	if !ok || !found {
		s.rejectNotFound(ctx, t.orderID, name)
		return nil, false, nil
	}
	if status != want {
		s.metrics.GuardRejections.WithLabelValues(name, "stale_continuation").Inc()
		logger.Ctx(ctx).Warn().Str("order_id", t.orderID).Str("reminder", name).
			Str("expected", want.Name).Str("actual", status.Name).
			Msg("Stale reminder, nothing to publish")
		return nil, false, nil
	}
	return order, true, nil
}
