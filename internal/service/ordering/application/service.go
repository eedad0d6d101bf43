// internal/service/ordering/application/service.go
package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"eshop-ordering/internal/pkg/actor"
	"eshop-ordering/internal/pkg/logger"
	"eshop-ordering/internal/pkg/metrics"
	"eshop-ordering/internal/service/ordering/domain"
	"eshop-ordering/internal/service/ordering/port"
)

// OrderingProcessService 是订单流程的核心: 校验每一次状态流转，持久化新状态和订单快照，
// 调度后续的延迟动作，并在每次成功流转后发布事件。
// 所有对同一订单的调用和 reminder 都通过 actor.Runtime 串行执行。
type OrderingProcessService struct {
	store     port.StateStore
	scheduler port.ReminderScheduler
	publisher port.EventPublisher
	runtime   *actor.Runtime
	settings  Settings
	tracer    trace.Tracer
	metrics   *metrics.OrderingMetrics

	now func() time.Time
}

func NewOrderingProcessService(store port.StateStore, scheduler port.ReminderScheduler, publisher port.EventPublisher, runtime *actor.Runtime, settings Settings, tracer trace.Tracer, m *metrics.OrderingMetrics) *OrderingProcessService {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("ordering")
	}
	if m == nil {
		m = metrics.NewOrderingMetrics(prometheus.NewRegistry())
	}
	return &OrderingProcessService{
		store: store, scheduler: scheduler, publisher: publisher,
		runtime: runtime, settings: settings,
		tracer: tracer, metrics: m,
		now: time.Now,
	}
}

// SubmitRequest 是提交订单的输入
type SubmitRequest struct {
	BuyerID    string
	BuyerEmail string
	Address    domain.Address
	Basket     domain.CustomerBasket
}

// Submit 从购物车创建订单，启动宽限期计时器，并发布 submitted 事件。
// 对同一订单重复提交会直接覆盖，调用方负责幂等。
func (s *OrderingProcessService) Submit(ctx context.Context, orderID string, req SubmitRequest) error {
	return s.invoke(ctx, orderID, "Submit", func(ctx context.Context, t *turn) error {
		if existing, ok, err := t.readStatus(ctx); err != nil {
			return err
		} else if ok {
			logger.Ctx(ctx).Warn().Str("order_id", orderID).Str("status", existing.Name).
				Msg("Order was already submitted, overwriting")
		}

		order := domain.NewOrder(req.BuyerID, req.BuyerEmail, req.Address, req.Basket, s.now().UTC())
		if err := t.writeOrder(order); err != nil {
			return err
		}
		if err := t.writeStatus(domain.StatusSubmitted); err != nil {
			return err
		}
		t.schedule(domain.OneShot(domain.ReminderGracePeriodElapsed, s.settings.GracePeriod))
		t.publish(domain.NewSubmittedEvent(orderID, order))
		return nil
	})
}

func (s *OrderingProcessService) NotifyStockConfirmed(ctx context.Context, orderID string) error {
	return s.invoke(ctx, orderID, "NotifyStockConfirmed", func(ctx context.Context, t *turn) error {
		ok, err := t.tryTransition(ctx, "NotifyStockConfirmed", domain.StatusAwaitingStockValidation, domain.StatusValidated, domain.DescriptionValidated)
		if err != nil || !ok {
			return err
		}
		t.schedule(domain.OneShot(domain.ReminderStockConfirmed, s.settings.SimulatedWorkDelay))
		return nil
	})
}

// NotifyStockRejected 的负载在调度前就完成校验，空列表直接返回 domain.ErrEmptyRejection
func (s *OrderingProcessService) NotifyStockRejected(ctx context.Context, orderID string, rejectedProductIDs []int) error {
	reminder, err := domain.NewStockRejectedReminder(rejectedProductIDs, s.settings.SimulatedWorkDelay)
	if err != nil {
		return err
	}
	return s.invoke(ctx, orderID, "NotifyStockRejected", func(ctx context.Context, t *turn) error {
		var description string
		if order, ok, err := t.readOrder(ctx); err != nil {
			return err
		} else if ok {
			description = domain.StockRejectedDescription(order.ProductNames(rejectedProductIDs))
		}

		ok, err := t.tryTransition(ctx, "NotifyStockRejected", domain.StatusAwaitingStockValidation, domain.StatusCancelled, description)
		if err != nil || !ok {
			return err
		}
		t.schedule(reminder)
		return nil
	})
}

func (s *OrderingProcessService) NotifyPaymentSucceeded(ctx context.Context, orderID string) error {
	return s.invoke(ctx, orderID, "NotifyPaymentSucceeded", func(ctx context.Context, t *turn) error {
		ok, err := t.tryTransition(ctx, "NotifyPaymentSucceeded", domain.StatusValidated, domain.StatusPaid, domain.DescriptionPaid)
		if err != nil || !ok {
			return err
		}
		t.schedule(domain.OneShot(domain.ReminderPaymentSucceeded, s.settings.SimulatedWorkDelay))
		return nil
	})
}

// NotifyPaymentFailed 沿用了线上一直以来的守卫 Validated -> Paid，和成功路径完全一样。
// 失败路径理应进入一个可取消的状态，产品确认之前保持现状。
func (s *OrderingProcessService) NotifyPaymentFailed(ctx context.Context, orderID string) error {
	return s.invoke(ctx, orderID, "NotifyPaymentFailed", func(ctx context.Context, t *turn) error {
		ok, err := t.tryTransition(ctx, "NotifyPaymentFailed", domain.StatusValidated, domain.StatusPaid, domain.DescriptionPaymentRejected)
		if err != nil || !ok {
			return err
		}
		t.schedule(domain.OneShot(domain.ReminderPaymentFailed, s.settings.SimulatedWorkDelay))
		return nil
	})
}

// Ship 只允许从 Paid 进入 Shipped。
// 上一次 Ship 已写入 Shipped 但事件发布失败时，重试会先重放 outbox 里的 shipped 事件，
// 这种情况同样返回 true。
func (s *OrderingProcessService) Ship(ctx context.Context, orderID string) (bool, error) {
	var shipped bool
	err := s.invoke(ctx, orderID, "Ship", func(ctx context.Context, t *turn) error {
		if t.hasReplayed(domain.OrderStatusChangedToShippedIntegrationEvent{}.EventName()) {
			status, ok, err := t.readStatus(ctx)
			if err != nil {
				return err
			}
			if ok && status == domain.StatusShipped {
				shipped = true
				return nil
			}
		}

		ok, err := t.tryTransition(ctx, "Ship", domain.StatusPaid, domain.StatusShipped, domain.DescriptionShipped)
		if err != nil || !ok {
			return err
		}
		order, found, err := t.readOrder(ctx)
		if err != nil {
			return err
		}
		if !found {
			return errors.Wrapf(domain.ErrNotFound, "details of order %s", orderID)
		}
		t.publish(domain.NewShippedEvent(orderID, order))
		shipped = true
		return nil
	})
	return shipped, err
}

// Cancel 在订单尚未支付或发货时取消订单。
// 已经取消的订单再次取消返回 true，但不会重复写入或发布事件。
func (s *OrderingProcessService) Cancel(ctx context.Context, orderID string) (bool, error) {
	var cancelled bool
	err := s.invoke(ctx, orderID, "Cancel", func(ctx context.Context, t *turn) error {
		status, ok, err := t.readStatus(ctx)
		if err != nil {
			return err
		}
		order, found, err := t.readOrder(ctx)
		if err != nil {
			return err
		}
		if !ok || !found {
			s.rejectNotFound(ctx, orderID, "Cancel")
			return nil
		}
		if !status.CanBeCancelled() {
			s.metrics.GuardRejections.WithLabelValues("Cancel", "illegal_cancellation").Inc()
			logger.Ctx(ctx).Warn().Err(domain.ErrIllegalCancellation).
				Str("order_id", orderID).Str("status", status.Name).
				Msg("Cancellation rejected")
			return nil
		}
		cancelled = true
		if status == domain.StatusCancelled {
			// 重复取消是幂等的: 不重写状态，也不再发布 cancelled 事件。
			// 这里有意不沿用"每次都写入并发布"的旧行为，下游不会收到重复的取消通知。
			logger.Ctx(ctx).Info().Str("order_id", orderID).Msg("Order is already cancelled")
			return nil
		}

		if err := t.writeStatus(domain.StatusCancelled); err != nil {
			return err
		}
		if err := t.writeOrder(order.WithStatus(domain.StatusCancelled, domain.DescriptionCancelledByBuyer)); err != nil {
			return err
		}
		t.publish(domain.NewCancelledEvent(orderID, order, domain.DescriptionCancelledByBuyer))
		return nil
	})
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// GetOrderDetails 原样返回持久化的订单快照，不存在时返回 domain.ErrNotFound
func (s *OrderingProcessService) GetOrderDetails(ctx context.Context, orderID string) (*domain.Order, error) {
	var order *domain.Order
	err := s.invoke(ctx, orderID, "GetOrderDetails", func(ctx context.Context, t *turn) error {
		data, err := s.store.Get(ctx, orderID, KeyOrderDetails)
		if err != nil {
			return err
		}
		order, err = decodeOrder(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrderStatus 返回当前状态，不存在时返回 domain.ErrNotFound
func (s *OrderingProcessService) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	var status domain.OrderStatus
	err := s.invoke(ctx, orderID, "GetOrderStatus", func(ctx context.Context, t *turn) error {
		current, ok, err := t.readStatus(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(domain.ErrNotFound, "status of order %s", orderID)
		}
		status = current
		return nil
	})
	return status, err
}

// invoke 把一次调用包装成一个 turn: 追踪、生命周期钩子、outbox 重放和提交都在这里完成
func (s *OrderingProcessService) invoke(ctx context.Context, orderID, method string, fn func(ctx context.Context, t *turn) error) error {
	ctx, span := s.tracer.Start(ctx, "ordering."+method, trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	err := s.runtime.Do(ctx, orderID, func(ctx context.Context) error {
		if s.settings.TurnTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.settings.TurnTimeout)
			defer cancel()
		}
		start := time.Now()
		defer func() {
			s.metrics.TurnDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}()

		t := newTurn(s, orderID)
		if err := t.flushOutbox(ctx); err != nil {
			return err
		}

		before := s.onPreMethod(ctx, t, method)
		if err := fn(ctx, t); err != nil {
			return err
		}
		if err := t.commit(ctx); err != nil {
			return err
		}
		s.onPostMethod(ctx, orderID, method, before)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Str("operation", method).Msg("Order process turn failed")
		}
	}
	return err
}

func (s *OrderingProcessService) publishEvent(ctx context.Context, event domain.IntegrationEvent) error {
	if err := s.publisher.Publish(ctx, event); err != nil {
		return errors.Wrapf(err, "publish %s for order %s", event.EventName(), event.Key())
	}
	s.metrics.EventsPublished.WithLabelValues(event.EventName()).Inc()
	logger.Ctx(ctx).Info().Str("order_id", event.Key()).Str("event", event.EventName()).Msg("Integration event published")
	return nil
}

func (s *OrderingProcessService) rejectNotFound(ctx context.Context, orderID, operation string) {
	s.metrics.GuardRejections.WithLabelValues(operation, "not_found").Inc()
	logger.Ctx(ctx).Warn().Err(domain.ErrNotFound).Str("order_id", orderID).Str("operation", operation).
		Msg("Order not found, operation skipped")
}
