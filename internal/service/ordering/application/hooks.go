// internal/service/ordering/application/hooks.go
package application

import (
	"context"

	"eshop-ordering/internal/pkg/logger"
)

// 生命周期钩子只用于观测，任何错误都不会影响调用结果

func (s *OrderingProcessService) onPreMethod(ctx context.Context, t *turn, method string) int {
	status, ok, err := t.readStatus(ctx)
	if err != nil || !ok {
		return 0
	}
	logger.Ctx(ctx).Debug().Str("order_id", t.orderID).Str("operation", method).Str("status", status.Name).Msg("Order process turn started")
	return status.ID
}

func (s *OrderingProcessService) onPostMethod(ctx context.Context, orderID, method string, before int) {
	status, ok, err := readStatus(ctx, s.store, orderID)
	if err != nil {
		logger.Ctx(ctx).Debug().Err(err).Str("order_id", orderID).Msg("Could not re-read order status after turn")
		return
	}
	if !ok || status.ID == before {
		return
	}
	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("operation", method).
		Int("from", before).
		Str("to", status.Name).
		Msg("📦 Order status changed")
}
