package port

import (
	"context"

	"eshop-ordering/internal/service/ordering/domain"
)

// ReminderScheduler 是持久化延迟任务调度器的出站端口。
// 同一订单下同名 reminder 重复注册会覆盖之前的那个。
type ReminderScheduler interface {
	RegisterReminder(ctx context.Context, orderID string, reminder domain.Reminder) error
	UnregisterReminder(ctx context.Context, orderID, name string) error
}

// FireFunc 由调度器在 reminder 到期时调用
type FireFunc func(ctx context.Context, orderID, name string, payload []byte) error

// ReminderDispatcher 是调度器的运行面: Run 阻塞到 ctx 结束，期间把到期的 reminder 交给 fire
type ReminderDispatcher interface {
	ReminderScheduler
	Run(ctx context.Context, fire FireFunc) error
}
