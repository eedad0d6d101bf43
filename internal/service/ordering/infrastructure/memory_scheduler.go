package infrastructure

import (
	"context"
	"sync"
	"time"

	"eshop-ordering/internal/pkg/logger"
	"eshop-ordering/internal/service/ordering/domain"
	"eshop-ordering/internal/service/ordering/port"
)

// MemoryReminderScheduler 基于 time.AfterFunc，只适合单进程和测试，重启即丢失
type MemoryReminderScheduler struct {
	mu     sync.Mutex
	timers map[string]armedTimer
	seq    uint64
	ctx    context.Context
	fire   port.FireFunc
	// 在 Run 之前到期的 reminder 先排队
	queued []queuedReminder
}

type armedTimer struct {
	timer *time.Timer
	seq   uint64
}

type queuedReminder struct {
	orderID  string
	reminder domain.Reminder
}

func NewMemoryReminderScheduler() *MemoryReminderScheduler {
	return &MemoryReminderScheduler{timers: make(map[string]armedTimer)}
}

func (s *MemoryReminderScheduler) RegisterReminder(_ context.Context, orderID string, reminder domain.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(orderID, reminder, reminder.DueTime)
	return nil
}

func (s *MemoryReminderScheduler) UnregisterReminder(_ context.Context, orderID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	member := reminderMember(orderID, name)
	if armed, ok := s.timers[member]; ok {
		armed.timer.Stop()
		delete(s.timers, member)
	}
	return nil
}

// Pending 返回仍在等待触发的 reminder 数量
func (s *MemoryReminderScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *MemoryReminderScheduler) armLocked(orderID string, reminder domain.Reminder, after time.Duration) {
	member := reminderMember(orderID, reminder.Name)
	if old, ok := s.timers[member]; ok {
		old.timer.Stop()
	}
	s.seq++
	seq := s.seq
	s.timers[member] = armedTimer{
		timer: time.AfterFunc(after, func() { s.onTimer(orderID, reminder, seq) }),
		seq:   seq,
	}
}

func (s *MemoryReminderScheduler) onTimer(orderID string, reminder domain.Reminder, seq uint64) {
	member := reminderMember(orderID, reminder.Name)

	s.mu.Lock()
	if armed, ok := s.timers[member]; !ok || armed.seq != seq {
		// 已被覆盖或注销
		s.mu.Unlock()
		return
	}
	if s.fire == nil {
		s.queued = append(s.queued, queuedReminder{orderID: orderID, reminder: reminder})
		delete(s.timers, member)
		s.mu.Unlock()
		return
	}
	ctx, fire := s.ctx, s.fire
	if reminder.Period > 0 {
		s.armLocked(orderID, reminder, reminder.Period)
	} else {
		delete(s.timers, member)
	}
	s.mu.Unlock()

	if err := fire(ctx, orderID, reminder.Name, reminder.Payload); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Str("reminder", reminder.Name).Msg("Reminder handler failed")
	}
}

// Run 绑定 fire 并阻塞到 ctx 结束，结束时停止所有计时器
func (s *MemoryReminderScheduler) Run(ctx context.Context, fire port.FireFunc) error {
	s.mu.Lock()
	s.ctx, s.fire = ctx, fire
	queued := s.queued
	s.queued = nil
	for _, q := range queued {
		s.armLocked(q.orderID, q.reminder, 0)
	}
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	for member, armed := range s.timers {
		armed.timer.Stop()
		delete(s.timers, member)
	}
	s.fire = nil
	s.mu.Unlock()
	return nil
}
