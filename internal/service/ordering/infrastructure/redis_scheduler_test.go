package infrastructure

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eshop-ordering/internal/service/ordering/domain"
)

type firedReminder struct {
	orderID string
	name    string
	payload []byte
}

type recorder struct {
	mu    sync.Mutex
	fired []firedReminder
	err   error
}

func (r *recorder) fire(_ context.Context, orderID, name string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.fired = append(r.fired, firedReminder{orderID: orderID, name: name, payload: payload})
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func newTestScheduler(t *testing.T) (*RedisReminderScheduler, *time.Time) {
	t.Helper()
	client, _ := setupRedis(t)
	s, err := NewRedisReminderScheduler(client, RedisSchedulerOptions{RetryBackoff: 5 * time.Second})
	require.NoError(t, err)
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestRedisSchedulerFiresWhenDue(t *testing.T) {
	s, clock := newTestScheduler(t)
	ctx := context.Background()
	rec := &recorder{}

	reminder, err := domain.NewStockRejectedReminder([]int{7}, 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, s.RegisterReminder(ctx, "o1", reminder))

	n, err := s.poll(ctx, rec.fire)
	require.NoError(t, err)
	assert.Zero(t, n)

	*clock = clock.Add(10 * time.Second)
	n, err = s.poll(ctx, rec.fire)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, "o1", rec.fired[0].orderID)
	assert.Equal(t, domain.ReminderStockRejected, rec.fired[0].name)
	assert.JSONEq(t, `{"productIds":[7]}`, string(rec.fired[0].payload))

	// 一次性 reminder 触发后被删除
	*clock = clock.Add(time.Hour)
	n, err = s.poll(ctx, rec.fire)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, rec.count())
}

func TestRedisSchedulerRetriesAfterFailure(t *testing.T) {
	s, clock := newTestScheduler(t)
	ctx := context.Background()
	rec := &recorder{err: assert.AnError}

	require.NoError(t, s.RegisterReminder(ctx, "o1", domain.OneShot(domain.ReminderGracePeriodElapsed, 0)))

	n, err := s.poll(ctx, rec.fire)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 租约内不会再被领取
	*clock = clock.Add(time.Second)
	n, err = s.poll(ctx, rec.fire)
	require.NoError(t, err)
	assert.Zero(t, n)

	rec.err = nil
	*clock = clock.Add(5 * time.Second)
	n, err = s.poll(ctx, rec.fire)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, rec.count())
}

func TestRedisSchedulerRearmsPeriodic(t *testing.T) {
	s, clock := newTestScheduler(t)
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, s.RegisterReminder(ctx, "o1", domain.Reminder{
		Name: domain.ReminderPaymentSucceeded, DueTime: time.Second, Period: time.Minute,
	}))

	*clock = clock.Add(time.Second)
	_, err := s.poll(ctx, rec.fire)
	require.NoError(t, err)

	*clock = clock.Add(30 * time.Second)
	n, err := s.poll(ctx, rec.fire)
	require.NoError(t, err)
	assert.Zero(t, n)

	*clock = clock.Add(30 * time.Second)
	_, err = s.poll(ctx, rec.fire)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.count())
}

func TestRedisSchedulerUnregister(t *testing.T) {
	s, clock := newTestScheduler(t)
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, s.RegisterReminder(ctx, "o1", domain.OneShot(domain.ReminderStockConfirmed, time.Second)))
	require.NoError(t, s.UnregisterReminder(ctx, "o1", domain.ReminderStockConfirmed))

	*clock = clock.Add(time.Minute)
	n, err := s.poll(ctx, rec.fire)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, rec.count())
}

func TestRedisSchedulerReRegisterReplaces(t *testing.T) {
	s, clock := newTestScheduler(t)
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, s.RegisterReminder(ctx, "o1", domain.OneShot(domain.ReminderGracePeriodElapsed, time.Second)))
	require.NoError(t, s.RegisterReminder(ctx, "o1", domain.OneShot(domain.ReminderGracePeriodElapsed, time.Minute)))

	*clock = clock.Add(2 * time.Second)
	n, err := s.poll(ctx, rec.fire)
	require.NoError(t, err)
	assert.Zero(t, n)

	*clock = clock.Add(time.Minute)
	_, err = s.poll(ctx, rec.fire)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count())
}

func TestRedisSchedulerLeaseCoversSlowTurn(t *testing.T) {
	client, mr := setupRedis(t)
	s, err := NewRedisReminderScheduler(client, RedisSchedulerOptions{RetryBackoff: 5 * time.Second, Lease: 35 * time.Second})
	require.NoError(t, err)
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, s.RegisterReminder(ctx, "o1", domain.OneShot(domain.ReminderStockConfirmed, 0)))
	assert.True(t, mr.Exists("ordering:{reminders}:due"))
	assert.True(t, mr.Exists("ordering:{reminders}:data"))

	started := make(chan struct{})
	release := make(chan struct{})
	var fired int
	slow := func(ctx context.Context, _, _ string, _ []byte) error {
		fired++
		close(started)
		<-release
		return nil
	}
	done := make(chan error, 1)
	go func() {
		_, err := s.poll(ctx, slow)
		done <- err
	}()
	<-started

	// 超过重试间隔但仍在租约内，另一次轮询领不到正在执行的 reminder
	clock = clock.Add(30 * time.Second)
	rec := &recorder{}
	n, err := s.poll(ctx, rec.fire)
	require.NoError(t, err)
	assert.Zero(t, n)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, fired)
	assert.Zero(t, rec.count())

	clock = clock.Add(time.Hour)
	n, err = s.poll(ctx, rec.fire)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisSchedulerLeaseNeverShorterThanBackoff(t *testing.T) {
	client, _ := setupRedis(t)
	s, err := NewRedisReminderScheduler(client, RedisSchedulerOptions{RetryBackoff: 5 * time.Second, Lease: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, s.opts.Lease)
}

func TestSplitMember(t *testing.T) {
	orderID, name, ok := splitMember("a|b|GracePeriodElapsed")
	assert.True(t, ok)
	assert.Equal(t, "a|b", orderID)
	assert.Equal(t, "GracePeriodElapsed", name)

	_, _, ok = splitMember("nopipe")
	assert.False(t, ok)
}
