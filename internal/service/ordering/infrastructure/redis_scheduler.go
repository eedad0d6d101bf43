// internal/service/ordering/infrastructure/redis_scheduler.go
package infrastructure

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"eshop-ordering/internal/pkg/logger"
	"eshop-ordering/internal/pkg/redis"
	"eshop-ordering/internal/service/ordering/domain"
	"eshop-ordering/internal/service/ordering/port"
)

const (
	// 同一个 hash tag，保证 Lua 脚本和事务里的两个 key 在集群中落在同一个 slot
	reminderDueKey  = "ordering:{reminders}:due"
	reminderDataKey = "ordering:{reminders}:data"

	claimScriptName    = "ordering_reminder_claim"
	completeScriptName = "ordering_reminder_complete"
)

// 取出到期的成员，并把分数推到租约到期时间，其他副本在租约内看不到它们
const claimScript = `
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, m in ipairs(members) do
  redis.call('ZADD', KEYS[1], ARGV[2], m)
end
return members
`

// 只有分数仍是本次租约时才完成: 期间被重新注册的 reminder 不能被删掉
const completeScript = `
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) ~= tonumber(ARGV[2]) then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
else
  redis.call('ZREM', KEYS[1], ARGV[1])
  redis.call('HDEL', KEYS[2], ARGV[1])
end
return 1
`

type storedReminder struct {
	OrderID string        `json:"orderId"`
	Name    string        `json:"name"`
	Payload []byte        `json:"payload,omitempty"`
	Period  time.Duration `json:"period"`
}

// RedisSchedulerOptions 控制轮询行为
type RedisSchedulerOptions struct {
	PollInterval time.Duration
	// RetryBackoff 是 fire 失败后的重试间隔
	RetryBackoff time.Duration
	// Lease 是领取后其他副本看不到该 reminder 的时长，也是单次 fire 的超时。
	// 必须覆盖一个完整的 turn (包括等待分布式锁)，不小于 RetryBackoff。
	Lease       time.Duration
	BatchSize   int
	Concurrency int
}

// RedisReminderScheduler 用 ZSET 保存到期时间，多副本轮询，至少一次触发
type RedisReminderScheduler struct {
	redisClient *redis.Client
	opts        RedisSchedulerOptions
	now         func() time.Time
}

func NewRedisReminderScheduler(redisClient *redis.Client, opts RedisSchedulerOptions) (*RedisReminderScheduler, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}
	if opts.Lease < opts.RetryBackoff {
		opts.Lease = opts.RetryBackoff
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}
	if err := redisClient.LoadScriptFromContent(claimScriptName, claimScript); err != nil {
		return nil, err
	}
	if err := redisClient.LoadScriptFromContent(completeScriptName, completeScript); err != nil {
		return nil, err
	}
	return &RedisReminderScheduler{redisClient: redisClient, opts: opts, now: time.Now}, nil
}

func reminderMember(orderID, name string) string {
	return orderID + "|" + name
}

func scoreAt(t time.Time) int64 {
	return t.UnixMilli()
}

func (s *RedisReminderScheduler) RegisterReminder(ctx context.Context, orderID string, reminder domain.Reminder) error {
	data, err := json.Marshal(storedReminder{
		OrderID: orderID,
		Name:    reminder.Name,
		Payload: reminder.Payload,
		Period:  reminder.Period,
	})
	if err != nil {
		return errors.Wrap(err, "encode reminder")
	}
	member := reminderMember(orderID, reminder.Name)
	due := scoreAt(s.now().Add(reminder.DueTime))

	pipe := s.redisClient.GetClient().TxPipeline()
	pipe.HSet(ctx, reminderDataKey, member, data)
	pipe.ZAdd(ctx, reminderDueKey, goredis.Z{Score: float64(due), Member: member})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "register reminder %s", member)
	}
	return nil
}

func (s *RedisReminderScheduler) UnregisterReminder(ctx context.Context, orderID, name string) error {
	member := reminderMember(orderID, name)
	pipe := s.redisClient.GetClient().TxPipeline()
	pipe.ZRem(ctx, reminderDueKey, member)
	pipe.HDel(ctx, reminderDataKey, member)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "unregister reminder %s", member)
	}
	return nil
}

// Run 按 PollInterval 轮询到期的 reminder，直到 ctx 结束
func (s *RedisReminderScheduler) Run(ctx context.Context, fire port.FireFunc) error {
	logger.Ctx(ctx).Info().Dur("poll_interval", s.opts.PollInterval).Msg("⏰ Redis reminder poller started")
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("Redis reminder poller stopped")
			return nil
		case <-ticker.C:
			if _, err := s.poll(ctx, fire); err != nil && ctx.Err() == nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to poll reminders")
			}
		}
	}
}

// poll 领取一批到期的 reminder 并并发触发，返回领取到的数量
func (s *RedisReminderScheduler) poll(ctx context.Context, fire port.FireFunc) (int, error) {
	now := s.now()
	lease := scoreAt(now.Add(s.opts.Lease))
	result, err := s.redisClient.RunScript(ctx, claimScriptName, []string{reminderDueKey},
		scoreAt(now), lease, s.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	members, ok := result.([]interface{})
	if !ok || len(members) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, m := range members {
		member, ok := m.(string)
		if !ok {
			continue
		}
		g.Go(func() error {
			s.dispatch(gctx, fire, member, lease)
			return nil
		})
	}
	return len(members), g.Wait()
}

func (s *RedisReminderScheduler) dispatch(ctx context.Context, fire port.FireFunc, member string, lease int64) {
	orderID, name, ok := splitMember(member)
	if !ok {
		s.redisClient.GetClient().ZRem(ctx, reminderDueKey, member)
		return
	}
	log := logger.Ctx(ctx).With().Str("order_id", orderID).Str("reminder", name).Logger()

	data, err := s.redisClient.GetClient().HGet(ctx, reminderDataKey, member).Bytes()
	if errors.Is(err, goredis.Nil) {
		// 数据已经被注销，顺手清理 ZSET
		s.redisClient.GetClient().ZRem(ctx, reminderDueKey, member)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load reminder, will retry after lease")
		return
	}
	var stored storedReminder
	if err := json.Unmarshal(data, &stored); err != nil {
		log.Error().Err(err).Msg("Dropping undecodable reminder")
		s.complete(ctx, member, lease, 0)
		return
	}

	fireCtx, cancel := context.WithTimeout(ctx, s.opts.Lease)
	err = fire(fireCtx, stored.OrderID, stored.Name, stored.Payload)
	cancel()
	if err != nil {
		log.Warn().Err(err).Dur("retry_in", s.opts.RetryBackoff).Msg("Reminder handler failed, will retry")
		s.complete(ctx, member, lease, scoreAt(s.now().Add(s.opts.RetryBackoff)))
		return
	}

	var next int64
	if stored.Period > 0 {
		next = scoreAt(s.now().Add(stored.Period))
	}
	s.complete(ctx, member, lease, next)
}

func (s *RedisReminderScheduler) complete(ctx context.Context, member string, lease, next int64) {
	_, err := s.redisClient.RunScript(ctx, completeScriptName, []string{reminderDueKey, reminderDataKey},
		member, strconv.FormatInt(lease, 10), strconv.FormatInt(next, 10))
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("reminder", member).Msg("Failed to complete reminder")
	}
}

// splitMember 反解 orderID|name，名称里不会出现 '|'
func splitMember(member string) (orderID, name string, ok bool) {
	i := strings.LastIndex(member, "|")
	if i <= 0 || i == len(member)-1 {
		return "", "", false
	}
	return member[:i], member[i+1:], true
}
