// internal/service/ordering/infrastructure/redis_store.go
package infrastructure

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"eshop-ordering/internal/pkg/redis"
	"eshop-ordering/internal/service/ordering/domain"
)

// RedisStateStore 把每个订单的状态存成一个 hash: ordering:{orderID}
type RedisStateStore struct {
	redisClient *redis.Client
}

func NewRedisStateStore(redisClient *redis.Client) *RedisStateStore {
	return &RedisStateStore{redisClient: redisClient}
}

// 花括号让同一订单的键落在同一个 slot
func stateKey(orderID string) string {
	return fmt.Sprintf("ordering:{%s}", orderID)
}

func (s *RedisStateStore) Get(ctx context.Context, orderID, key string) ([]byte, error) {
	value, ok, err := s.TryGet(ctx, orderID, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "%s of order %s", key, orderID)
	}
	return value, nil
}

func (s *RedisStateStore) TryGet(ctx context.Context, orderID, key string) ([]byte, bool, error) {
	value, err := s.redisClient.GetClient().HGet(ctx, stateKey(orderID), key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis hget %s", key)
	}
	return value, true, nil
}

func (s *RedisStateStore) Set(ctx context.Context, orderID, key string, value []byte) error {
	err := s.redisClient.GetClient().HSet(ctx, stateKey(orderID), key, value).Err()
	return errors.Wrapf(err, "redis hset %s", key)
}

// SetMany 用 MULTI/EXEC 保证多个键一起生效
func (s *RedisStateStore) SetMany(ctx context.Context, orderID string, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	fields := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		fields = append(fields, k, v)
	}
	pipe := s.redisClient.GetClient().TxPipeline()
	pipe.HSet(ctx, stateKey(orderID), fields...)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "redis save state of order %s", orderID)
	}
	return nil
}
