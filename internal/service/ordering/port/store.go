package port

import (
	"context"
)

// StateStore 是按订单身份隔离的持久化键值存储。
// 存储本身没有业务逻辑，状态何时可以改变完全由订单流程决定。
type StateStore interface {
	// Get 在键不存在时返回 domain.ErrNotFound
	Get(ctx context.Context, orderID, key string) ([]byte, error)
	// TryGet 不把缺失当作错误
	TryGet(ctx context.Context, orderID, key string) ([]byte, bool, error)
	Set(ctx context.Context, orderID, key string, value []byte) error
	// SetMany 原子地写入一个 turn 内的全部变更
	SetMany(ctx context.Context, orderID string, values map[string][]byte) error
}
