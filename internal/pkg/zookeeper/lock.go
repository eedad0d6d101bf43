// internal/pkg/zookeeper/lock.go
package zookeeper

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"eshop-ordering/internal/pkg/logger"
)

const (
	lockRoot = "/distributed_locks" // 所有分布式锁的根节点
	// 顺序节点的序号固定 10 位
	sequenceLen = 10
)

// Conn 是锁用到的 *zk.Conn 方法
type Conn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Delete(path string, version int32) error
}

// Connect 连接 ZooKeeper 集群
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, errors.Wrapf(err, "connect zookeeper %v", servers)
	}
	return conn, nil
}

// DistributedLock 是基于临时顺序节点的公平锁
type DistributedLock struct {
	conn     Conn
	path     string // 例如 /distributed_locks/ordering-123
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 创建锁实例，必要时创建父节点
func NewDistributedLock(conn Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		if err := ensureNode(conn, p); err != nil {
			return nil, err
		}
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

func ensureNode(conn Conn, path string) error {
	exists, _, err := conn.Exists(path)
	if err != nil {
		return errors.Wrapf(err, "check node %s", path)
	}
	if exists {
		return nil
	}
	if _, err := conn.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return errors.Wrapf(err, "create node %s", path)
	}
	return nil
}

// sequenceOf 取出节点名末尾的序号。protected 节点带有随机前缀，不能直接按名字排序。
func sequenceOf(node string) string {
	if len(node) < sequenceLen {
		return node
	}
	return node[len(node)-sequenceLen:]
}

// Lock 阻塞直到获得锁或 ctx 结束
func (l *DistributedLock) Lock(ctx context.Context) error {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return errors.Wrap(err, "create sequential node")
	}
	l.lockNode = nodePath
	myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")

	for {
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			return l.abandon(errors.Wrap(err, "list lock nodes"))
		}
		sort.Slice(children, func(i, j int) bool {
			return sequenceOf(children[i]) < sequenceOf(children[j])
		})

		index := -1
		for i, child := range children {
			if child == myNodeName {
				index = i
				break
			}
		}
		if index < 0 {
			return l.abandon(errors.New("lock node disappeared, session may have expired"))
		}
		if index == 0 {
			return nil
		}

		// 只监听前一个节点，避免惊群
		prevNodePath := l.path + "/" + children[index-1]
		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			return l.abandon(errors.Wrap(err, "watch previous node"))
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
		case <-ctx.Done():
			return l.abandon(ctx.Err())
		}
	}
}

func (l *DistributedLock) abandon(cause error) error {
	if err := l.Unlock(); err != nil {
		logger.L().Warn().Err(err).Str("path", l.path).Msg("Failed to remove abandoned lock node")
	}
	return cause
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return errors.Wrap(err, "delete lock node")
	}
	l.lockNode = ""
	return nil
}

// TurnLocker 让 actor.Runtime 在多个副本之间也保持同一订单单线程执行
type TurnLocker struct {
	conn   Conn
	prefix string
}

func NewTurnLocker(conn Conn, prefix string) *TurnLocker {
	return &TurnLocker{conn: conn, prefix: prefix}
}

func (t *TurnLocker) Lock(ctx context.Context, key string) (func() error, error) {
	lock, err := NewDistributedLock(t.conn, t.prefix+key)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	return lock.Unlock, nil
}
