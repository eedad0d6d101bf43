// internal/pkg/actor/runtime.go
package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrClosed 在 Runtime 关闭后提交 turn 时返回
var ErrClosed = errors.New("actor runtime is closed")

// TurnFunc 是在某个 key 的邮箱里串行执行的一次调用
type TurnFunc func(ctx context.Context) error

// TurnLocker 把“同一 key 同时只有一个 turn”的保证扩展到多个副本之间
type TurnLocker interface {
	Lock(ctx context.Context, key string) (unlock func() error, err error)
}

// Options 配置 Runtime
type Options struct {
	// IdleTimeout 之后没有新 turn 的邮箱会被回收
	IdleTimeout time.Duration
	// Locker 可选
	Locker TurnLocker
}

// Runtime 为每个 key 维护一个邮箱 goroutine。
// 同一个 key 的 turn 依次执行，不同 key 之间完全并行，不需要共享锁。
type Runtime struct {
	opts Options

	mu        sync.Mutex
	mailboxes map[string]*mailbox
	closed    bool
	quit      chan struct{}
	wg        sync.WaitGroup
}

type turn struct {
	ctx  context.Context
	fn   TurnFunc
	done chan error
}

type mailbox struct {
	key     string
	inbox   chan *turn // 无缓冲: 只有邮箱 goroutine 正在接收时才能投递成功
	stopped chan struct{}
}

func NewRuntime(opts Options) *Runtime {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	return &Runtime{
		opts:      opts,
		mailboxes: make(map[string]*mailbox),
		quit:      make(chan struct{}),
	}
}

// Do 把 fn 投递到 key 的邮箱并等待执行结果。
// ctx 取消时立即返回 ctx.Err()，尚未开始的 turn 不会再执行。
func (r *Runtime) Do(ctx context.Context, key string, fn TurnFunc) error {
	t := &turn{ctx: ctx, fn: fn, done: make(chan error, 1)}
	for {
		mb, err := r.mailbox(key)
		if err != nil {
			return err
		}
		select {
		case mb.inbox <- t:
			select {
			case err := <-t.done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-mb.stopped:
			// 邮箱刚好因空闲被回收，重新激活一个
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ActiveCount 返回当前激活的邮箱数量
func (r *Runtime) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mailboxes)
}

// Close 停止接收新 turn，并等待正在执行的 turn 结束
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.quit)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runtime) mailbox(key string) (*mailbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if mb, ok := r.mailboxes[key]; ok {
		return mb, nil
	}
	mb := &mailbox{
		key:     key,
		inbox:   make(chan *turn),
		stopped: make(chan struct{}),
	}
	r.mailboxes[key] = mb
	r.wg.Add(1)
	go r.run(mb)
	return mb, nil
}

func (r *Runtime) run(mb *mailbox) {
	defer r.wg.Done()
	idle := time.NewTimer(r.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case t := <-mb.inbox:
			t.done <- r.execute(mb.key, t)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.opts.IdleTimeout)
		case <-idle.C:
			r.evict(mb)
			return
		case <-r.quit:
			r.evict(mb)
			return
		}
	}
}

func (r *Runtime) evict(mb *mailbox) {
	r.mu.Lock()
	if current, ok := r.mailboxes[mb.key]; ok && current == mb {
		delete(r.mailboxes, mb.key)
	}
	close(mb.stopped)
	r.mu.Unlock()
}

func (r *Runtime) execute(key string, t *turn) (err error) {
	if t.ctx.Err() != nil {
		return t.ctx.Err()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("turn for %s panicked: %v", key, p)
		}
	}()

	if r.opts.Locker != nil {
		unlock, lockErr := r.opts.Locker.Lock(t.ctx, key)
		if lockErr != nil {
			return errors.Wrapf(lockErr, "lock %s", key)
		}
		defer func() {
			if unlockErr := unlock(); unlockErr != nil && err == nil {
				err = errors.Wrapf(unlockErr, "unlock %s", key)
			}
		}()
	}

	return t.fn(t.ctx)
}
