// internal/pkg/redis/client.go
package redis

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Client 封装 go-redis，额外管理预加载的 Lua 脚本
type Client struct {
	rdb goredis.UniversalClient

	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient 连接 addr 并 ping 一次，连不上直接返回错误
func NewClient(ctx context.Context, addr string) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}
	return Wrap(rdb), nil
}

// Wrap 包装一个已有的连接，测试里用 miniredis 时很方便
func Wrap(rdb goredis.UniversalClient) *Client {
	return &Client{rdb: rdb, scripts: make(map[string]*goredis.Script)}
}

func (c *Client) GetClient() goredis.UniversalClient {
	return c.rdb
}

// LoadScriptFromContent 注册一个具名脚本。脚本按 SHA 执行，服务端缓存丢失时自动回退到 EVAL。
func (c *Client) LoadScriptFromContent(name, content string) error {
	if content == "" {
		return errors.Errorf("script %s is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = goredis.NewScript(content)
	return nil
}

func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("script %s is not loaded", name)
	}
	result, err := script.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, errors.Wrapf(err, "run script %s", name)
	}
	return result, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
