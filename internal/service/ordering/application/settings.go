package application

import "time"

// Settings 是订单流程的业务配置
type Settings struct {
	// GracePeriod 提交后等待多久进入库存校验
	GracePeriod time.Duration
	// SimulatedWorkDelay 模拟下游处理耗时，通知到达后延迟多久发布事件
	SimulatedWorkDelay time.Duration
	// TurnTimeout 单个 turn 的上限，0 表示不限制
	TurnTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		GracePeriod:        time.Minute,
		SimulatedWorkDelay: 10 * time.Second,
		TurnTimeout:        30 * time.Second,
	}
}
