// internal/service/ordering/domain/reminder.go
package domain

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// 延迟动作（reminder）名称是一个封闭集合
const (
	ReminderGracePeriodElapsed = "GracePeriodElapsed"
	ReminderStockConfirmed     = "StockConfirmed"
	ReminderStockRejected      = "StockRejected"
	ReminderPaymentSucceeded   = "PaymentSucceeded"
	ReminderPaymentFailed      = "PaymentFailed"
)

// Reminder 是一个持久化调度的具名延迟动作。Period 为 0 表示只触发一次。
type Reminder struct {
	Name    string        `json:"name"`
	Payload []byte        `json:"payload,omitempty"`
	DueTime time.Duration `json:"dueTime"`
	Period  time.Duration `json:"period"`
}

// IsKnownReminder 判断名称是否属于已知集合
func IsKnownReminder(name string) bool {
	switch name {
	case ReminderGracePeriodElapsed,
		ReminderStockConfirmed,
		ReminderStockRejected,
		ReminderPaymentSucceeded,
		ReminderPaymentFailed:
		return true
	}
	return false
}

// OneShot 创建一个不带负载的一次性 reminder
func OneShot(name string, dueTime time.Duration) Reminder {
	return Reminder{Name: name, DueTime: dueTime}
}

// RejectedStockPayload 是 StockRejected reminder 的类型化负载
type RejectedStockPayload struct {
	ProductIDs []int `json:"productIds"`
}

// NewStockRejectedReminder 在调度时就校验并编码负载，而不是等到触发时才反序列化
func NewStockRejectedReminder(productIDs []int, dueTime time.Duration) (Reminder, error) {
	if len(productIDs) == 0 {
		return Reminder{}, ErrEmptyRejection
	}
	payload, err := json.Marshal(RejectedStockPayload{ProductIDs: productIDs})
	if err != nil {
		return Reminder{}, errors.Wrap(err, "encode rejected stock payload")
	}
	return Reminder{Name: ReminderStockRejected, Payload: payload, DueTime: dueTime}, nil
}

// DecodeRejectedStock 解析 StockRejected 负载
func DecodeRejectedStock(payload []byte) (RejectedStockPayload, error) {
	var p RejectedStockPayload
	if len(payload) == 0 {
		return p, ErrEmptyRejection
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, errors.Wrap(err, "decode rejected stock payload")
	}
	return p, nil
}
