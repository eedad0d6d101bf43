// internal/service/ordering/domain/status.go
package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// OrderStatus 是订单生命周期状态，ID 代表流程中的先后顺序
type OrderStatus struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

var (
	StatusSubmitted               = OrderStatus{ID: 1, Name: "submitted"}
	StatusAwaitingStockValidation = OrderStatus{ID: 2, Name: "awaitingstockvalidation"}
	StatusValidated               = OrderStatus{ID: 3, Name: "validated"}
	StatusPaid                    = OrderStatus{ID: 4, Name: "paid"}
	StatusShipped                 = OrderStatus{ID: 5, Name: "shipped"}
	StatusCancelled               = OrderStatus{ID: 6, Name: "cancelled"} // 终态, Shipped 之前均可到达
)

// AllStatuses 按流程顺序返回全部状态
func AllStatuses() []OrderStatus {
	return []OrderStatus{
		StatusSubmitted,
		StatusAwaitingStockValidation,
		StatusValidated,
		StatusPaid,
		StatusShipped,
		StatusCancelled,
	}
}

// StatusFromID 根据 ID 查找状态
func StatusFromID(id int) (OrderStatus, error) {
	for _, s := range AllStatuses() {
		if s.ID == id {
			return s, nil
		}
	}
	return OrderStatus{}, errors.Wrapf(ErrUnknownStatus, "id %d", id)
}

// StatusFromName 根据名称查找状态
func StatusFromName(name string) (OrderStatus, error) {
	for _, s := range AllStatuses() {
		if s.Name == name {
			return s, nil
		}
	}
	return OrderStatus{}, errors.Wrapf(ErrUnknownStatus, "name %q", name)
}

func (s OrderStatus) String() string {
	return s.Name
}

// Before 比较流程阶段
func (s OrderStatus) Before(other OrderStatus) bool {
	return s.ID < other.ID
}

func (s OrderStatus) IsTerminal() bool {
	return s == StatusShipped || s == StatusCancelled
}

// CanBeCancelled 已支付或已发货的订单不能再取消
func (s OrderStatus) CanBeCancelled() bool {
	return s != StatusPaid && s != StatusShipped
}

// AttemptTransition 是状态机的守卫: 只有当前状态等于期望状态时才允许进入 next。
// 不依赖任何存储，可以直接做单元测试。
func AttemptTransition(current, expected, next OrderStatus) error {
	if current != expected {
		return &PreconditionMismatchError{Expected: expected, Actual: current, Next: next}
	}
	return nil
}

// PreconditionMismatchError 描述了一次被守卫拒绝的状态流转
type PreconditionMismatchError struct {
	Expected OrderStatus
	Actual   OrderStatus
	Next     OrderStatus
}

func (e *PreconditionMismatchError) Error() string {
	return fmt.Sprintf("cannot transition to %s: expected status %s, got %s", e.Next, e.Expected, e.Actual)
}

func (e *PreconditionMismatchError) Is(target error) bool {
	return target == ErrPreconditionMismatch
}
