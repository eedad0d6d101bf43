package domain

import "github.com/pkg/errors"

var (
	// ErrNotFound 订单身份下没有持久化的状态或快照
	ErrNotFound = errors.New("order not found")
	// ErrPreconditionMismatch 当前状态与流转期望的状态不一致（重复、过期或乱序的通知）
	ErrPreconditionMismatch = errors.New("order status precondition mismatch")
	// ErrIllegalCancellation 已支付或已发货的订单被请求取消
	ErrIllegalCancellation = errors.New("order can no longer be cancelled")
	ErrUnknownStatus       = errors.New("unknown order status")
	ErrEmptyRejection      = errors.New("stock rejection requires at least one product id")
)
