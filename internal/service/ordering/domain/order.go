// internal/service/ordering/domain/order.go
package domain

import (
	"time"
)

// Address 收货地址
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

// OrderItem 是订单行，创建后不再修改
type OrderItem struct {
	ProductID       int     `json:"productId"`
	ProductName     string  `json:"productName"`
	UnitPrice       float64 `json:"unitPrice"`
	Units           int     `json:"units"`
	PictureFileName string  `json:"pictureFileName"`
}

// Order 是订单流程持久化的业务快照。
// 提交之后只会更新 OrderStatus 和 Description，地址和订单行保持不变。
type Order struct {
	OrderDate   time.Time   `json:"orderDate"`
	OrderStatus OrderStatus `json:"orderStatus"`
	Description string      `json:"description"`
	Address     Address     `json:"address"`
	BuyerID     string      `json:"buyerId"`
	BuyerEmail  string      `json:"buyerEmail"`
	OrderItems  []OrderItem `json:"orderItems"`
}

// BasketItem 是购物车中的一项
type BasketItem struct {
	ID              string  `json:"id"`
	ProductID       int     `json:"productId"`
	ProductName     string  `json:"productName"`
	UnitPrice       float64 `json:"unitPrice"`
	OldUnitPrice    float64 `json:"oldUnitPrice"`
	Quantity        int     `json:"quantity"`
	PictureFileName string  `json:"pictureFileName"`
}

// CustomerBasket 是提交订单时的购物车
type CustomerBasket struct {
	BuyerID string       `json:"buyerId"`
	Items   []BasketItem `json:"items"`
}

// StockItem 是事件中携带的 (productId, units) 对
type StockItem struct {
	ProductID int `json:"productId"`
	Units     int `json:"units"`
}

// NewOrder 工厂函数: 从购物车构建一个处于 Submitted 状态的订单快照
func NewOrder(buyerID, buyerEmail string, address Address, basket CustomerBasket, orderDate time.Time) *Order {
	items := make([]OrderItem, 0, len(basket.Items))
	for _, item := range basket.Items {
		items = append(items, OrderItem{
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			UnitPrice:       item.UnitPrice,
			Units:           item.Quantity,
			PictureFileName: item.PictureFileName,
		})
	}

	return &Order{
		OrderDate:   orderDate,
		OrderStatus: StatusSubmitted,
		Description: DescriptionSubmitted,
		Address:     address,
		BuyerID:     buyerID,
		BuyerEmail:  buyerEmail,
		OrderItems:  items,
	}
}

// Total 订单总价 = Σ 单价 × 数量
func (o *Order) Total() float64 {
	var total float64
	for _, item := range o.OrderItems {
		total += item.UnitPrice * float64(item.Units)
	}
	return total
}

// StockItems 按订单行顺序返回 (productId, units)
func (o *Order) StockItems() []StockItem {
	items := make([]StockItem, 0, len(o.OrderItems))
	for _, item := range o.OrderItems {
		items = append(items, StockItem{ProductID: item.ProductID, Units: item.Units})
	}
	return items
}

// ProductNames 返回商品 ID 在 productIDs 中的订单行名称，保持订单行顺序
func (o *Order) ProductNames(productIDs []int) []string {
	wanted := make(map[int]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}

	var names []string
	for _, item := range o.OrderItems {
		if _, ok := wanted[item.ProductID]; ok {
			names = append(names, item.ProductName)
		}
	}
	return names
}

// WithStatus 返回状态和描述被更新后的副本，订单行不会被共享修改
func (o *Order) WithStatus(status OrderStatus, description string) *Order {
	updated := *o
	updated.OrderItems = append([]OrderItem(nil), o.OrderItems...)
	updated.OrderStatus = status
	updated.Description = description
	return &updated
}
