package domain

import (
	"fmt"
	"strings"
)

// 状态描述文案
const (
	DescriptionSubmitted               = "The order was submitted."
	DescriptionAwaitingStockValidation = "Grace period elapsed; waiting for stock validation."
	DescriptionValidated               = "All the items were confirmed with available stock."
	DescriptionPaid                    = `The payment was performed at a simulated "American Bank checking bank account ending on XX35071"`
	DescriptionShipped                 = "The order was shipped."
	DescriptionCancelledByBuyer        = "The order was cancelled by the buyer."
	DescriptionPaymentFailed           = "The order was cancelled because payment failed."
	DescriptionPaymentRejected         = "The payment was rejected."
)

// StockRejectedDescription 把缺货商品名拼成一句可读的描述
func StockRejectedDescription(productNames []string) string {
	return fmt.Sprintf("The product items don't have stock: (%s).", strings.Join(productNames, ", "))
}
