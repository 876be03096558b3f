package domain

import "time"

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

// Order statuses.
const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsValid checks if the order status is valid.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPaid, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Order is a purchase of a product.
type Order struct {
	ID        string
	ProductID string
	BuyerID   string
	SellerID  string
	Status    OrderStatus
	Amount    int64
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
