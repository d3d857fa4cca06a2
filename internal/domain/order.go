package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderShipped    OrderStatus = "SHIPPED"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderRefunded   OrderStatus = "REFUNDED"
)

// orderTransitions is the closed transition table. Anything not listed is
// rejected, so DELIVERED, CANCELLED and REFUNDED are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled, OrderRefunded},
	OrderShipped:    {OrderDelivered},
}

func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type OrderItem struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OrderID     uuid.UUID       `json:"orderId" db:"order_id"`
	ProductID   uuid.UUID       `json:"productId" db:"product_id"`
	ProductName string          `json:"productName" db:"product_name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice" db:"unit_price"`
	LineTotal   decimal.Decimal `json:"lineTotal" db:"line_total"`
}

// Address is the shipping/billing contact snapshot captured at checkout.
// Billing defaults to shipping when the buyer leaves it empty.
type Address struct {
	FullName string `json:"fullName" db:"full_name"`
	Email    string `json:"email" db:"email"`
	Phone    string `json:"phone" db:"phone"`
	Address  string `json:"address" db:"address"`
}

func (a Address) IsZero() bool {
	return a.FullName == "" && a.Email == "" && a.Phone == "" && a.Address == ""
}

type Order struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	OrderNumber    string          `json:"orderNumber" db:"order_number"`
	UserID         uuid.UUID       `json:"userId" db:"user_id"`
	Items          []OrderItem     `json:"items" db:"-"`
	Shipping       Address         `json:"shipping"`
	Billing        Address         `json:"billing"`
	ShippingFee    decimal.Decimal `json:"shippingFee" db:"shipping_fee"`
	TaxAmount      decimal.Decimal `json:"taxAmount" db:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discountAmount" db:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"totalAmount" db:"total_amount"`
	Notes          string          `json:"notes" db:"notes"`
	Status         OrderStatus     `json:"status" db:"status"`
	Deleted        bool            `json:"-" db:"deleted"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

// ItemsTotal sums the line totals of all ordered items.
func (o *Order) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.LineTotal)
	}
	return sum
}

// ComputeTotal applies the pricing formula: items + shipping + tax - discount.
func (o *Order) ComputeTotal() decimal.Decimal {
	return o.ItemsTotal().Add(o.ShippingFee).Add(o.TaxAmount).Sub(o.DiscountAmount)
}
