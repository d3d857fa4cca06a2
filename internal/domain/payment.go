package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodVNPay  PaymentMethod = "VNPAY"
	MethodPayPal PaymentMethod = "PAYPAL"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// Payment is one ledger row per payment attempt against an order. Its status
// lifecycle is independent of the order's own status: a PENDING row settles
// exactly once to COMPLETED or FAILED, and only COMPLETED may later move to
// REFUNDED.
type Payment struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	OrderID         uuid.UUID       `json:"orderId" db:"order_id"`
	TransactionID   string          `json:"transactionId" db:"transaction_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Method          PaymentMethod   `json:"method" db:"method"`
	Status          PaymentStatus   `json:"status" db:"status"`
	GatewayResponse string          `json:"-" db:"gateway_response"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

func CanSettle(from, to PaymentStatus) bool {
	switch from {
	case PaymentPending:
		return to == PaymentCompleted || to == PaymentFailed
	case PaymentCompleted:
		return to == PaymentRefunded
	}
	return false
}
