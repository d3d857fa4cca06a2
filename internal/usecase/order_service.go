package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phangiadaiwork/shopvn-backend/internal/domain"
)

type OrderRepo interface {
	CreateOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]domain.Order, int, error)
	AdvanceOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) (bool, error)
	SoftDeleteOrder(ctx context.Context, id uuid.UUID) error
}

// ProductCatalog snapshots line-item prices at order-creation time.
type ProductCatalog interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
}

type OrderService struct {
	Repo    OrderRepo
	Catalog ProductCatalog
	Log     *slog.Logger
}

type OrderItemInput struct {
	ProductID uuid.UUID
	Quantity  int
	UnitPrice *decimal.Decimal
}

type CreateOrderInput struct {
	Items          []OrderItemInput
	Shipping       domain.Address
	Billing        domain.Address
	ShippingFee    decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    *decimal.Decimal
	Notes          string
}

func (s *OrderService) Create(ctx context.Context, userID uuid.UUID, in CreateOrderInput) (*domain.Order, error) {
	if len(in.Items) == 0 {
		return nil, ErrBadRequest("Danh sách sản phẩm không được để trống")
	}
	now := time.Now().UTC()
	o := &domain.Order{
		ID:             uuid.New(),
		OrderNumber:    newOrderNumber(now),
		UserID:         userID,
		Shipping:       in.Shipping,
		Billing:        in.Billing,
		ShippingFee:    in.ShippingFee,
		TaxAmount:      in.TaxAmount,
		DiscountAmount: in.DiscountAmount,
		Notes:          in.Notes,
		Status:         domain.OrderPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if o.Billing.IsZero() {
		o.Billing = o.Shipping
	}
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return nil, ErrBadRequest("Số lượng sản phẩm không hợp lệ")
		}
		var price decimal.Decimal
		var name string
		if item.UnitPrice != nil {
			price = *item.UnitPrice
		} else {
			p, err := s.Catalog.GetProduct(ctx, item.ProductID)
			if err != nil {
				return nil, fmt.Errorf("lookup product %s: %w", item.ProductID, err)
			}
			if p == nil {
				return nil, ErrBadRequest("Sản phẩm không tồn tại")
			}
			price = p.Price
			name = p.Name
		}
		if !price.IsPositive() {
			return nil, ErrBadRequest("Giá sản phẩm không hợp lệ")
		}
		o.Items = append(o.Items, domain.OrderItem{
			ID:          uuid.New(),
			OrderID:     o.ID,
			ProductID:   item.ProductID,
			ProductName: name,
			Quantity:    item.Quantity,
			UnitPrice:   price,
			LineTotal:   price.Mul(decimal.NewFromInt(int64(item.Quantity))),
		})
	}
	computed := o.ComputeTotal()
	if in.TotalAmount != nil {
		if !in.TotalAmount.Equal(computed) {
			return nil, ErrBadRequest("Tổng tiền không khớp với giá trị đơn hàng")
		}
		o.TotalAmount = *in.TotalAmount
	} else {
		o.TotalAmount = computed
	}
	if err := s.Repo.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.Log.Info("order created", "order_number", o.OrderNumber, "total", o.TotalAmount.String())
	return o, nil
}

// GetOwned resolves an order and enforces caller ownership. A foreign order
// is indistinguishable from a missing one.
func (s *OrderService) GetOwned(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error) {
	o, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil || o.UserID != userID {
		return nil, ErrNotFound("Không tìm thấy đơn hàng")
	}
	return o, nil
}

func (s *OrderService) ListByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]domain.Order, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.Repo.ListOrdersByUser(ctx, userID, page, pageSize)
}

// Cancel moves an owned order into CANCELLED, but only from the states the
// transition table allows.
func (s *OrderService) Cancel(ctx context.Context, orderID, userID uuid.UUID) error {
	o, err := s.GetOwned(ctx, orderID, userID)
	if err != nil {
		return err
	}
	return s.transition(ctx, o, domain.OrderCancelled)
}

func (s *OrderService) MarkShipped(ctx context.Context, orderID uuid.UUID) error {
	return s.transitionByID(ctx, orderID, domain.OrderShipped)
}

func (s *OrderService) MarkDelivered(ctx context.Context, orderID uuid.UUID) error {
	return s.transitionByID(ctx, orderID, domain.OrderDelivered)
}

func (s *OrderService) transitionByID(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus) error {
	o, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return ErrNotFound("Không tìm thấy đơn hàng")
	}
	return s.transition(ctx, o, to)
}

func (s *OrderService) transition(ctx context.Context, o *domain.Order, to domain.OrderStatus) error {
	if !domain.CanTransition(o.Status, to) {
		return ErrConflict(fmt.Sprintf("Không thể chuyển đơn hàng từ trạng thái %s sang %s", o.Status, to))
	}
	moved, err := s.Repo.AdvanceOrderStatus(ctx, o.ID, o.Status, to)
	if err != nil {
		return err
	}
	if !moved {
		return ErrConflict("Trạng thái đơn hàng đã thay đổi, vui lòng thử lại")
	}
	s.Log.Info("order status changed", "order_number", o.OrderNumber, "from", o.Status, "to", to)
	return nil
}

// newOrderNumber embeds the creation timestamp for traceability. No
// underscores: the VNPay transaction reference appends "_<timestamp>" and is
// parsed back by splitting on the first one.
func newOrderNumber(now time.Time) string {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	return "ORD" + now.Format("20060102150405") + strings.ToUpper(hex.EncodeToString(b))
}
