package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phangiadaiwork/shopvn-backend/internal/domain"
)

type CartRepo interface {
	ListCart(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error)
	AddCartItem(ctx context.Context, item *domain.CartItem) error
	ClearCart(ctx context.Context, userID uuid.UUID) error
}

type CartService struct {
	Repo    CartRepo
	Catalog ProductCatalog
}

func (s *CartService) Get(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	return s.Repo.ListCart(ctx, userID)
}

// AddItem snapshots the catalog price at add time.
func (s *CartService) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartItem, error) {
	if quantity <= 0 {
		return nil, ErrBadRequest("Số lượng sản phẩm không hợp lệ")
	}
	p, err := s.Catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("lookup product %s: %w", productID, err)
	}
	if p == nil {
		return nil, ErrBadRequest("Sản phẩm không tồn tại")
	}
	item := &domain.CartItem{
		ID:        uuid.New(),
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: p.Price,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Repo.AddCartItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *CartService) Clear(ctx context.Context, userID uuid.UUID) error {
	return s.Repo.ClearCart(ctx, userID)
}
