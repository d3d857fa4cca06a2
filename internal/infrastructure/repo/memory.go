package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phangiadaiwork/shopvn-backend/internal/domain"
)

// MemoryRepo backs dev mode and tests. It honors the same conditional-update
// semantics as the Postgres implementation, including the single-pending
// payment rule.
type MemoryRepo struct {
	mu       sync.RWMutex
	orders   map[uuid.UUID]*domain.Order
	payments map[uuid.UUID]*domain.Payment
	users    map[uuid.UUID]*domain.User
	carts    map[uuid.UUID][]domain.CartItem
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		orders:   make(map[uuid.UUID]*domain.Order),
		payments: make(map[uuid.UUID]*domain.Payment),
		users:    make(map[uuid.UUID]*domain.User),
		carts:    make(map[uuid.UUID][]domain.CartItem),
	}
}

func (r *MemoryRepo) CreateOrder(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	r.orders[o.ID] = &cp
	return nil
}

func (r *MemoryRepo) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok || o.Deleted {
		return nil, nil
	}
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	return &cp, nil
}

func (r *MemoryRepo) GetOrderByNumber(_ context.Context, number string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if o.OrderNumber == number && !o.Deleted {
			cp := *o
			cp.Items = append([]domain.OrderItem(nil), o.Items...)
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepo) ListOrdersByUser(_ context.Context, userID uuid.UUID, page, pageSize int) ([]domain.Order, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]domain.Order, 0)
	for _, o := range r.orders {
		if o.UserID == userID && !o.Deleted {
			all = append(all, *o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *MemoryRepo) AdvanceOrderStatus(_ context.Context, id uuid.UUID, from, to domain.OrderStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Deleted || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepo) SoftDeleteOrder(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		o.Deleted = true
		o.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *MemoryRepo) CreatePayment(_ context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.payments[p.ID] = &cp
	return nil
}

func (r *MemoryRepo) HasPendingPayment(_ context.Context, orderID uuid.UUID, method domain.PaymentMethod) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.payments {
		if p.OrderID == orderID && p.Method == method && p.Status == domain.PaymentPending {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) LatestPayment(_ context.Context, orderID uuid.UUID, method domain.PaymentMethod) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *domain.Payment
	for _, p := range r.payments {
		if p.OrderID != orderID || p.Method != method {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *MemoryRepo) SettlePayment(_ context.Context, paymentID uuid.UUID, from, to domain.PaymentStatus, rawResponse string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[paymentID]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.GatewayResponse = rawResponse
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepo) ExpirePendingPayments(_ context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.payments {
		if p.Status == domain.PaymentPending && p.CreatedAt.Before(olderThan) {
			p.Status = domain.PaymentFailed
			p.GatewayResponse = `{"expired":true}`
			p.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) PutUser(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *MemoryRepo) GetUserByPhone(_ context.Context, phone string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Phone == phone {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepo) ListCart(_ context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.CartItem(nil), r.carts[userID]...), nil
}

func (r *MemoryRepo) AddCartItem(_ context.Context, item *domain.CartItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[item.UserID] = append(r.carts[item.UserID], *item)
	return nil
}

func (r *MemoryRepo) ClearCart(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, userID)
	return nil
}
