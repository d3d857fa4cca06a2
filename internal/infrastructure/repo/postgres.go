package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/phangiadaiwork/shopvn-backend/internal/domain"
)

type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	r := &PostgresRepo{db: db}
	if err := r.init(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PostgresRepo) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email TEXT UNIQUE,
			phone TEXT,
			full_name TEXT,
			password_hash TEXT,
			created_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			order_number TEXT UNIQUE NOT NULL,
			user_id UUID NOT NULL,
			shipping_name TEXT, shipping_email TEXT, shipping_phone TEXT, shipping_address TEXT,
			billing_name TEXT, billing_email TEXT, billing_phone TEXT, billing_address TEXT,
			shipping_fee NUMERIC(18,2) NOT NULL DEFAULT 0,
			tax_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
			discount_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
			total_amount NUMERIC(18,2) NOT NULL,
			notes TEXT,
			status TEXT NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id UUID PRIMARY KEY,
			order_id UUID NOT NULL REFERENCES orders(id),
			product_id UUID NOT NULL,
			product_name TEXT,
			quantity INT NOT NULL,
			unit_price NUMERIC(18,2) NOT NULL,
			line_total NUMERIC(18,2) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id UUID PRIMARY KEY,
			order_id UUID NOT NULL REFERENCES orders(id),
			transaction_id TEXT,
			amount NUMERIC(18,2) NOT NULL,
			method TEXT NOT NULL,
			status TEXT NOT NULL,
			gateway_response TEXT,
			created_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		)`,
		// at most one outstanding attempt per order+method
		`CREATE UNIQUE INDEX IF NOT EXISTS payments_one_pending
			ON payments (order_id, method) WHERE status = 'PENDING'`,
		`CREATE TABLE IF NOT EXISTS cart_items (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			product_id UUID NOT NULL,
			quantity INT NOT NULL,
			unit_price NUMERIC(18,2) NOT NULL,
			created_at TIMESTAMPTZ
		)`,
	}
	for _, q := range stmts {
		if _, err := r.db.Exec(q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepo) CreateOrder(ctx context.Context, o *domain.Order) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const q = `INSERT INTO orders
		(id, order_number, user_id,
		 shipping_name, shipping_email, shipping_phone, shipping_address,
		 billing_name, billing_email, billing_phone, billing_address,
		 shipping_fee, tax_amount, discount_amount, total_amount,
		 notes, status, deleted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`
	_, err = tx.ExecContext(ctx, q,
		o.ID, o.OrderNumber, o.UserID,
		o.Shipping.FullName, o.Shipping.Email, o.Shipping.Phone, o.Shipping.Address,
		o.Billing.FullName, o.Billing.Email, o.Billing.Phone, o.Billing.Address,
		o.ShippingFee, o.TaxAmount, o.DiscountAmount, o.TotalAmount,
		o.Notes, string(o.Status), o.Deleted, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	const qi = `INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, line_total)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	for _, it := range o.Items {
		if _, err := tx.ExecContext(ctx, qi, it.ID, o.ID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.LineTotal); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return tx.Commit()
}

const orderColumns = `id, order_number, user_id,
	shipping_name, shipping_email, shipping_phone, shipping_address,
	billing_name, billing_email, billing_phone, billing_address,
	shipping_fee, tax_amount, discount_amount, total_amount,
	notes, status, deleted, created_at, updated_at`

func (r *PostgresRepo) scanOrder(row *sql.Row) (*domain.Order, error) {
	var o domain.Order
	var status string
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID,
		&o.Shipping.FullName, &o.Shipping.Email, &o.Shipping.Phone, &o.Shipping.Address,
		&o.Billing.FullName, &o.Billing.Email, &o.Billing.Phone, &o.Billing.Address,
		&o.ShippingFee, &o.TaxAmount, &o.DiscountAmount, &o.TotalAmount,
		&o.Notes, &status, &o.Deleted, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func (r *PostgresRepo) loadItems(ctx context.Context, o *domain.Order) error {
	const q = `SELECT id, order_id, product_id, product_name, quantity, unit_price, line_total
		FROM order_items WHERE order_id = $1`
	return r.db.SelectContext(ctx, &o.Items, q, o.ID)
}

func (r *PostgresRepo) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND NOT deleted`, id)
	o, err := r.scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	return o, nil
}

func (r *PostgresRepo) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1 AND NOT deleted`, number)
	o, err := r.scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get order by number: %w", err)
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	return o, nil
}

func (r *PostgresRepo) ListOrdersByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]domain.Order, int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND NOT deleted
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Order, 0, pageSize)
	for rows.Next() {
		var o domain.Order
		var status string
		if err := rows.Scan(&o.ID, &o.OrderNumber, &o.UserID,
			&o.Shipping.FullName, &o.Shipping.Email, &o.Shipping.Phone, &o.Shipping.Address,
			&o.Billing.FullName, &o.Billing.Email, &o.Billing.Phone, &o.Billing.Address,
			&o.ShippingFee, &o.TaxAmount, &o.DiscountAmount, &o.TotalAmount,
			&o.Notes, &status, &o.Deleted, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		o.Status = domain.OrderStatus(status)
		out = append(out, o)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM orders WHERE user_id = $1 AND NOT deleted`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	return out, total, nil
}

// AdvanceOrderStatus performs the status-guarded update every mutation goes
// through. Returns false when the order was not in the expected state, which
// makes retried callbacks no-ops.
func (r *PostgresRepo) AdvanceOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) (bool, error) {
	const q = `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4 AND NOT deleted`
	res, err := r.db.ExecContext(ctx, q, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("advance order status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *PostgresRepo) SoftDeleteOrder(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE orders SET deleted = TRUE, updated_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("soft delete order: %w", err)
	}
	return nil
}

func (r *PostgresRepo) CreatePayment(ctx context.Context, p *domain.Payment) error {
	const q = `INSERT INTO payments (id, order_id, transaction_id, amount, method, status, gateway_response, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.db.ExecContext(ctx, q, p.ID, p.OrderID, p.TransactionID, p.Amount,
		string(p.Method), string(p.Status), p.GatewayResponse, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PostgresRepo) HasPendingPayment(ctx context.Context, orderID uuid.UUID, method domain.PaymentMethod) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM payments WHERE order_id = $1 AND method = $2 AND status = 'PENDING' LIMIT 1`,
		orderID, string(method)).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check pending payment: %w", err)
	}
	return true, nil
}

func (r *PostgresRepo) LatestPayment(ctx context.Context, orderID uuid.UUID, method domain.PaymentMethod) (*domain.Payment, error) {
	var p domain.Payment
	var m, st string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, order_id, transaction_id, amount, method, status, gateway_response, created_at, updated_at
		 FROM payments WHERE order_id = $1 AND method = $2 ORDER BY created_at DESC LIMIT 1`,
		orderID, string(method)).
		Scan(&p.ID, &p.OrderID, &p.TransactionID, &p.Amount, &m, &st, &p.GatewayResponse, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest payment: %w", err)
	}
	p.Method = domain.PaymentMethod(m)
	p.Status = domain.PaymentStatus(st)
	return &p, nil
}

// SettlePayment transitions a ledger row out of PENDING (or COMPLETED into
// REFUNDED) exactly once, recording the raw gateway payload. Returns false
// when the row was already settled.
func (r *PostgresRepo) SettlePayment(ctx context.Context, paymentID uuid.UUID, from, to domain.PaymentStatus, rawResponse string) (bool, error) {
	const q = `UPDATE payments SET status = $1, gateway_response = $2, updated_at = $3
		WHERE id = $4 AND status = $5`
	res, err := r.db.ExecContext(ctx, q, string(to), rawResponse, time.Now().UTC(), paymentID, string(from))
	if err != nil {
		return false, fmt.Errorf("settle payment: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *PostgresRepo) ExpirePendingPayments(ctx context.Context, olderThan time.Time) (int, error) {
	const q = `UPDATE payments SET status = 'FAILED', gateway_response = '{"expired":true}', updated_at = $1
		WHERE status = 'PENDING' AND created_at < $2`
	res, err := r.db.ExecContext(ctx, q, time.Now().UTC(), olderThan)
	if err != nil {
		return 0, fmt.Errorf("expire pending payments: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *PostgresRepo) PutUser(ctx context.Context, u *domain.User) error {
	const q = `INSERT INTO users (id, email, phone, full_name, password_hash, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET email=$2, phone=$3, full_name=$4, password_hash=$5, updated_at=$7`
	_, err := r.db.ExecContext(ctx, q, u.ID, u.Email, u.Phone, u.FullName, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func (r *PostgresRepo) GetUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, phone, full_name, password_hash, created_at, updated_at FROM users WHERE phone = $1`, phone).
		Scan(&u.ID, &u.Email, &u.Phone, &u.FullName, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by phone: %w", err)
	}
	return &u, nil
}

func (r *PostgresRepo) ListCart(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	var items []domain.CartItem
	const q = `SELECT id, user_id, product_id, quantity, unit_price, created_at FROM cart_items WHERE user_id = $1`
	if err := r.db.SelectContext(ctx, &items, q, userID); err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	return items, nil
}

func (r *PostgresRepo) AddCartItem(ctx context.Context, item *domain.CartItem) error {
	const q = `INSERT INTO cart_items (id, user_id, product_id, quantity, unit_price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.db.ExecContext(ctx, q, item.ID, item.UserID, item.ProductID, item.Quantity, item.UnitPrice, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ClearCart(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
