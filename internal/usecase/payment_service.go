package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phangiadaiwork/shopvn-backend/internal/domain"
	"github.com/phangiadaiwork/shopvn-backend/internal/infrastructure/paypal"
	"github.com/phangiadaiwork/shopvn-backend/internal/infrastructure/vnpay"
)

type PaymentRepo interface {
	CreatePayment(ctx context.Context, p *domain.Payment) error
	HasPendingPayment(ctx context.Context, orderID uuid.UUID, method domain.PaymentMethod) (bool, error)
	LatestPayment(ctx context.Context, orderID uuid.UUID, method domain.PaymentMethod) (*domain.Payment, error)
	SettlePayment(ctx context.Context, paymentID uuid.UUID, from, to domain.PaymentStatus, rawResponse string) (bool, error)
	ExpirePendingPayments(ctx context.Context, olderThan time.Time) (int, error)
}

// CartClearer is the cart collaborator. Clearing is best effort and never
// reverses financial state.
type CartClearer interface {
	Clear(ctx context.Context, userID uuid.UUID) error
}

type VNPayGateway interface {
	CreatePaymentURL(amount decimal.Decimal, orderRef, orderInfo, bankCode, locale, clientIP string) (string, error)
	VerifyReturnURL(query url.Values) vnpay.VerifyResult
}

type PayPalGateway interface {
	CreatePayment(ctx context.Context, amount decimal.Decimal, currency, description, orderID string) (*paypal.Payment, error)
	ExecutePayment(ctx context.Context, paymentID, payerID string) (*paypal.Payment, error)
	CreateRefund(ctx context.Context, saleID string, amount decimal.Decimal, currency string) (*paypal.Refund, error)
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// PaymentResult is the structured verdict every payment flow resolves to.
// A declined payment is a result, not an error.
type PaymentResult struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	OrderNumber   string `json:"order_number,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// PaymentService orchestrates order/payment reconciliation: it creates
// ledger entries, dispatches to gateway adapters, consumes verified callback
// data and advances order state through conditional updates only.
type PaymentService struct {
	Orders OrderRepo
	Ledger PaymentRepo
	Cart   CartClearer
	VNPay  VNPayGateway
	PayPal PayPalGateway
	Log    *slog.Logger
}

func (s *PaymentService) ownedPendingOrder(ctx context.Context, userID, orderID uuid.UUID, method domain.PaymentMethod) (*domain.Order, error) {
	o, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil || o.UserID != userID {
		return nil, ErrNotFound("Không tìm thấy đơn hàng")
	}
	if o.Status != domain.OrderPending {
		return nil, ErrConflict("Đơn hàng không ở trạng thái chờ thanh toán")
	}
	pending, err := s.Ledger.HasPendingPayment(ctx, orderID, method)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrConflict("Đơn hàng đã có giao dịch đang chờ xử lý")
	}
	return o, nil
}

// InitiateVNPay records a PENDING ledger entry and returns the signed
// redirect URL for the buyer. The gateway reference is not known until the
// redirect completes, so the transaction id is derived from the order number.
func (s *PaymentService) InitiateVNPay(ctx context.Context, userID, orderID uuid.UUID, bankCode, locale, clientIP string) (string, error) {
	o, err := s.ownedPendingOrder(ctx, userID, orderID, domain.MethodVNPay)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	entry := &domain.Payment{
		ID:            uuid.New(),
		OrderID:       o.ID,
		TransactionID: "VNPAY" + o.OrderNumber,
		Amount:        o.TotalAmount,
		Method:        domain.MethodVNPay,
		Status:        domain.PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Ledger.CreatePayment(ctx, entry); err != nil {
		return "", fmt.Errorf("record payment attempt: %w", err)
	}
	payURL, err := s.VNPay.CreatePaymentURL(o.TotalAmount, o.OrderNumber, "Thanh toan don hang "+o.OrderNumber, bankCode, locale, clientIP)
	if err != nil {
		raw, _ := json.Marshal(map[string]string{"error": err.Error()})
		if _, settleErr := s.Ledger.SettlePayment(ctx, entry.ID, domain.PaymentPending, domain.PaymentFailed, string(raw)); settleErr != nil {
			s.Log.Error("settle after gateway failure", "payment_id", entry.ID, "err", settleErr)
		}
		return "", fmt.Errorf("create vnpay url: %w", err)
	}
	return payURL, nil
}

// HandleVNPayReturn consumes the browser-redirected return from the gateway.
// It always resolves to a PaymentResult; only malformed input errors out.
// Replaying the same return is harmless: the ledger settles once and the
// order advances once.
func (s *PaymentService) HandleVNPayReturn(ctx context.Context, query url.Values) (PaymentResult, error) {
	vr := s.VNPay.VerifyReturnURL(query)
	orderNumber := vnpay.ParseTxnRef(vr.TxnRef)
	raw, _ := json.Marshal(query)

	o, err := s.Orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return PaymentResult{}, err
	}
	if o == nil {
		s.Log.Warn("vnpay return for unknown order", "txn_ref", vr.TxnRef)
		return PaymentResult{Status: StatusFailed, Message: "Không tìm thấy đơn hàng", TransactionID: vr.TransactionNo}, nil
	}

	if !vr.IsValid {
		s.Log.Warn("vnpay signature rejected", "order_number", o.OrderNumber)
		s.settleVNPay(ctx, o, domain.PaymentFailed, string(raw))
		return PaymentResult{
			Status:      StatusFailed,
			Message:     "Chữ ký không hợp lệ",
			OrderNumber: o.OrderNumber,
		}, nil
	}

	if vr.ResponseCode != "00" {
		s.settleVNPay(ctx, o, domain.PaymentFailed, string(raw))
		return PaymentResult{
			Status:        StatusFailed,
			Message:       vr.Message,
			OrderNumber:   o.OrderNumber,
			TransactionID: vr.TransactionNo,
		}, nil
	}

	settled := s.settleVNPay(ctx, o, domain.PaymentCompleted, string(raw))
	s.confirmOrder(ctx, o)
	if settled {
		s.Log.Info("vnpay payment completed", "order_number", o.OrderNumber, "transaction_no", vr.TransactionNo)
	}
	return PaymentResult{
		Status:        StatusSuccess,
		Message:       vr.Message,
		OrderNumber:   o.OrderNumber,
		TransactionID: vr.TransactionNo,
	}, nil
}

// VNPayIPNResponse is the acknowledgement shape the gateway expects from the
// server-to-server notification endpoint.
type VNPayIPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// HandleVNPayIPN funnels the instant payment notification into the same
// idempotent settle path as the browser return.
func (s *PaymentService) HandleVNPayIPN(ctx context.Context, query url.Values) VNPayIPNResponse {
	vr := s.VNPay.VerifyReturnURL(query)
	if !vr.IsValid {
		return VNPayIPNResponse{RspCode: "97", Message: "Invalid signature"}
	}
	orderNumber := vnpay.ParseTxnRef(vr.TxnRef)
	o, err := s.Orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil || o == nil {
		return VNPayIPNResponse{RspCode: "01", Message: "Order not found"}
	}
	if vr.Amount != "" && vr.Amount != o.TotalAmount.Mul(decimal.NewFromInt(100)).StringFixed(0) {
		return VNPayIPNResponse{RspCode: "04", Message: "Invalid amount"}
	}
	latest, err := s.Ledger.LatestPayment(ctx, o.ID, domain.MethodVNPay)
	if err != nil {
		return VNPayIPNResponse{RspCode: "99", Message: "Unknown error"}
	}
	if latest == nil || latest.Status != domain.PaymentPending {
		return VNPayIPNResponse{RspCode: "02", Message: "Order already confirmed"}
	}
	raw, _ := json.Marshal(query)
	if vr.ResponseCode == "00" {
		s.settleVNPay(ctx, o, domain.PaymentCompleted, string(raw))
		s.confirmOrder(ctx, o)
	} else {
		s.settleVNPay(ctx, o, domain.PaymentFailed, string(raw))
	}
	return VNPayIPNResponse{RspCode: "00", Message: "Confirm success"}
}

// settleVNPay moves the most recent VNPay ledger row for the order out of
// PENDING. Returns false when there was nothing left to settle.
func (s *PaymentService) settleVNPay(ctx context.Context, o *domain.Order, to domain.PaymentStatus, raw string) bool {
	latest, err := s.Ledger.LatestPayment(ctx, o.ID, domain.MethodVNPay)
	if err != nil {
		s.Log.Error("lookup ledger entry", "order_number", o.OrderNumber, "err", err)
		return false
	}
	if latest == nil {
		s.Log.Warn("vnpay callback without ledger entry", "order_number", o.OrderNumber)
		return false
	}
	settled, err := s.Ledger.SettlePayment(ctx, latest.ID, domain.PaymentPending, to, raw)
	if err != nil {
		s.Log.Error("settle ledger entry", "payment_id", latest.ID, "err", err)
		return false
	}
	return settled
}

// confirmOrder advances PENDING to PROCESSING and clears the buyer's cart.
// The conditional update makes replays no-ops, so the cart clears at most
// once per order; a cart failure is logged and swallowed.
func (s *PaymentService) confirmOrder(ctx context.Context, o *domain.Order) {
	advanced, err := s.Orders.AdvanceOrderStatus(ctx, o.ID, domain.OrderPending, domain.OrderProcessing)
	if err != nil {
		s.Log.Error("advance order", "order_number", o.OrderNumber, "err", err)
		return
	}
	if !advanced {
		return
	}
	if err := s.Cart.Clear(ctx, o.UserID); err != nil {
		s.Log.Warn("cart clear failed", "user_id", o.UserID, "err", err)
	}
}

type PayPalInitResult struct {
	PaymentID   string `json:"payment_id"`
	ApprovalURL string `json:"approval_url"`
}

// InitiatePayPal opens a gateway payment and records the ledger entry under
// the gateway's own payment id.
func (s *PaymentService) InitiatePayPal(ctx context.Context, userID, orderID uuid.UUID, currency, description string) (*PayPalInitResult, error) {
	o, err := s.ownedPendingOrder(ctx, userID, orderID, domain.MethodPayPal)
	if err != nil {
		return nil, err
	}
	if description == "" {
		description = "Thanh toan don hang " + o.OrderNumber
	}
	gp, err := s.PayPal.CreatePayment(ctx, o.TotalAmount, currency, description, o.ID.String())
	if err != nil {
		return nil, fmt.Errorf("create paypal payment: %w", err)
	}
	now := time.Now().UTC()
	entry := &domain.Payment{
		ID:            uuid.New(),
		OrderID:       o.ID,
		TransactionID: gp.ID,
		Amount:        o.TotalAmount,
		Method:        domain.MethodPayPal,
		Status:        domain.PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Ledger.CreatePayment(ctx, entry); err != nil {
		return nil, fmt.Errorf("record payment attempt: %w", err)
	}
	approval := gp.ApprovalURL()
	if approval == "" {
		return nil, ErrBadRequest("Không nhận được liên kết thanh toán từ PayPal")
	}
	return &PayPalInitResult{PaymentID: gp.ID, ApprovalURL: approval}, nil
}

// ExecutePayPal captures the payment after buyer approval. Gateway rejections
// settle the ledger FAILED with the raw error and come back as a failed
// result, never as a panic or an escaping error.
func (s *PaymentService) ExecutePayPal(ctx context.Context, userID, orderID uuid.UUID, paymentID, payerID string) (PaymentResult, error) {
	o, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return PaymentResult{}, err
	}
	if o == nil || o.UserID != userID {
		return PaymentResult{}, ErrNotFound("Không tìm thấy đơn hàng")
	}

	gp, err := s.PayPal.ExecutePayment(ctx, paymentID, payerID)
	if err != nil {
		raw, _ := json.Marshal(map[string]string{"error": err.Error()})
		s.settlePayPal(ctx, o, domain.PaymentFailed, string(raw))
		return PaymentResult{
			Status:        StatusFailed,
			Message:       "Thanh toán PayPal thất bại",
			OrderNumber:   o.OrderNumber,
			TransactionID: paymentID,
		}, nil
	}

	raw, _ := json.Marshal(gp)
	if !gp.IsSuccess() {
		s.settlePayPal(ctx, o, domain.PaymentFailed, string(raw))
		return PaymentResult{
			Status:        StatusFailed,
			Message:       "Thanh toán PayPal không được chấp nhận",
			OrderNumber:   o.OrderNumber,
			TransactionID: gp.ID,
		}, nil
	}

	s.settlePayPal(ctx, o, domain.PaymentCompleted, string(raw))
	s.confirmOrder(ctx, o)
	s.Log.Info("paypal payment completed", "order_number", o.OrderNumber, "payment_id", gp.ID)
	return PaymentResult{
		Status:        StatusSuccess,
		Message:       "Thanh toán thành công",
		OrderNumber:   o.OrderNumber,
		TransactionID: gp.ID,
	}, nil
}

func (s *PaymentService) settlePayPal(ctx context.Context, o *domain.Order, to domain.PaymentStatus, raw string) {
	latest, err := s.Ledger.LatestPayment(ctx, o.ID, domain.MethodPayPal)
	if err != nil || latest == nil {
		s.Log.Warn("paypal callback without ledger entry", "order_number", o.OrderNumber)
		return
	}
	if _, err := s.Ledger.SettlePayment(ctx, latest.ID, domain.PaymentPending, to, raw); err != nil {
		s.Log.Error("settle ledger entry", "payment_id", latest.ID, "err", err)
	}
}

// Refund reverses a settled order. PayPal refunds go through the gateway
// against the captured sale; VNPay refunds are recorded for the manual
// back-office path since this design has no refund API for it.
func (s *PaymentService) Refund(ctx context.Context, orderID uuid.UUID, operator string) error {
	o, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return ErrNotFound("Không tìm thấy đơn hàng")
	}
	if !domain.CanTransition(o.Status, domain.OrderRefunded) {
		return ErrConflict("Đơn hàng không thể hoàn tiền ở trạng thái hiện tại")
	}

	payment, err := s.completedPayment(ctx, o.ID)
	if err != nil {
		return err
	}
	if payment == nil {
		return ErrConflict("Đơn hàng chưa có giao dịch thanh toán thành công")
	}

	var raw string
	switch payment.Method {
	case domain.MethodPayPal:
		var gp paypal.Payment
		if err := json.Unmarshal([]byte(payment.GatewayResponse), &gp); err != nil || gp.SaleID() == "" {
			return ErrConflict("Không tìm thấy giao dịch PayPal để hoàn tiền")
		}
		refund, err := s.PayPal.CreateRefund(ctx, gp.SaleID(), decimal.Zero, "")
		if err != nil {
			return fmt.Errorf("paypal refund: %w", err)
		}
		b, _ := json.Marshal(refund)
		raw = string(b)
	default:
		b, _ := json.Marshal(map[string]string{"manual_refund": "true", "operator": operator})
		raw = string(b)
	}

	if _, err := s.Ledger.SettlePayment(ctx, payment.ID, domain.PaymentCompleted, domain.PaymentRefunded, raw); err != nil {
		return err
	}
	if _, err := s.Orders.AdvanceOrderStatus(ctx, o.ID, o.Status, domain.OrderRefunded); err != nil {
		return err
	}
	s.Log.Info("order refunded", "order_number", o.OrderNumber, "method", payment.Method, "operator", operator)
	return nil
}

func (s *PaymentService) completedPayment(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	for _, method := range []domain.PaymentMethod{domain.MethodVNPay, domain.MethodPayPal} {
		p, err := s.Ledger.LatestPayment(ctx, orderID, method)
		if err != nil {
			return nil, err
		}
		if p != nil && p.Status == domain.PaymentCompleted {
			return p, nil
		}
	}
	return nil, nil
}

// ExpireStalePayments fails PENDING ledger rows older than the window. Meant
// for a periodic caller; a stale row would otherwise linger until a callback
// that may never come.
func (s *PaymentService) ExpireStalePayments(ctx context.Context, window time.Duration) (int, error) {
	n, err := s.Ledger.ExpirePendingPayments(ctx, time.Now().UTC().Add(-window))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.Log.Info("expired stale payments", "count", n)
	}
	return n, nil
}
