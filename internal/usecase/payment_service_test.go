package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phangiadaiwork/shopvn-backend/internal/domain"
	"github.com/phangiadaiwork/shopvn-backend/internal/infrastructure/paypal"
	"github.com/phangiadaiwork/shopvn-backend/internal/infrastructure/repo"
	"github.com/phangiadaiwork/shopvn-backend/internal/infrastructure/vnpay"
)

const testHashSecret = "testsecret"

type countingCart struct {
	clears int
}

func (c *countingCart) Clear(context.Context, uuid.UUID) error {
	c.clears++
	return nil
}

type fakePayPal struct {
	createResult *paypal.Payment
	createErr    error
	execResult   *paypal.Payment
	execErr      error
	refundResult *paypal.Refund
	refundErr    error
}

func (f *fakePayPal) CreatePayment(context.Context, decimal.Decimal, string, string, string) (*paypal.Payment, error) {
	return f.createResult, f.createErr
}

func (f *fakePayPal) ExecutePayment(context.Context, string, string) (*paypal.Payment, error) {
	return f.execResult, f.execErr
}

func (f *fakePayPal) CreateRefund(context.Context, string, decimal.Decimal, string) (*paypal.Refund, error) {
	return f.refundResult, f.refundErr
}

type fixture struct {
	payments *PaymentService
	orders   *OrderService
	store    *repo.MemoryRepo
	cart     *countingCart
	paypal   *fakePayPal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repo.NewMemoryRepo()
	cart := &countingCart{}
	pp := &fakePayPal{}
	vnp, err := vnpay.NewClient("TESTTMN", testHashSecret, "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html", "http://localhost:3000/return")
	require.NoError(t, err)
	log := testLogger()
	return &fixture{
		payments: &PaymentService{Orders: store, Ledger: store, Cart: cart, VNPay: vnp, PayPal: pp, Log: log},
		orders:   &OrderService{Repo: store, Catalog: &fakeCatalog{}, Log: log},
		store:    store,
		cart:     cart,
		paypal:   pp,
	}
}

func (f *fixture) newOrder(t *testing.T, userID uuid.UUID) *domain.Order {
	t.Helper()
	o, err := f.orders.Create(context.Background(), userID, twoItemInput())
	require.NoError(t, err)
	return o
}

// signedQuery reproduces the gateway's signing scheme over a return payload.
func signedQuery(params map[string]string) url.Values {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+url.QueryEscape(params[k]))
	}
	mac := hmac.New(sha512.New, []byte(testHashSecret))
	mac.Write([]byte(strings.Join(pairs, "&")))

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("vnp_SecureHash", hex.EncodeToString(mac.Sum(nil)))
	return q
}

func successReturn(o *domain.Order) url.Values {
	return signedQuery(map[string]string{
		"vnp_TxnRef":        o.OrderNumber + "_20250101120000",
		"vnp_ResponseCode":  "00",
		"vnp_TransactionNo": "14012345",
		"vnp_Amount":        "22500000",
	})
}

func TestInitiateVNPay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	o := f.newOrder(t, userID)

	payURL, err := f.payments.InitiateVNPay(ctx, userID, o.ID, "", "vn", "127.0.0.1")
	require.NoError(t, err)
	assert.Contains(t, payURL, "vnp_TxnRef="+o.OrderNumber)

	entry, err := f.store.LatestPayment(ctx, o.ID, domain.MethodVNPay)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, domain.PaymentPending, entry.Status)
	assert.Equal(t, "VNPAY"+o.OrderNumber, entry.TransactionID)
	assert.True(t, entry.Amount.Equal(o.TotalAmount))
}

func TestInitiateVNPayNotOwned(t *testing.T) {
	f := newFixture(t)
	o := f.newOrder(t, uuid.New())

	_, err := f.payments.InitiateVNPay(context.Background(), uuid.New(), o.ID, "", "vn", "127.0.0.1")
	var nf ErrNotFound
	require.ErrorAs(t, err, &nf)
}

func TestInitiateVNPayDuplicatePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	o := f.newOrder(t, userID)

	_, err := f.payments.InitiateVNPay(ctx, userID, o.ID, "", "vn", "127.0.0.1")
	require.NoError(t, err)

	_, err = f.payments.InitiateVNPay(ctx, userID, o.ID, "", "vn", "127.0.0.1")
	var cf ErrConflict
	require.ErrorAs(t, err, &cf)
}

func TestHandleVNPayReturnSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	o := f.newOrder(t, userID)
	_, err := f.payments.InitiateVNPay(ctx, userID, o.ID, "", "vn", "127.0.0.1")
	require.NoError(t, err)

	result, err := f.payments.HandleVNPayReturn(ctx, successReturn(o))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, o.OrderNumber, result.OrderNumber)
	assert.Equal(t, "14012345", result.TransactionID)

	got, _ := f.store.GetOrder(ctx, o.ID)
	assert.Equal(t, domain.OrderProcessing, got.Status)

	entry, _ := f.store.LatestPayment(ctx, o.ID, domain.MethodVNPay)
	assert.Equal(t, domain.PaymentCompleted, entry.Status)
	assert.NotEmpty(t, entry.GatewayResponse)

	assert.Equal(t, 1, f.cart.clears)
}

func TestHandleVNPayReturnIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	o := f.newOrder(t, userID)
	_, err := f.payments.InitiateVNPay(ctx, userID, o.ID, "", "vn", "127.0.0.1")
	require.NoError(t, err)

	q := successReturn(o)
	_, err = f.payments.HandleVNPayReturn(ctx, q)
	require.NoError(t, err)
	_, err = f.payments.HandleVNPayReturn(ctx, q)
	require.NoError(t, err)

	got, _ := f.store.GetOrder(ctx, o.ID)
	assert.Equal(t, domain.OrderProcessing, got.Status)
	assert.Equal(t, 1, f.cart.clears, "replayed return must not clear the cart twice")
}

func TestHandleVNPayReturnDeclined(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	o := f.newOrder(t, userID)
	_, err := f.payments.InitiateVNPay(ctx, userID, o.ID, "", "vn", "127.0.0.1")
	require.NoError(t, err)

	q := signedQuery(map[string]string{
		"vnp_TxnRef":       o.OrderNumber + "_20250101120000",
		"vnp_ResponseCode": "24",
	})
	result, err := f.payments.HandleVNPayReturn(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, "Giao dịch không thành công do: Khách hàng hủy giao dịch", result.Message)

	got, _ := f.store.GetOrder(ctx, o.ID)
	assert.Equal(t, domain.OrderPending, got.Status, "declined payment leaves the order open")

	entry, _ := f.store.LatestPayment(ctx, o.ID, domain.MethodVNPay)
	assert.Equal(t, domain.PaymentFailed, entry.Status)
	assert.Equal(t, 0, f.cart.clears)
}

func TestHandleVNPayReturnInvalidSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	o := f.newOrder(t, userID)
	_, err := f.payments.InitiateVNPay(ctx, userID, o.ID, "", "vn", "127.0.0.1")
	require.NoError(t, err)

	q := successReturn(o)
	q.Set("vnp_Amount", "100") // tamper after signing

	result, err := f.payments.HandleVNPayReturn(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status, "a forged success code must never settle")

	got, _ := f.store.GetOrder(ctx, o.ID)
	assert.Equal(t, domain.OrderPending, got.Status)
	assert.Equal(t, 0, f.cart.clears)
}

func TestHandleVNPayReturnUnknownOrder(t *testing.T) {
	f := newFixture(t)

	q := signedQuery(map[string]string{
		"vnp_TxnRef":       "ORDMISSING_20250101120000",
		"vnp_ResponseCode": "00",
	})
	result, err := f.payments.HandleVNPayReturn(context.Background(), q)
	require.NoError(t, err, "unresolvable reference is a failed result, not an error")
	assert.Equal(t, StatusFailed, result.Status)
}

func TestHandleVNPayIPN(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	o := f.newOrder(t, userID)
	_, err := f.payments.InitiateVNPay(ctx, userID, o.ID, "", "vn", "127.0.0.1")
	require.NoError(t, err)

	q := successReturn(o)
	resp := f.payments.HandleVNPayIPN(ctx, q)
	assert.Equal(t, "00", resp.RspCode)

	got, _ := f.store.GetOrder(ctx, o.ID)
	assert.Equal(t, domain.OrderProcessing, got.Status)

	// replay acknowledges without reprocessing
	resp = f.payments.HandleVNPayIPN(ctx, q)
	assert.Equal(t, "02", resp.RspCode)
	assert.Equal(t, 1, f.cart.clears)
}

func TestHandleVNPayIPNInvalidSignature(t *testing.T) {
	f := newFixture(t)
	q := url.Values{}
	q.Set("vnp_TxnRef", "ORD1_20250101120000")
	q.Set("vnp_ResponseCode", "00")
	q.Set("vnp_SecureHash", "deadbeef")

	resp := f.payments.HandleVNPayIPN(context.Background(), q)
	assert.Equal(t, "97", resp.RspCode)
}

func approvedPayPalPayment(t *testing.T, id string) *paypal.Payment {
	t.Helper()
	raw := `{"id":"` + id + `","intent":"sale","state":"approved","transactions":[{"related_resources":[{"sale":{"id":"SALE-7","state":"completed"}}]}]}`
	var p paypal.Payment
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return &p
}

func TestPayPalHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	o := f.newOrder(t, userID)

	f.paypal.createResult = &paypal.Payment{
		ID:    "PAY-123",
		State: "created",
		Links: []paypal.Link{{Href: "https://paypal.test/approve", Rel: "approval_url"}},
	}
	init, err := f.payments.InitiatePayPal(ctx, userID, o.ID, "USD", "")
	require.NoError(t, err)
	assert.Equal(t, "PAY-123", init.PaymentID)
	assert.Equal(t, "https://paypal.test/approve", init.ApprovalURL)

	entry, _ := f.store.LatestPayment(ctx, o.ID, domain.MethodPayPal)
	require.NotNil(t, entry)
	assert.Equal(t, "PAY-123", entry.TransactionID)
	assert.Equal(t, domain.PaymentPending, entry.Status)

	f.paypal.execResult = approvedPayPalPayment(t, "PAY-123")
	result, err := f.payments.ExecutePayPal(ctx, userID, o.ID, "PAY-123", "PAYER-9")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)

	got, _ := f.store.GetOrder(ctx, o.ID)
	assert.Equal(t, domain.OrderProcessing, got.Status)
	entry, _ = f.store.LatestPayment(ctx, o.ID, domain.MethodPayPal)
	assert.Equal(t, domain.PaymentCompleted, entry.Status)
	assert.Equal(t, 1, f.cart.clears)
}

func TestExecutePayPalGatewayRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	o := f.newOrder(t, userID)

	f.paypal.createResult = &paypal.Payment{
		ID:    "PAY-123",
		Links: []paypal.Link{{Href: "https://paypal.test/approve", Rel: "approval_url"}},
	}
	_, err := f.payments.InitiatePayPal(ctx, userID, o.ID, "USD", "")
	require.NoError(t, err)

	f.paypal.execErr = errors.New("PAYMENT_NOT_APPROVED_FOR_EXECUTION")
	result, err := f.payments.ExecutePayPal(ctx, userID, o.ID, "PAY-123", "PAYER-9")
	require.NoError(t, err, "gateway rejection resolves to a result, not an error")
	assert.Equal(t, StatusFailed, result.Status)

	entry, _ := f.store.LatestPayment(ctx, o.ID, domain.MethodPayPal)
	assert.Equal(t, domain.PaymentFailed, entry.Status)
	assert.Contains(t, entry.GatewayResponse, "PAYMENT_NOT_APPROVED_FOR_EXECUTION")

	got, _ := f.store.GetOrder(ctx, o.ID)
	assert.Equal(t, domain.OrderPending, got.Status)
}

func TestExecutePayPalCreatedStateIsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	o := f.newOrder(t, userID)

	f.paypal.createResult = &paypal.Payment{
		ID:    "PAY-123",
		Links: []paypal.Link{{Href: "https://paypal.test/approve", Rel: "approval_url"}},
	}
	_, err := f.payments.InitiatePayPal(ctx, userID, o.ID, "USD", "")
	require.NoError(t, err)

	f.paypal.execResult = &paypal.Payment{ID: "PAY-123", State: "created", Intent: "sale"}
	result, err := f.payments.ExecutePayPal(ctx, userID, o.ID, "PAY-123", "PAYER-9")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)

	entry, _ := f.store.LatestPayment(ctx, o.ID, domain.MethodPayPal)
	assert.Equal(t, domain.PaymentFailed, entry.Status)
}

func TestRefundPayPalOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	o := f.newOrder(t, userID)

	f.paypal.createResult = &paypal.Payment{
		ID:    "PAY-123",
		Links: []paypal.Link{{Href: "https://paypal.test/approve", Rel: "approval_url"}},
	}
	_, err := f.payments.InitiatePayPal(ctx, userID, o.ID, "USD", "")
	require.NoError(t, err)
	f.paypal.execResult = approvedPayPalPayment(t, "PAY-123")
	_, err = f.payments.ExecutePayPal(ctx, userID, o.ID, "PAY-123", "PAYER-9")
	require.NoError(t, err)

	f.paypal.refundResult = &paypal.Refund{ID: "REF-1", State: "completed", SaleID: "SALE-7"}
	require.NoError(t, f.payments.Refund(ctx, o.ID, "admin"))

	got, _ := f.store.GetOrder(ctx, o.ID)
	assert.Equal(t, domain.OrderRefunded, got.Status)
	entry, _ := f.store.LatestPayment(ctx, o.ID, domain.MethodPayPal)
	assert.Equal(t, domain.PaymentRefunded, entry.Status)
}

func TestRefundPendingOrderRejected(t *testing.T) {
	f := newFixture(t)
	o := f.newOrder(t, uuid.New())

	err := f.payments.Refund(context.Background(), o.ID, "admin")
	var cf ErrConflict
	require.ErrorAs(t, err, &cf)
}

func TestExpireStalePayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.newOrder(t, uuid.New())

	stale := &domain.Payment{
		ID:            uuid.New(),
		OrderID:       o.ID,
		TransactionID: "VNPAY" + o.OrderNumber,
		Amount:        o.TotalAmount,
		Method:        domain.MethodVNPay,
		Status:        domain.PaymentPending,
		CreatedAt:     time.Now().UTC().Add(-time.Hour),
		UpdatedAt:     time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, f.store.CreatePayment(ctx, stale))

	n, err := f.payments.ExpireStalePayments(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entry, _ := f.store.LatestPayment(ctx, o.ID, domain.MethodVNPay)
	assert.Equal(t, domain.PaymentFailed, entry.Status)
}
