package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	version = "2.1.0"
	command = "pay"
	// layout for vnp_CreateDate and the timestamp embedded in vnp_TxnRef.
	dateLayout = "20060102150405"
)

type Client struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	Now        func() time.Time
}

func NewClient(tmnCode, hashSecret, payURL, returnURL string) (*Client, error) {
	if strings.TrimSpace(tmnCode) == "" || strings.TrimSpace(hashSecret) == "" {
		return nil, fmt.Errorf("vnpay config incomplete")
	}
	return &Client{
		TmnCode:    tmnCode,
		HashSecret: hashSecret,
		PayURL:     payURL,
		ReturnURL:  returnURL,
		Now:        time.Now,
	}, nil
}

// CreatePaymentURL builds the signed redirect URL for a domestic payment.
// The gateway echoes vnp_TxnRef back on return; it is the order reference
// joined with the creation timestamp so replays of older sessions stay
// distinguishable.
func (c *Client) CreatePaymentURL(amount decimal.Decimal, orderRef, orderInfo, bankCode, locale, clientIP string) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("vnpay amount must be positive")
	}
	now := c.Now()
	if locale == "" {
		locale = "vn"
	}
	params := map[string]string{
		"vnp_Version":    version,
		"vnp_Command":    command,
		"vnp_TmnCode":    c.TmnCode,
		"vnp_Locale":     locale,
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     orderRef + "_" + now.Format(dateLayout),
		"vnp_OrderInfo":  orderInfo,
		"vnp_OrderType":  "other",
		"vnp_Amount":     amount.Mul(decimal.NewFromInt(100)).StringFixed(0),
		"vnp_ReturnUrl":  c.ReturnURL,
		"vnp_IpAddr":     clientIP,
		"vnp_CreateDate": now.Format(dateLayout),
	}
	if bankCode != "" {
		params["vnp_BankCode"] = bankCode
	}
	canonical := canonicalize(params)
	params["vnp_SecureHash"] = c.sign(canonical)
	return c.PayURL + "?" + canonicalize(params), nil
}

type VerifyResult struct {
	IsValid       bool
	ResponseCode  string
	Message       string
	TxnRef        string
	TransactionNo string
	Amount        string
}

// VerifyReturnURL checks the secure hash over a gateway return (or IPN)
// query and maps the response code to its display message. IsValid false
// must never be treated as success regardless of the code.
func (c *Client) VerifyReturnURL(query url.Values) VerifyResult {
	params := make(map[string]string, len(query))
	for k := range query {
		params[k] = query.Get(k)
	}
	got := params["vnp_SecureHash"]
	delete(params, "vnp_SecureHash")
	delete(params, "vnp_SecureHashType")

	want := c.sign(canonicalize(params))
	valid := got != "" && hmac.Equal([]byte(strings.ToLower(got)), []byte(want))

	code := params["vnp_ResponseCode"]
	return VerifyResult{
		IsValid:       valid,
		ResponseCode:  code,
		Message:       ResponseMessage(code),
		TxnRef:        params["vnp_TxnRef"],
		TransactionNo: params["vnp_TransactionNo"],
		Amount:        params["vnp_Amount"],
	}
}

// ParseTxnRef recovers the order reference from a composite vnp_TxnRef by
// splitting on the first underscore.
func ParseTxnRef(ref string) string {
	if i := strings.IndexByte(ref, '_'); i >= 0 {
		return ref[:i]
	}
	return ref
}

// canonicalize sorts keys lexicographically and percent-encodes every value
// with spaces as '+', the exact byte form the gateway signs. Re-running it
// over the same parameter set must yield identical output.
func canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

func (c *Client) sign(message string) string {
	mac := hmac.New(sha512.New, []byte(c.HashSecret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// responseMessages reproduces the gateway's published code table verbatim;
// the storefront shows these strings directly.
var responseMessages = map[string]string{
	"00": "Giao dịch thành công",
	"07": "Trừ tiền thành công. Giao dịch bị nghi ngờ (liên quan tới lừa đảo, giao dịch bất thường).",
	"09": "Giao dịch không thành công do: Thẻ/Tài khoản của khách hàng chưa đăng ký dịch vụ InternetBanking tại ngân hàng.",
	"10": "Giao dịch không thành công do: Khách hàng xác thực thông tin thẻ/tài khoản không đúng quá 3 lần",
	"11": "Giao dịch không thành công do: Đã hết hạn chờ thanh toán. Xin quý khách vui lòng thực hiện lại giao dịch.",
	"12": "Giao dịch không thành công do: Thẻ/Tài khoản của khách hàng bị khóa.",
	"13": "Giao dịch không thành công do Quý khách nhập sai mật khẩu xác thực giao dịch (OTP). Xin quý khách vui lòng thực hiện lại giao dịch.",
	"24": "Giao dịch không thành công do: Khách hàng hủy giao dịch",
	"51": "Giao dịch không thành công do: Tài khoản của quý khách không đủ số dư để thực hiện giao dịch.",
	"65": "Giao dịch không thành công do: Tài khoản của Quý khách đã vượt quá hạn mức giao dịch trong ngày.",
	"75": "Ngân hàng thanh toán đang bảo trì.",
	"79": "Giao dịch không thành công do: KH nhập sai mật khẩu thanh toán quá số lần quy định. Xin quý khách vui lòng thực hiện lại giao dịch",
}

func ResponseMessage(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return "Giao dịch thất bại"
}
