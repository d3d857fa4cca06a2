package vnpay

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient("TESTTMN", "testsecret", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html", "http://localhost:3000/return")
	require.NoError(t, err)
	c.Now = func() time.Time {
		return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	}
	return c
}

func TestCreatePaymentURL(t *testing.T) {
	c := testClient(t)
	amount := decimal.NewFromInt(225000)

	u, err := c.CreatePaymentURL(amount, "ORD20250101120000AB12CD", "Thanh toan don hang", "NCB", "vn", "127.0.0.1")
	require.NoError(t, err)

	parsed, err := url.Parse(u)
	require.NoError(t, err)
	q := parsed.Query()

	assert.Equal(t, "22500000", q.Get("vnp_Amount"), "gateway unit is the smallest currency subunit")
	assert.Equal(t, "VND", q.Get("vnp_CurrCode"))
	assert.Equal(t, "ORD20250101120000AB12CD_20250101120000", q.Get("vnp_TxnRef"))
	assert.Equal(t, "NCB", q.Get("vnp_BankCode"))
	assert.NotEmpty(t, q.Get("vnp_SecureHash"))

	// the signed query must verify against the same secret
	vr := c.VerifyReturnURL(q)
	assert.True(t, vr.IsValid)
}

func TestCreatePaymentURLDeterministic(t *testing.T) {
	c := testClient(t)
	amount := decimal.NewFromInt(100000)

	u1, err := c.CreatePaymentURL(amount, "ORD1", "mot hai ba", "", "vn", "10.0.0.1")
	require.NoError(t, err)
	u2, err := c.CreatePaymentURL(amount, "ORD1", "mot hai ba", "", "vn", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, u1, u2, "same parameter set must serialize byte-identically")
}

func TestCanonicalizeSpacesAsPlus(t *testing.T) {
	out := canonicalize(map[string]string{"vnp_OrderInfo": "thanh toan don hang"})
	assert.Equal(t, "vnp_OrderInfo=thanh+toan+don+hang", out)
	assert.NotContains(t, out, "%20")
}

func TestCreatePaymentURLRejectsNonPositiveAmount(t *testing.T) {
	c := testClient(t)
	_, err := c.CreatePaymentURL(decimal.Zero, "ORD1", "x", "", "vn", "10.0.0.1")
	assert.Error(t, err)
}

func signedReturnQuery(c *Client, params map[string]string) url.Values {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("vnp_SecureHash", c.sign(canonicalize(params)))
	return q
}

func TestVerifyReturnURL(t *testing.T) {
	c := testClient(t)
	params := map[string]string{
		"vnp_TxnRef":        "ORD20250101120000AB12CD_20250101120000",
		"vnp_ResponseCode":  "00",
		"vnp_TransactionNo": "14012345",
		"vnp_Amount":        "22500000",
	}

	vr := c.VerifyReturnURL(signedReturnQuery(c, params))
	assert.True(t, vr.IsValid)
	assert.Equal(t, "00", vr.ResponseCode)
	assert.Equal(t, "Giao dịch thành công", vr.Message)
	assert.Equal(t, "14012345", vr.TransactionNo)
}

func TestVerifyReturnURLTamperedHash(t *testing.T) {
	c := testClient(t)
	params := map[string]string{
		"vnp_TxnRef":       "ORD1_20250101120000",
		"vnp_ResponseCode": "00",
	}
	q := signedReturnQuery(c, params)

	hash := q.Get("vnp_SecureHash")
	// alter a single character, everything else held fixed
	var flipped byte = 'a'
	if hash[0] == 'a' {
		flipped = 'b'
	}
	q.Set("vnp_SecureHash", string(flipped)+hash[1:])

	vr := c.VerifyReturnURL(q)
	assert.False(t, vr.IsValid)
}

func TestVerifyReturnURLTamperedParam(t *testing.T) {
	c := testClient(t)
	params := map[string]string{
		"vnp_TxnRef":       "ORD1_20250101120000",
		"vnp_ResponseCode": "24",
	}
	q := signedReturnQuery(c, params)
	q.Set("vnp_ResponseCode", "00")

	vr := c.VerifyReturnURL(q)
	assert.False(t, vr.IsValid, "upgrading the response code must break the signature")
}

func TestVerifyReturnURLMissingHash(t *testing.T) {
	c := testClient(t)
	q := url.Values{}
	q.Set("vnp_ResponseCode", "00")
	assert.False(t, c.VerifyReturnURL(q).IsValid)
}

func TestVerifyReturnURLIgnoresSecureHashType(t *testing.T) {
	c := testClient(t)
	params := map[string]string{
		"vnp_TxnRef":       "ORD1_20250101120000",
		"vnp_ResponseCode": "00",
	}
	q := signedReturnQuery(c, params)
	q.Set("vnp_SecureHashType", "HmacSHA512")
	assert.True(t, c.VerifyReturnURL(q).IsValid)
}

func TestResponseMessages(t *testing.T) {
	assert.Equal(t, "Giao dịch không thành công do: Khách hàng hủy giao dịch", ResponseMessage("24"))
	assert.Equal(t, "Giao dịch không thành công do: Tài khoản của quý khách không đủ số dư để thực hiện giao dịch.", ResponseMessage("51"))
	assert.Equal(t, "Ngân hàng thanh toán đang bảo trì.", ResponseMessage("75"))
	assert.Equal(t, "Giao dịch thất bại", ResponseMessage("XX"))
}

func TestParseTxnRef(t *testing.T) {
	assert.Equal(t, "ORD20250101120000AB12CD", ParseTxnRef("ORD20250101120000AB12CD_20250101120000"))
	assert.Equal(t, "plain", ParseTxnRef("plain"))
	assert.True(t, strings.HasPrefix(ParseTxnRef("a_b_c"), "a"))
	assert.Equal(t, "a", ParseTxnRef("a_b_c"))
}
