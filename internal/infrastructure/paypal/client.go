package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type Client struct {
	ClientID  string
	Secret    string
	BaseURL   string
	ReturnURL string
	CancelURL string
	HTTP      *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(clientID, secret, baseURL, returnURL, cancelURL string) (*Client, error) {
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("paypal config incomplete")
	}
	return &Client{
		ClientID:  clientID,
		Secret:    secret,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		ReturnURL: returnURL,
		CancelURL: cancelURL,
	}, nil
}

type Amount struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type Transaction struct {
	Amount      Amount `json:"amount"`
	Description string `json:"description,omitempty"`
}

type RelatedResource struct {
	Sale *Sale `json:"sale,omitempty"`
}

type Sale struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type Payment struct {
	ID           string        `json:"id"`
	Intent       string        `json:"intent"`
	State        string        `json:"state"`
	Transactions []paymentTxn  `json:"transactions,omitempty"`
	Links        []Link        `json:"links,omitempty"`
	Payer        *paymentPayer `json:"payer,omitempty"`
}

type paymentTxn struct {
	Amount           Amount            `json:"amount"`
	Description      string            `json:"description,omitempty"`
	RelatedResources []RelatedResource `json:"related_resources,omitempty"`
}

type paymentPayer struct {
	PaymentMethod string `json:"payment_method"`
}

// ApprovalURL scans the HATEOAS links for the buyer redirect target.
func (p *Payment) ApprovalURL() string {
	for _, l := range p.Links {
		if l.Rel == "approval_url" {
			return l.Href
		}
	}
	return ""
}

// SaleID returns the captured sale reference once the payment executed.
func (p *Payment) SaleID() string {
	for _, t := range p.Transactions {
		for _, r := range t.RelatedResources {
			if r.Sale != nil {
				return r.Sale.ID
			}
		}
	}
	return ""
}

// IsSuccess classifies an executed payment. The gateway has been observed to
// report success through different fields across flows, so any of these
// indicators counts: state approved, state completed, or intent sale.
func (p *Payment) IsSuccess() bool {
	switch strings.ToLower(p.State) {
	case "approved", "completed":
		return true
	case "created":
		// not yet executed, never a success whatever the intent says
		return false
	}
	return strings.ToLower(p.Intent) == "sale"
}

// CreatePayment opens a sale-intent payment and returns the gateway object,
// including the approval link the storefront must redirect the buyer to.
// orderID is echoed back on the return/cancel URLs so the redirect handler
// can recover order context.
func (c *Client) CreatePayment(ctx context.Context, amount decimal.Decimal, currency, description, orderID string) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("paypal amount must be positive")
	}
	if currency == "" {
		currency = "USD"
	}
	body := map[string]any{
		"intent": "sale",
		"payer":  map[string]string{"payment_method": "paypal"},
		"redirect_urls": map[string]string{
			"return_url": withOrderID(c.ReturnURL, orderID),
			"cancel_url": withOrderID(c.CancelURL, orderID),
		},
		"transactions": []Transaction{{
			Amount:      Amount{Total: amount.StringFixed(2), Currency: currency},
			Description: description,
		}},
	}
	var out Payment
	if err := c.post(ctx, "/v1/payments/payment", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecutePayment captures an approved payment after the buyer returns.
func (c *Client) ExecutePayment(ctx context.Context, paymentID, payerID string) (*Payment, error) {
	if paymentID == "" || payerID == "" {
		return nil, fmt.Errorf("paypal paymentId and payerId required")
	}
	body := map[string]string{"payer_id": payerID}
	var out Payment
	path := "/v1/payments/payment/" + url.PathEscape(paymentID) + "/execute"
	if err := c.post(ctx, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type Refund struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	SaleID string `json:"sale_id"`
}

// CreateRefund refunds a captured sale. A zero amount requests a full refund.
func (c *Client) CreateRefund(ctx context.Context, saleID string, amount decimal.Decimal, currency string) (*Refund, error) {
	if saleID == "" {
		return nil, fmt.Errorf("paypal saleId required")
	}
	body := map[string]any{}
	if amount.IsPositive() {
		if currency == "" {
			currency = "USD"
		}
		body["amount"] = Amount{Total: amount.StringFixed(2), Currency: currency}
	}
	var out Refund
	path := "/v1/payments/sale/" + url.PathEscape(saleID) + "/refund"
	if err := c.post(ctx, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type tokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}
	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/oauth2/token", form)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("paypal token error: %s", strings.TrimSpace(string(raw)))
	}
	var out tokenResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("paypal token missing")
	}
	c.accessToken = out.AccessToken
	// refresh slightly early to avoid racing the expiry
	c.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn-60) * time.Second)
	return c.accessToken, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("paypal error: %s", strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func withOrderID(base, orderID string) string {
	if orderID == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "orderId=" + url.QueryEscape(orderID)
}
