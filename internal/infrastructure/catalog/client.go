package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phangiadaiwork/shopvn-backend/internal/domain"
)

// Client talks to the product-catalog service. The core only needs it to
// snapshot prices at order-creation time.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

type productResp struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

func (c *Client) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 8 * time.Second}
	}
	u := strings.TrimRight(c.BaseURL, "/") + "/api/products/" + url.PathEscape(id.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog error: status %d", resp.StatusCode)
	}
	var out productResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	p := &domain.Product{Name: out.Name}
	if p.ID, err = uuid.Parse(out.ID); err != nil {
		return nil, fmt.Errorf("catalog product id: %w", err)
	}
	if p.Price, err = decimal.NewFromString(out.Price); err != nil {
		return nil, fmt.Errorf("catalog product price: %w", err)
	}
	return p, nil
}
