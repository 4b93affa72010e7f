package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/danuprasetya/go-shop-checkout/internal/checkout"
)

// Client opens hosted checkout sessions against a Stripe-compatible
// payment gateway over its form-encoded REST API.
type Client struct {
	baseURL   string
	secretKey string
	clientURL string
	http      *http.Client
}

func NewClient(baseURL, secretKey, clientURL string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		clientURL: clientURL,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

type sessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// OpenSession creates a payment session for the priced order. The order
// snapshot travels in the session metadata and comes back untouched on
// the completion webhook, which is what lets reconciliation rebuild the
// order if the local record is gone.
func (c *Client) OpenSession(ctx context.Context, userID string, amount float64, payload checkout.SessionPayload) (checkout.Session, error) {
	if amount <= 0 {
		return checkout.Session{}, fmt.Errorf("session amount must be positive, got %.2f", amount)
	}
	snapshot, err := json.Marshal(payload)
	if err != nil {
		return checkout.Session{}, err
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", c.clientURL+"/checkout/success?session_id={CHECKOUT_SESSION_ID}")
	form.Set("cancel_url", c.clientURL+"/checkout/cancelled")
	form.Set("metadata[userId]", userID)
	form.Set("metadata[orderPayload]", string(snapshot))

	for i, item := range payload.Items {
		prefix := fmt.Sprintf("line_items[%d]", i)
		name := item.Name
		if item.Color != "" || item.Size != "" {
			name = fmt.Sprintf("%s (%s, %s)", item.Name, item.Color, item.Size)
		}
		form.Set(prefix+"[price_data][currency]", "usd")
		form.Set(prefix+"[price_data][product_data][name]", name)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(checkout.MinorUnits(item.UnitPrice), 10))
		form.Set(prefix+"[quantity]", strconv.Itoa(item.Quantity))
	}
	if payload.Discount > 0 {
		// The gateway has no negative line items; the discount is folded
		// into a single adjustment so amount_total matches the quote.
		form.Set("discounts[0][coupon_amount_off]", strconv.FormatInt(checkout.MinorUnits(payload.Discount), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return checkout.Session{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return checkout.Session{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return checkout.Session{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return checkout.Session{}, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var sess sessionResponse
	if err := json.Unmarshal(body, &sess); err != nil {
		return checkout.Session{}, fmt.Errorf("decode session response: %w", err)
	}
	if sess.ID == "" || sess.URL == "" {
		return checkout.Session{}, fmt.Errorf("gateway session missing id or url")
	}
	return checkout.Session{ID: sess.ID, URL: sess.URL}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
