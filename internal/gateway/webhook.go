package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danuprasetya/go-shop-checkout/internal/checkout"
)

// DefaultTolerance bounds how stale a signed webhook timestamp may be.
const DefaultTolerance = 5 * time.Minute

// WebhookVerifier authenticates gateway callbacks. The gateway signs
// each delivery with HMAC-SHA256 over "<timestamp>.<body>" and sends
// the result as "t=<unix>,v1=<hex>".
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
}

// ConstructEvent verifies the signature header against the raw payload
// bytes and parses the event. Any verification failure returns
// checkout.ErrInvalidSignature.
func (v *WebhookVerifier) ConstructEvent(payload []byte, sigHeader string) (checkout.PaymentEvent, error) {
	ts, sigs, err := parseSigHeader(sigHeader)
	if err != nil {
		return checkout.PaymentEvent{}, err
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.tolerance || age < -v.tolerance {
		return checkout.PaymentEvent{}, fmt.Errorf("%w: timestamp outside tolerance", checkout.ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	expected := mac.Sum(nil)

	ok := false
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			ok = true
		}
	}
	if !ok {
		return checkout.PaymentEvent{}, checkout.ErrInvalidSignature
	}

	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID          string            `json:"id"`
				AmountTotal int64             `json:"amount_total"`
				Metadata    map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return checkout.PaymentEvent{}, fmt.Errorf("%w: %v", checkout.ErrMalformedEvent, err)
	}

	return checkout.PaymentEvent{
		ID:   raw.ID,
		Type: raw.Type,
		Session: checkout.PaymentSession{
			ID:          raw.Data.Object.ID,
			AmountTotal: raw.Data.Object.AmountTotal,
			Metadata:    raw.Data.Object.Metadata,
		},
	}, nil
}

func parseSigHeader(header string) (ts int64, sigs []string, err error) {
	if header == "" {
		return 0, nil, fmt.Errorf("%w: missing signature header", checkout.ErrInvalidSignature)
	}
	for _, part := range strings.Split(header, ",") {
		k, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", checkout.ErrInvalidSignature)
			}
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: incomplete signature header", checkout.ErrInvalidSignature)
	}
	return ts, sigs, nil
}
