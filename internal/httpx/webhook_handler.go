package httpx

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/danuprasetya/go-shop-checkout/internal/checkout"
)

// HeaderSignature carries the gateway's webhook signature.
const HeaderSignature = "Stripe-Signature"

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	Reconciler *checkout.Reconciler
}

func (h *WebhookHandler) Register(r *chi.Mux) {
	r.Post("/webhooks/payment", h.paymentEvent)
}

// paymentEvent hands the raw request body to the reconciler. The body
// must not be re-serialized before verification: the signature covers
// the exact bytes on the wire.
func (h *WebhookHandler) paymentEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Reconciler.HandlePaymentEvent(ctx, body, r.Header.Get(HeaderSignature)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
}
