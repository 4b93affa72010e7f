package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/danuprasetya/go-shop-checkout/internal/checkout"
)

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps domain sentinels onto HTTP status codes. Anything
// unrecognized is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, checkout.ErrUserNotFound),
		errors.Is(err, checkout.ErrProductNotFound),
		errors.Is(err, checkout.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkout.ErrInsufficientStock),
		errors.Is(err, checkout.ErrInsufficientBalance),
		errors.Is(err, checkout.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, checkout.ErrInvalidInput),
		errors.Is(err, checkout.ErrInvalidVariant),
		errors.Is(err, checkout.ErrInvalidSignature),
		errors.Is(err, checkout.ErrMalformedEvent),
		errors.Is(err, checkout.ErrNoPayableAmount):
		return http.StatusBadRequest
	case errors.Is(err, checkout.ErrGatewayUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
