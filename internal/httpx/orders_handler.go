package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/danuprasetya/go-shop-checkout/internal/checkout"
	"github.com/danuprasetya/go-shop-checkout/internal/redisx"
)

// Caller identity headers. Auth itself terminates at the edge proxy;
// these carry the already-authenticated principal.
const (
	HeaderUserID  = "X-User-ID"
	HeaderAdminID = "X-Admin-ID"
)

type OrdersHandler struct {
	Service *checkout.Service
	Redis   *redis.Client
}

type placeOrderReq struct {
	Items      []checkout.ItemInput      `json:"items"`
	Discount   float64                   `json:"discount"`
	Settlement checkout.SettlementMethod `json:"settlement"`
}

type placeOrderResp struct {
	Order       *checkout.Order `json:"order"`
	CheckoutURL string          `json:"checkout_url,omitempty"`
}

type updateStatusReq struct {
	Status checkout.Status `json:"status"`
}

type listOrdersResp struct {
	Orders []*checkout.Order `json:"orders"`
	Total  int               `json:"total"`
	Page   int               `json:"page"`
	Limit  int               `json:"limit"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Put("/orders/{id}", h.updateStatus)
	r.Delete("/orders/{id}", h.deleteOrder)
	r.Post("/orders/{id}/pay", h.reopenSession)
	r.Get("/products", h.listProducts)
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderUserID})
		return
	}

	var req placeOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Service.PlaceOrder(ctx, userID, checkout.PlaceOrderInput{
		Items:      req.Items,
		Discount:   req.Discount,
		Settlement: req.Settlement,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.cacheStatus(ctx, res.Order)
	writeJSON(w, http.StatusCreated, placeOrderResp{Order: res.Order, CheckoutURL: res.CheckoutURL})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	order, err := h.Service.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// getOrderStatus serves the lightweight status poll clients run while
// waiting for payment confirmation. Redis first, DB on miss.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	order, err := h.Service.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(ctx, order)
	writeJSON(w, http.StatusOK, map[string]any{"status": order.Status})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 1)
	limit := intQuery(r, "limit", 20)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orders, total, err := h.Service.ListOrders(ctx, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []*checkout.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResp{Orders: orders, Total: total, Page: page, Limit: limit})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	adminID := r.Header.Get(HeaderAdminID)
	if adminID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderAdminID})
		return
	}

	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Service.UpdateStatus(ctx, chi.URLParam(r, "id"), req.Status, adminID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(ctx, order)
	writeJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(HeaderAdminID) == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderAdminID})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID := chi.URLParam(r, "id")
	if err := h.Service.DeleteOrder(ctx, orderID); err != nil {
		writeError(w, err)
		return
	}
	_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderID)).Err()
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) reopenSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	url, err := h.Service.ReopenSession(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": url})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	products, err := h.Service.ListProducts(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if products == nil {
		products = []checkout.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o *checkout.Order) {
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	val := fmt.Sprintf(`{"status":%q}`, o.Status)
	_ = h.Redis.Set(ctx, key, val, redisx.TTLStatusCache).Err()
}

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n < 1 {
		return def
	}
	return n
}
