package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/veloura/api/internal/domain"
	"github.com/veloura/api/internal/platform/httpx"
	"github.com/veloura/api/internal/services"
)

type adjustStockRequest struct {
	ColorID  string `json:"colorId"`
	SizeID   string `json:"sizeId"`
	Quantity int    `json:"quantity"`
}

type setActivationRequest struct {
	ColorID string `json:"colorId"`
	SizeID  string `json:"sizeId"`
	Active  bool   `json:"active"`
}

type advanceOrderRequest struct {
	To string `json:"to"`
}

type failPaymentRequest struct {
	Reason string `json:"reason"`
}

// AdminHandlers exposes the back-office stock and order controls.
type AdminHandlers struct {
	catalog services.CatalogService
	orders  services.OrderService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(catalog services.CatalogService, orders services.OrderService) *AdminHandlers {
	return &AdminHandlers{catalog: catalog, orders: orders}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Patch("/products/{productID}/stock", h.adjustStock)
	r.Patch("/products/{productID}/activation", h.setActivation)
	r.Get("/orders", h.listOrders)
	r.Post("/orders/{orderID}/advance", h.advanceOrder)
	r.Post("/orders/{orderID}/confirm-payment", h.confirmPayment)
	r.Post("/orders/{orderID}/fail-payment", h.failPayment)
}

func (h *AdminHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	product, err := h.catalog.AdjustQuantity(r.Context(), services.AdjustQuantityCommand{
		ProductID: chi.URLParam(r, "productID"),
		ColorID:   strings.TrimSpace(req.ColorID),
		SizeID:    strings.TrimSpace(req.SizeID),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *AdminHandlers) setActivation(w http.ResponseWriter, r *http.Request) {
	var req setActivationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	product, err := h.catalog.SetActivation(r.Context(), services.SetActivationCommand{
		ProductID: chi.URLParam(r, "productID"),
		ColorID:   strings.TrimSpace(req.ColorID),
		SizeID:    strings.TrimSpace(req.SizeID),
		Active:    req.Active,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	orders, err := h.orders.ListOrders(r.Context(), services.OrderListFilter{
		Status: domain.OrderStatus(strings.TrimSpace(query.Get("status"))),
		Limit:  limit,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		items = append(items, toOrderResponse(order))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *AdminHandlers) advanceOrder(w http.ResponseWriter, r *http.Request) {
	var req advanceOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.orders.Advance(r.Context(), services.AdvanceOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		To:      domain.OrderStatus(strings.TrimSpace(req.To)),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderResponse(order))
}

// confirmPayment settles a manual-method order, typically after a bank
// transfer has been verified by an operator.
func (h *AdminHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.MarkPaid(r.Context(), services.SettlementCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Meta:    map[string]string{"provider": "manual"},
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *AdminHandlers) failPayment(w http.ResponseWriter, r *http.Request) {
	var req failPaymentRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}

	meta := map[string]string{"provider": "manual"}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		meta["reason"] = reason
	}

	order, err := h.orders.MarkFailed(r.Context(), services.SettlementCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Meta:    meta,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderResponse(order))
}
