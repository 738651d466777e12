package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/veloura/api/internal/domain"
	"github.com/veloura/api/internal/platform/httpx"
	"github.com/veloura/api/internal/services"
)

type checkoutLineRequest struct {
	ProductID string `json:"productId"`
	ColorID   string `json:"colorId"`
	SizeID    string `json:"sizeId"`
	Quantity  int    `json:"quantity"`
}

type checkoutRequest struct {
	PaymentMethod string                `json:"paymentMethod"`
	Lines         []checkoutLineRequest `json:"lines"`
	VoucherCode   string                `json:"voucherCode"`
	SuccessURL    string                `json:"successUrl"`
	CancelURL     string                `json:"cancelUrl"`
}

type checkoutResponse struct {
	Order      orderResponse `json:"order"`
	PaymentURL string        `json:"paymentUrl,omitempty"`
	SessionID  string        `json:"sessionId,omitempty"`
}

// CheckoutHandlers exposes the storefront checkout endpoint.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs a new CheckoutHandlers instance.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.checkoutOrder)
}

func (h *CheckoutHandlers) checkoutOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Lines) == 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "at least one line is required", http.StatusBadRequest))
		return
	}

	lines := make([]services.CheckoutLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.CheckoutLine{
			ProductID: strings.TrimSpace(line.ProductID),
			ColorID:   strings.TrimSpace(line.ColorID),
			SizeID:    strings.TrimSpace(line.SizeID),
			Quantity:  line.Quantity,
		})
	}

	result, err := h.checkout.Checkout(r.Context(), services.CheckoutCommand{
		UserID:        userID,
		PaymentMethod: domain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		Lines:         lines,
		VoucherCode:   strings.TrimSpace(req.VoucherCode),
		ClientIP:      r.RemoteAddr,
		SuccessURL:    strings.TrimSpace(req.SuccessURL),
		CancelURL:     strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, checkoutResponse{
		Order:      toOrderResponse(result.Order),
		PaymentURL: result.PaymentURL,
		SessionID:  result.SessionID,
	})
}
