package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/veloura/api/internal/platform/httpx"
	"github.com/veloura/api/internal/services"
)

type priceVoucherRequest struct {
	Code     string `json:"code"`
	Subtotal int64  `json:"subtotal"`
}

type voucherQuoteResponse struct {
	Code             string `json:"code"`
	Discount         int64  `json:"discount"`
	RemainingGlobal  int    `json:"remainingGlobal"`
	RemainingForUser int    `json:"remainingForUser"`
}

// VoucherHandlers exposes read-only voucher pricing for the storefront.
type VoucherHandlers struct {
	vouchers services.VoucherService
}

// NewVoucherHandlers constructs a new VoucherHandlers instance.
func NewVoucherHandlers(vouchers services.VoucherService) *VoucherHandlers {
	return &VoucherHandlers{vouchers: vouchers}
}

// Routes registers the /vouchers endpoints.
func (h *VoucherHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/price", h.priceVoucher)
}

// priceVoucher quotes a voucher against a subtotal. It never consumes quota;
// redemption happens inside checkout.
func (h *VoucherHandlers) priceVoucher(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req priceVoucherRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "voucher code is required", http.StatusBadRequest))
		return
	}

	quote, err := h.vouchers.Price(r.Context(), services.PriceVoucherCommand{
		Code:     strings.TrimSpace(req.Code),
		UserID:   userID,
		Subtotal: req.Subtotal,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, voucherQuoteResponse{
		Code:             quote.Code,
		Discount:         quote.Discount,
		RemainingGlobal:  quote.RemainingGlobal,
		RemainingForUser: quote.RemainingForUser,
	})
}
