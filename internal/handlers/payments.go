package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/veloura/api/internal/platform/httpx"
	"github.com/veloura/api/internal/services"
)

type confirmCardRequest struct {
	OrderID  string `json:"orderId"`
	IntentID string `json:"intentId"`
}

// PaymentHandlers exposes the gateway callback and card confirmation endpoints.
type PaymentHandlers struct {
	reconciliation services.ReconciliationService
	resultURL      string
}

// NewPaymentHandlers constructs a new PaymentHandlers instance. resultURL is
// the front-end page the return redirect lands on.
func NewPaymentHandlers(reconciliation services.ReconciliationService, resultURL string) *PaymentHandlers {
	return &PaymentHandlers{
		reconciliation: reconciliation,
		resultURL:      strings.TrimSpace(resultURL),
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/vnpay/ipn", h.handleIPN)
	r.Get("/vnpay/return", h.handleReturn)
	r.Post("/card/confirm", h.confirmCard)
}

// handleIPN always answers HTTP 200; the gateway reads the result code from
// the body, not the status line.
func (h *PaymentHandlers) handleIPN(w http.ResponseWriter, r *http.Request) {
	resp := h.reconciliation.HandleIPN(r.Context(), r.URL.Query())
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *PaymentHandlers) handleReturn(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconciliation.HandleReturn(r.Context(), r.URL.Query())

	status := "failure"
	switch {
	case err == nil && result.Succeeded:
		status = "success"
	case err != nil:
		status = "invalid"
	}

	if h.resultURL == "" {
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"status":  status,
			"orderId": result.OrderID,
		})
		return
	}

	query := url.Values{}
	query.Set("status", status)
	if result.OrderID != "" {
		query.Set("orderId", result.OrderID)
	}
	http.Redirect(w, r, h.resultURL+"?"+query.Encode(), http.StatusFound)
}

func (h *PaymentHandlers) confirmCard(w http.ResponseWriter, r *http.Request) {
	var req confirmCardRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.reconciliation.ConfirmCardPayment(r.Context(), services.ConfirmCardCommand{
		OrderID:  strings.TrimSpace(req.OrderID),
		IntentID: strings.TrimSpace(req.IntentID),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderResponse(order))
}
