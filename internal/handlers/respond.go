package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/veloura/api/internal/platform/httpx"
	"github.com/veloura/api/internal/platform/requestctx"
	"github.com/veloura/api/internal/services"
)

const maxRequestBodySize = 64 * 1024

// userIDHeader carries the caller identity resolved by the fronting auth
// proxy. Authentication itself is out of scope for this service.
const userIDHeader = "X-User-Id"

// UserContextMiddleware lifts the authenticated user id off the request into
// the context for downstream handlers.
func UserContextMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := strings.TrimSpace(r.Header.Get(userIDHeader)); userID != "" {
				r = r.WithContext(requestctx.WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := requestctx.UserID(r.Context())
	if userID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return userID, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body is not valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

// writeServiceError maps service sentinel errors onto the HTTP error
// envelope. Unexpected faults surface as an opaque internal error, never a
// stack trace.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrCatalogInvalidInput),
		errors.Is(err, services.ErrVoucherInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrVoucherNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_not_found", "voucher not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrVariantHidden):
		httpx.WriteError(ctx, w, httpx.NewError("variant_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrQuotaExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_quota_exceeded", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrVoucherNotApplicable):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_not_applicable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrAlreadyProcessed):
		httpx.WriteError(ctx, w, httpx.NewError("already_processed", "payment already resolved", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrSignatureInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "signature verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", "payment amount does not match order", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentPending):
		httpx.WriteError(ctx, w, httpx.NewError("payment_pending", "payment is not resolved yet", http.StatusAccepted))
	default:
		requestctx.Logger(ctx).Sugar().Errorw("unhandled service error", "error", err)
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "an unexpected error occurred", http.StatusInternalServerError))
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
