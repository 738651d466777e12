package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/veloura/api/internal/domain"
	"github.com/veloura/api/internal/services"
)

type stubReconciliationService struct {
	ipnFn     func(context.Context, url.Values) services.IPNResponse
	returnFn  func(context.Context, url.Values) (services.ReturnResult, error)
	confirmFn func(context.Context, services.ConfirmCardCommand) (services.Order, error)
}

func (s *stubReconciliationService) HandleIPN(ctx context.Context, params url.Values) services.IPNResponse {
	if s.ipnFn != nil {
		return s.ipnFn(ctx, params)
	}
	return services.IPNResponse{RspCode: "99", Message: "not implemented"}
}

func (s *stubReconciliationService) HandleReturn(ctx context.Context, params url.Values) (services.ReturnResult, error) {
	if s.returnFn != nil {
		return s.returnFn(ctx, params)
	}
	return services.ReturnResult{}, errors.New("not implemented")
}

func (s *stubReconciliationService) ConfirmCardPayment(ctx context.Context, cmd services.ConfirmCardCommand) (services.Order, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func TestPaymentHandlersIPNAlwaysAcknowledges(t *testing.T) {
	cases := []struct {
		name string
		resp services.IPNResponse
	}{
		{"success", services.IPNResponse{RspCode: "00", Message: "Confirm Success"}},
		{"checksum failed", services.IPNResponse{RspCode: "97", Message: "Checksum failed"}},
		{"order not found", services.IPNResponse{RspCode: "01", Message: "Order not found"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var capturedParams url.Values
			service := &stubReconciliationService{
				ipnFn: func(ctx context.Context, params url.Values) services.IPNResponse {
					capturedParams = params
					return tc.resp
				},
			}

			handler := NewPaymentHandlers(service, "")
			router := chi.NewRouter()
			router.Route("/payments", handler.Routes)

			req := httptest.NewRequest(http.MethodGet, "/payments/vnpay/ipn?vnp_TxnRef=ord_123&vnp_ResponseCode=00", nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}
			if capturedParams.Get("vnp_TxnRef") != "ord_123" {
				t.Fatalf("expected query params forwarded, got %#v", capturedParams)
			}

			var resp services.IPNResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.RspCode != tc.resp.RspCode {
				t.Fatalf("expected RspCode %s, got %s", tc.resp.RspCode, resp.RspCode)
			}
		})
	}
}

func TestPaymentHandlersReturnRedirectsToResultPage(t *testing.T) {
	service := &stubReconciliationService{
		returnFn: func(ctx context.Context, params url.Values) (services.ReturnResult, error) {
			return services.ReturnResult{OrderID: "ord_123", Succeeded: true}, nil
		},
	}

	handler := NewPaymentHandlers(service, "https://shop.example.com/payment-result")
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?vnp_TxnRef=ord_123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", rr.Code)
	}
	location, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid redirect location: %v", err)
	}
	if location.Query().Get("status") != "success" {
		t.Fatalf("expected status=success, got %s", location.Query().Get("status"))
	}
	if location.Query().Get("orderId") != "ord_123" {
		t.Fatalf("expected orderId=ord_123, got %s", location.Query().Get("orderId"))
	}
}

func TestPaymentHandlersReturnRedirectsFailure(t *testing.T) {
	service := &stubReconciliationService{
		returnFn: func(ctx context.Context, params url.Values) (services.ReturnResult, error) {
			return services.ReturnResult{OrderID: "ord_123", Succeeded: false}, nil
		},
	}

	handler := NewPaymentHandlers(service, "https://shop.example.com/payment-result")
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?vnp_TxnRef=ord_123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", rr.Code)
	}
	location, _ := url.Parse(rr.Header().Get("Location"))
	if location.Query().Get("status") != "failure" {
		t.Fatalf("expected status=failure, got %s", location.Query().Get("status"))
	}
}

func TestPaymentHandlersReturnRedirectsInvalidSignature(t *testing.T) {
	service := &stubReconciliationService{
		returnFn: func(ctx context.Context, params url.Values) (services.ReturnResult, error) {
			return services.ReturnResult{}, services.ErrSignatureInvalid
		},
	}

	handler := NewPaymentHandlers(service, "https://shop.example.com/payment-result")
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?vnp_TxnRef=ord_123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", rr.Code)
	}
	location, _ := url.Parse(rr.Header().Get("Location"))
	if location.Query().Get("status") != "invalid" {
		t.Fatalf("expected status=invalid, got %s", location.Query().Get("status"))
	}
	if location.Query().Has("orderId") {
		t.Fatalf("expected no orderId on invalid signature")
	}
}

func TestPaymentHandlersReturnWithoutResultURL(t *testing.T) {
	service := &stubReconciliationService{
		returnFn: func(ctx context.Context, params url.Values) (services.ReturnResult, error) {
			return services.ReturnResult{OrderID: "ord_123", Succeeded: true}, nil
		},
	}

	handler := NewPaymentHandlers(service, "")
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?vnp_TxnRef=ord_123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "success" || resp["orderId"] != "ord_123" {
		t.Fatalf("unexpected body %#v", resp)
	}
}

func TestPaymentHandlersConfirmCard(t *testing.T) {
	var captured services.ConfirmCardCommand
	service := &stubReconciliationService{
		confirmFn: func(ctx context.Context, cmd services.ConfirmCardCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder("user-1")
			order.Status = domain.OrderStatusConfirmed
			order.PaymentStatus = domain.PaymentStatusPaid
			return order, nil
		},
	}

	handler := NewPaymentHandlers(service, "")
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	body := `{"orderId":"ord_123","intentId":"pi_42"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/card/confirm", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.OrderID != "ord_123" || captured.IntentID != "pi_42" {
		t.Fatalf("unexpected command %#v", captured)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.PaymentStatus != string(domain.PaymentStatusPaid) {
		t.Fatalf("expected paid, got %s", resp.PaymentStatus)
	}
}

func TestPaymentHandlersConfirmCardPending(t *testing.T) {
	service := &stubReconciliationService{
		confirmFn: func(ctx context.Context, cmd services.ConfirmCardCommand) (services.Order, error) {
			return services.Order{}, services.ErrPaymentPending
		},
	}

	handler := NewPaymentHandlers(service, "")
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/payments/card/confirm", strings.NewReader(`{"orderId":"ord_123","intentId":"pi_42"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
}
