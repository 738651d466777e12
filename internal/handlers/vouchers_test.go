package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/veloura/api/internal/services"
)

type stubVoucherService struct {
	priceFn func(context.Context, services.PriceVoucherCommand) (services.VoucherQuote, error)
}

func (s *stubVoucherService) Price(ctx context.Context, cmd services.PriceVoucherCommand) (services.VoucherQuote, error) {
	if s.priceFn != nil {
		return s.priceFn(ctx, cmd)
	}
	return services.VoucherQuote{}, errors.New("not implemented")
}

func (s *stubVoucherService) Redeem(ctx context.Context, cmd services.RedeemVoucherCommand) (services.Voucher, error) {
	return services.Voucher{}, errors.New("not implemented")
}

func (s *stubVoucherService) Release(ctx context.Context, code, userID string) error {
	return errors.New("not implemented")
}

func TestVoucherHandlersPrice(t *testing.T) {
	var captured services.PriceVoucherCommand
	vouchers := &stubVoucherService{
		priceFn: func(ctx context.Context, cmd services.PriceVoucherCommand) (services.VoucherQuote, error) {
			captured = cmd
			return services.VoucherQuote{
				Code:             "SPRING10",
				Discount:         40000,
				RemainingGlobal:  40,
				RemainingForUser: 1,
			}, nil
		},
	}

	handler := NewVoucherHandlers(vouchers)
	router := chi.NewRouter()
	router.Route("/vouchers", handler.Routes)

	body := `{"code":"SPRING10","subtotal":500000}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/vouchers/price", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Code != "SPRING10" || captured.UserID != "user-1" || captured.Subtotal != 500000 {
		t.Fatalf("unexpected command %#v", captured)
	}

	var resp voucherQuoteResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Discount != 40000 || resp.RemainingForUser != 1 {
		t.Fatalf("unexpected quote %#v", resp)
	}
}

func TestVoucherHandlersPriceRequiresUser(t *testing.T) {
	handler := NewVoucherHandlers(&stubVoucherService{})
	router := chi.NewRouter()
	router.Route("/vouchers", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/vouchers/price", strings.NewReader(`{"code":"SPRING10"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestVoucherHandlersPriceNotApplicable(t *testing.T) {
	vouchers := &stubVoucherService{
		priceFn: func(ctx context.Context, cmd services.PriceVoucherCommand) (services.VoucherQuote, error) {
			return services.VoucherQuote{}, services.ErrVoucherNotApplicable
		},
	}

	handler := NewVoucherHandlers(vouchers)
	router := chi.NewRouter()
	router.Route("/vouchers", handler.Routes)

	req := withUser(httptest.NewRequest(http.MethodPost, "/vouchers/price", strings.NewReader(`{"code":"SPRING10","subtotal":1000}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestVoucherHandlersPriceMissingCode(t *testing.T) {
	handler := NewVoucherHandlers(&stubVoucherService{})
	router := chi.NewRouter()
	router.Route("/vouchers", handler.Routes)

	req := withUser(httptest.NewRequest(http.MethodPost, "/vouchers/price", strings.NewReader(`{"subtotal":1000}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
