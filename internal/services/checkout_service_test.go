package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/veloura/api/internal/domain"
	"github.com/veloura/api/internal/payments"
	"github.com/veloura/api/internal/repositories"
)

type stubPayURLBuilder struct {
	url   string
	err   error
	calls []payments.PayURLRequest
}

func (s *stubPayURLBuilder) BuildPayURL(req payments.PayURLRequest) (string, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return "", s.err
	}
	return s.url, nil
}

type stubSessionCreator struct {
	session payments.CheckoutSession
	err     error
	calls   []payments.CheckoutSessionRequest
}

func (s *stubSessionCreator) CreateCheckoutSession(ctx context.Context, preferred string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return payments.CheckoutSession{}, s.err
	}
	session := s.session
	session.Provider = preferred
	return session, nil
}

type checkoutFixture struct {
	orders   *stubOrderRepository
	catalog  *stubCatalogRepository
	vouchers *stubVoucherRepository
	gateway  *stubPayURLBuilder
	psp      *stubSessionCreator
	svc      CheckoutService
}

func newCheckoutFixture(t *testing.T, vouchers ...domain.Voucher) *checkoutFixture {
	t.Helper()

	f := &checkoutFixture{
		orders: newStubOrderRepository(),
		catalog: newStubCatalogRepository(domain.Product{
			ID: "prod-1", Name: "Linen Shirt", Price: 250000, IsActive: true,
		}),
		vouchers: newStubVoucherRepository(vouchers...),
		gateway:  &stubPayURLBuilder{url: "https://gateway.example/pay?vnp_TxnRef=x"},
		psp:      &stubSessionCreator{session: payments.CheckoutSession{ID: "cs_1", RedirectURL: "https://stripe.example/cs_1", IntentID: "pi_1"}},
	}

	compensation, err := NewCompensationService(CompensationServiceDeps{
		Orders:   f.orders,
		Catalog:  f.catalog,
		Vouchers: f.vouchers,
		Clock:    fixedClock(testNow),
	})
	if err != nil {
		t.Fatalf("new compensation service: %v", err)
	}
	orderSvc, err := NewOrderService(OrderServiceDeps{
		Orders:       f.orders,
		Counters:     &stubCounterRepository{},
		Compensation: compensation,
		Clock:        fixedClock(testNow),
		IDGenerator:  sequentialIDs("01HV"),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	voucherSvc, err := NewVoucherService(VoucherServiceDeps{
		Vouchers: f.vouchers,
		Clock:    fixedClock(testNow),
	})
	if err != nil {
		t.Fatalf("new voucher service: %v", err)
	}

	f.svc, err = NewCheckoutService(CheckoutServiceDeps{
		Catalog:     f.catalog,
		Orders:      orderSvc,
		Vouchers:    voucherSvc,
		Gateway:     f.gateway,
		Payments:    f.psp,
		ShippingFee: 30000,
		Currency:    "vnd",
		SuccessURL:  "https://shop.example/success",
		CancelURL:   "https://shop.example/cancel",
		Clock:       fixedClock(testNow),
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	return f
}

func checkoutLines() []CheckoutLine {
	return []CheckoutLine{{ProductID: "prod-1", ColorID: "black", SizeID: "m", Quantity: 2}}
}

func TestCheckoutCODSettlesImmediately(t *testing.T) {
	f := newCheckoutFixture(t)

	result, err := f.svc.Checkout(context.Background(), CheckoutCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCOD,
		Lines:         checkoutLines(),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if result.Order.Status != domain.OrderStatusConfirmed || result.Order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("cod order state = %s/%s", result.Order.Status, result.Order.PaymentStatus)
	}
	if result.Order.Totals.Subtotal != 500000 || result.Order.Totals.Total != 530000 {
		t.Fatalf("totals = %+v", result.Order.Totals)
	}
	if result.Order.Lines[0].Name != "Linen Shirt" || result.Order.Lines[0].UnitPrice != 250000 {
		t.Fatalf("line priced from catalog = %+v", result.Order.Lines[0])
	}
	if result.PaymentURL != "" {
		t.Fatalf("cod checkout returned payment url %q", result.PaymentURL)
	}
}

func TestCheckoutBankTransferStaysPending(t *testing.T) {
	f := newCheckoutFixture(t)

	result, err := f.svc.Checkout(context.Background(), CheckoutCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodBankTransfer,
		Lines:         checkoutLines(),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Order.Status != domain.OrderStatusPending || result.Order.PaymentStatus != domain.PaymentStatusUnpaid {
		t.Fatalf("bank transfer state = %s/%s", result.Order.Status, result.Order.PaymentStatus)
	}
}

func TestCheckoutGatewayHandsOffPayURL(t *testing.T) {
	f := newCheckoutFixture(t)

	result, err := f.svc.Checkout(context.Background(), CheckoutCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodVNPay,
		Lines:         checkoutLines(),
		ClientIP:      "203.0.113.10",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if result.PaymentURL != f.gateway.url {
		t.Fatalf("payment url = %q", result.PaymentURL)
	}
	if len(f.gateway.calls) != 1 {
		t.Fatalf("gateway calls = %d", len(f.gateway.calls))
	}
	call := f.gateway.calls[0]
	if call.TxnRef != result.Order.ID || call.Amount != result.Order.Totals.Total {
		t.Fatalf("pay url request = %+v", call)
	}
	if result.Order.PaymentStatus != domain.PaymentStatusUnpaid {
		t.Fatalf("gateway order settled early: %s", result.Order.PaymentStatus)
	}
}

func TestCheckoutCardCreatesSession(t *testing.T) {
	f := newCheckoutFixture(t)

	result, err := f.svc.Checkout(context.Background(), CheckoutCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCard,
		Lines:         checkoutLines(),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.SessionID != "cs_1" || result.PaymentURL != "https://stripe.example/cs_1" {
		t.Fatalf("card result = %+v", result)
	}
	req := f.psp.calls[0]
	if req.Amount != result.Order.Totals.Total || req.Metadata["orderId"] != result.Order.ID {
		t.Fatalf("session request = %+v", req)
	}
	if req.IdempotencyKey != result.Order.ID {
		t.Fatalf("idempotency key = %q", req.IdempotencyKey)
	}
}

func TestCheckoutAppliesVoucherDiscount(t *testing.T) {
	f := newCheckoutFixture(t, domain.Voucher{
		Code: "SPRING10", Type: domain.VoucherTypePercent, Discount: 10,
		UsageLimit: 5, IsActive: true,
	})

	result, err := f.svc.Checkout(context.Background(), CheckoutCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCOD,
		Lines:         checkoutLines(),
		VoucherCode:   "spring10",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Order.Totals.Discount != 50000 || result.Order.Totals.Total != 480000 {
		t.Fatalf("totals = %+v", result.Order.Totals)
	}

	voucher, _ := f.vouchers.FindByCode(context.Background(), "SPRING10")
	if voucher.UsedCount != 1 || voucher.UsedBy["user-1"] != 1 {
		t.Fatalf("voucher after checkout = %+v", voucher)
	}
}

func TestCheckoutVoucherFailureUnwindsReservation(t *testing.T) {
	f := newCheckoutFixture(t, domain.Voucher{
		Code: "GONE", Type: domain.VoucherTypeFixed, Discount: 10000,
		UsageLimit: 1, UsedCount: 1, IsActive: true,
	})

	_, err := f.svc.Checkout(context.Background(), CheckoutCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCOD,
		Lines:         checkoutLines(),
		VoucherCode:   "GONE",
	})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v", err)
	}
	if f.catalog.reverts() != 1 {
		t.Fatalf("revert calls = %d, reservation not unwound", f.catalog.reverts())
	}
}

func TestCheckoutOutOfStockSurfaces(t *testing.T) {
	f := newCheckoutFixture(t)
	f.catalog.reserveErr = repositories.NewStockError(repositories.StockErrorInsufficient, "2 requested, 1 available", nil)

	_, err := f.svc.Checkout(context.Background(), CheckoutCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCOD,
		Lines:         checkoutLines(),
	})
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("err = %v", err)
	}
	if f.catalog.reverts() != 0 {
		t.Fatalf("revert calls = %d, nothing was reserved", f.catalog.reverts())
	}
}

func TestCheckoutGatewayFailureFailsOrder(t *testing.T) {
	f := newCheckoutFixture(t)
	f.gateway.err = errors.New("gateway unreachable")

	_, err := f.svc.Checkout(context.Background(), CheckoutCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodVNPay,
		Lines:         checkoutLines(),
	})
	if err == nil {
		t.Fatal("expected checkout error")
	}

	orders, listErr := f.orders.List(context.Background(), repositories.OrderListFilter{})
	if listErr != nil || len(orders) != 1 {
		t.Fatalf("orders = %d err = %v", len(orders), listErr)
	}
	order := orders[0]
	if order.Status != domain.OrderStatusCancelled || !order.StockReverted {
		t.Fatalf("order after handoff failure = %s reverted=%v", order.Status, order.StockReverted)
	}
	if f.catalog.reverts() != 1 {
		t.Fatalf("revert calls = %d", f.catalog.reverts())
	}
}
