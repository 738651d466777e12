package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/veloura/api/internal/domain"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type orderFixture struct {
	orders   *stubOrderRepository
	catalog  *stubCatalogRepository
	vouchers *stubVoucherRepository
	mail     *stubMailPublisher
	events   *stubEventPublisher
	svc      OrderService
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()

	f := &orderFixture{
		orders:   newStubOrderRepository(),
		catalog:  newStubCatalogRepository(),
		vouchers: newStubVoucherRepository(),
		mail:     &stubMailPublisher{},
		events:   &stubEventPublisher{},
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

	f.svc, err = NewOrderService(OrderServiceDeps{
		Orders:       f.orders,
		Counters:     &stubCounterRepository{next: 41},
		Users:        &stubUserRepository{users: map[string]domain.User{"user-1": {ID: "user-1", Email: "linh@example.com", DisplayName: "Linh"}}},
		Compensation: compensation,
		Clock:        fixedClock(testNow),
		IDGenerator:  sequentialIDs("01HV"),
		Mail:         f.mail,
		Events:       f.events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return f
}

func testLines() []OrderLine {
	return []OrderLine{
		{ProductID: "prod-1", ColorID: "black", SizeID: "m", Name: "Linen Shirt", Quantity: 2, UnitPrice: 250000},
	}
}

func TestOrderServiceCreate(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.svc.Create(context.Background(), CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodVNPay,
		Lines:         testLines(),
		Discount:      50000,
		ShippingFee:   30000,
		VoucherCode:   "spring10",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if order.ID != "ord_01HV0001" {
		t.Fatalf("order id = %q", order.ID)
	}
	if order.OrderNumber != "VL-2026-000042" {
		t.Fatalf("order number = %q", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusUnpaid {
		t.Fatalf("new order state = %s/%s", order.Status, order.PaymentStatus)
	}
	if order.Totals.Total != 480000 {
		t.Fatalf("total = %d", order.Totals.Total)
	}
	if order.VoucherCode != "SPRING10" {
		t.Fatalf("voucher code = %q", order.VoucherCode)
	}

	if got := f.events.types(); len(got) != 1 || got[0] != orderEventCreated {
		t.Fatalf("events = %v", got)
	}
	if mails := f.mail.byTemplate(mailTemplateOrderConfirmation); len(mails) != 1 || mails[0].Recipient != "linh@example.com" {
		t.Fatalf("confirmation mails = %+v", mails)
	}
}

func TestOrderServiceCreateValidation(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	cases := []CreateOrderCommand{
		{PaymentMethod: domain.PaymentMethodCOD, Lines: testLines()},
		{UserID: "user-1", PaymentMethod: domain.PaymentMethodCOD},
		{UserID: "user-1", PaymentMethod: "momo", Lines: testLines()},
		{UserID: "user-1", PaymentMethod: domain.PaymentMethodCOD, Lines: []OrderLine{{ProductID: "p", ColorID: "c", SizeID: "s", Quantity: 0}}},
	}
	for i, cmd := range cases {
		if _, err := f.svc.Create(ctx, cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("case %d: err = %v", i, err)
		}
	}
}

func TestOrderServiceMarkPaidDuplicateCollapses(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.Create(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodVNPay,
		Lines:         testLines(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	paid, err := f.svc.MarkPaid(ctx, SettlementCommand{OrderID: order.ID, Meta: map[string]string{"transactionNo": "14226112"}})
	if err != nil {
		t.Fatalf("first mark paid: %v", err)
	}
	if paid.Status != domain.OrderStatusConfirmed || paid.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("paid order state = %s/%s", paid.Status, paid.PaymentStatus)
	}
	if paid.PaymentMeta["transactionNo"] != "14226112" {
		t.Fatalf("payment meta = %v", paid.PaymentMeta)
	}

	if _, err := f.svc.MarkPaid(ctx, SettlementCommand{OrderID: order.ID}); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("duplicate mark paid err = %v", err)
	}

	if mails := f.mail.byTemplate(mailTemplatePaymentSuccess); len(mails) != 1 {
		t.Fatalf("payment mails = %d", len(mails))
	}
}

func TestOrderServiceMarkFailedCompensatesOnce(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.Create(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodVNPay,
		Lines:         testLines(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	failed, err := f.svc.MarkFailed(ctx, SettlementCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if failed.Status != domain.OrderStatusCancelled || failed.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("failed order state = %s/%s", failed.Status, failed.PaymentStatus)
	}
	if f.catalog.reverts() != 1 {
		t.Fatalf("revert calls = %d", f.catalog.reverts())
	}
	if !f.orders.get(order.ID).StockReverted {
		t.Fatal("stockReverted flag not set")
	}

	if _, err := f.svc.MarkFailed(ctx, SettlementCommand{OrderID: order.ID}); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("duplicate mark failed err = %v", err)
	}
	if f.catalog.reverts() != 1 {
		t.Fatalf("revert calls after duplicate = %d", f.catalog.reverts())
	}
}

func TestOrderServiceMarkFailedReleasesVoucher(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.vouchers.Save(ctx, domain.Voucher{Code: "SPRING10", IsActive: true, UsedCount: 1, UsedBy: map[string]int{"user-1": 1}})

	order, err := f.svc.Create(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodVNPay,
		Lines:         testLines(),
		VoucherCode:   "SPRING10",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.MarkFailed(ctx, SettlementCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	released, _ := f.vouchers.FindByCode(ctx, "SPRING10")
	if released.UsedCount != 0 || released.UsedBy["user-1"] != 0 {
		t.Fatalf("voucher after release = %+v", released)
	}
}

func TestOrderServiceCancelRules(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	online, err := f.svc.Create(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodVNPay,
		Lines:         testLines(),
	})
	if err != nil {
		t.Fatalf("create online: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, CancelOrderCommand{OrderID: online.ID, UserID: "user-1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("online cancel err = %v", err)
	}

	manual, err := f.svc.Create(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodBankTransfer,
		Lines:         testLines(),
	})
	if err != nil {
		t.Fatalf("create manual: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, CancelOrderCommand{OrderID: manual.ID, UserID: "someone-else"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("foreign cancel err = %v", err)
	}

	cancelled, err := f.svc.Cancel(ctx, CancelOrderCommand{OrderID: manual.ID, UserID: "user-1", Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancelReason != "changed my mind" {
		t.Fatalf("cancelled order = %+v", cancelled)
	}
	if !f.orders.get(manual.ID).StockReverted {
		t.Fatal("cancel did not run compensation")
	}

	if _, err := f.svc.Cancel(ctx, CancelOrderCommand{OrderID: manual.ID, UserID: "user-1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("double cancel err = %v", err)
	}
}

func TestOrderServiceAdvance(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.Create(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCOD,
		Lines:         testLines(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.MarkPaid(ctx, SettlementCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	if _, err := f.svc.Advance(ctx, AdvanceOrderCommand{OrderID: order.ID, To: domain.OrderStatusShipping}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("skip step err = %v", err)
	}

	for _, next := range []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusShipping, domain.OrderStatusCompleted} {
		advanced, err := f.svc.Advance(ctx, AdvanceOrderCommand{OrderID: order.ID, To: next})
		if err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
		if advanced.Status != next {
			t.Fatalf("status = %s, want %s", advanced.Status, next)
		}
	}

	if _, err := f.svc.Advance(ctx, AdvanceOrderCommand{OrderID: order.ID, To: domain.OrderStatusProcessing}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("advance from terminal err = %v", err)
	}
}
