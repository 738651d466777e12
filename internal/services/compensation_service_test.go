package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/veloura/api/internal/domain"
)

func newCompensationFixture(t *testing.T) (*stubOrderRepository, *stubCatalogRepository, *stubVoucherRepository, CompensationService) {
	t.Helper()
	orders := newStubOrderRepository()
	catalog := newStubCatalogRepository()
	vouchers := newStubVoucherRepository()
	svc, err := NewCompensationService(CompensationServiceDeps{
		Orders:   orders,
		Catalog:  catalog,
		Vouchers: vouchers,
		Clock:    fixedClock(testNow),
	})
	if err != nil {
		t.Fatalf("new compensation service: %v", err)
	}
	return orders, catalog, vouchers, svc
}

func compensableOrder() domain.Order {
	return domain.Order{
		ID:     "ord_rev",
		UserID: "user-1",
		Lines:  testLines(),
	}
}

func TestCompensationSkipsRevertedOrders(t *testing.T) {
	_, catalog, _, svc := newCompensationFixture(t)

	order := compensableOrder()
	order.StockReverted = true
	reverted, err := svc.RevertOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if reverted {
		t.Fatal("reverted an already-compensated order")
	}
	if catalog.reverts() != 0 {
		t.Fatalf("revert calls = %d", catalog.reverts())
	}
}

func TestCompensationFirstWins(t *testing.T) {
	orders, catalog, _, svc := newCompensationFixture(t)
	order := compensableOrder()
	orders.put(order)

	first, err := svc.RevertOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("first revert: %v", err)
	}
	if !first {
		t.Fatal("first caller did not win the claim")
	}

	// A duplicate signal re-reads the order before the flag write landed in
	// its view; the claim must still be refused.
	second, err := svc.RevertOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("second revert: %v", err)
	}
	if second {
		t.Fatal("second caller also won the claim")
	}
	if catalog.reverts() != 1 {
		t.Fatalf("revert calls = %d", catalog.reverts())
	}
}

func TestCompensationRetriesTransientFailures(t *testing.T) {
	orders, catalog, _, svc := newCompensationFixture(t)
	order := compensableOrder()
	orders.put(order)
	catalog.revertErrs = []error{errors.New("unavailable")}

	reverted, err := svc.RevertOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if !reverted {
		t.Fatal("revert did not complete")
	}
	if catalog.reverts() != 2 {
		t.Fatalf("revert calls = %d, want a retry", catalog.reverts())
	}
}

func TestCompensationReportsExhaustedRetries(t *testing.T) {
	orders, catalog, _, svc := newCompensationFixture(t)
	order := compensableOrder()
	orders.put(order)
	boom := errors.New("unavailable")
	catalog.revertErrs = []error{boom, boom, boom}

	_, err := svc.RevertOrder(context.Background(), order)
	if !errors.Is(err, ErrCompensationFailed) {
		t.Fatalf("err = %v", err)
	}
	if catalog.reverts() != compensationAttempts {
		t.Fatalf("revert calls = %d", catalog.reverts())
	}
}

func TestCompensationVoucherReleaseIsBestEffort(t *testing.T) {
	orders, _, vouchers, svc := newCompensationFixture(t)
	order := compensableOrder()
	order.VoucherCode = "SPRING10"
	orders.put(order)
	vouchers.releaseErr = errors.New("unavailable")

	reverted, err := svc.RevertOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if !reverted {
		t.Fatal("revert did not complete")
	}
	if vouchers.releases() != 1 {
		t.Fatalf("release calls = %d", vouchers.releases())
	}
}
