package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/veloura/api/internal/domain"
)

func newVoucherFixture(t *testing.T, vouchers ...domain.Voucher) (*stubVoucherRepository, VoucherService) {
	t.Helper()
	repo := newStubVoucherRepository(vouchers...)
	svc, err := NewVoucherService(VoucherServiceDeps{
		Vouchers: repo,
		Clock:    fixedClock(testNow),
	})
	if err != nil {
		t.Fatalf("new voucher service: %v", err)
	}
	return repo, svc
}

func TestVoucherServicePrice(t *testing.T) {
	_, svc := newVoucherFixture(t, domain.Voucher{
		Code:          "SPRING10",
		Type:          domain.VoucherTypePercent,
		Discount:      10,
		MaxDiscount:   40000,
		MinOrderValue: 100000,
		UsageLimit:    100,
		UsedCount:     60,
		LimitPerUser:  2,
		UsedBy:        map[string]int{"user-1": 1},
		IsActive:      true,
	})

	quote, err := svc.Price(context.Background(), PriceVoucherCommand{Code: "spring10", UserID: "user-1", Subtotal: 500000})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.Discount != 40000 {
		t.Fatalf("discount = %d, want capped at max", quote.Discount)
	}
	if quote.RemainingGlobal != 40 || quote.RemainingForUser != 1 {
		t.Fatalf("remaining = %d/%d", quote.RemainingGlobal, quote.RemainingForUser)
	}

	if _, err := svc.Price(context.Background(), PriceVoucherCommand{Code: "SPRING10", UserID: "user-1", Subtotal: 50000}); !errors.Is(err, ErrVoucherNotApplicable) {
		t.Fatalf("below minimum err = %v", err)
	}
	if _, err := svc.Price(context.Background(), PriceVoucherCommand{Code: "NOPE", Subtotal: 500000}); !errors.Is(err, ErrVoucherNotFound) {
		t.Fatalf("missing code err = %v", err)
	}
}

func TestVoucherServicePriceDoesNotMutate(t *testing.T) {
	repo, svc := newVoucherFixture(t, domain.Voucher{
		Code: "FLAT50", Type: domain.VoucherTypeFixed, Discount: 50000, IsActive: true,
	})

	for i := 0; i < 3; i++ {
		if _, err := svc.Price(context.Background(), PriceVoucherCommand{Code: "FLAT50", UserID: "user-1", Subtotal: 200000}); err != nil {
			t.Fatalf("price %d: %v", i, err)
		}
	}
	voucher, _ := repo.FindByCode(context.Background(), "FLAT50")
	if voucher.UsedCount != 0 {
		t.Fatalf("pricing consumed quota, usedCount = %d", voucher.UsedCount)
	}
}

func TestVoucherServiceRedeem(t *testing.T) {
	repo, svc := newVoucherFixture(t, domain.Voucher{
		Code: "LAST1", Type: domain.VoucherTypeFixed, Discount: 20000,
		UsageLimit: 1, IsActive: true,
	})
	ctx := context.Background()

	redeemed, err := svc.Redeem(ctx, RedeemVoucherCommand{Code: "last1", UserID: "user-1", Subtotal: 200000})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if redeemed.UsedCount != 1 || redeemed.UsedBy["user-1"] != 1 {
		t.Fatalf("redeemed = %+v", redeemed)
	}

	if _, err := svc.Redeem(ctx, RedeemVoucherCommand{Code: "LAST1", UserID: "user-2", Subtotal: 200000}); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("exhausted quota err = %v", err)
	}

	if err := svc.Release(ctx, "LAST1", "user-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	voucher, _ := repo.FindByCode(ctx, "LAST1")
	if voucher.UsedCount != 0 {
		t.Fatalf("usedCount after release = %d", voucher.UsedCount)
	}
}

func TestVoucherServiceRedeemChecksWindow(t *testing.T) {
	_, svc := newVoucherFixture(t, domain.Voucher{
		Code: "EXPIRED", Type: domain.VoucherTypeFixed, Discount: 10000,
		IsActive: true,
		EndsAt:   testNow.Add(-24 * time.Hour),
	})

	if _, err := svc.Redeem(context.Background(), RedeemVoucherCommand{Code: "EXPIRED", UserID: "user-1", Subtotal: 100000}); !errors.Is(err, ErrVoucherNotApplicable) {
		t.Fatalf("expired voucher err = %v", err)
	}
}
