package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/veloura/api/internal/repositories"
)

var (
	// ErrVoucherInvalidInput signals the caller provided invalid data.
	ErrVoucherInvalidInput = errors.New("voucher: invalid input")
	// ErrVoucherNotFound indicates the voucher code does not exist.
	ErrVoucherNotFound = errors.New("voucher: not found")
	// ErrVoucherNotApplicable indicates the voucher is inactive, expired, or
	// the order does not meet its minimum value.
	ErrVoucherNotApplicable = errors.New("voucher: not applicable")
	// ErrQuotaExceeded indicates the global or per-user usage quota is exhausted.
	ErrQuotaExceeded = errors.New("voucher: quota exceeded")
)

// VoucherServiceDeps bundles collaborators required to construct the voucher service.
type VoucherServiceDeps struct {
	Vouchers repositories.VoucherRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type voucherService struct {
	vouchers repositories.VoucherRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewVoucherService wires dependencies into a concrete VoucherService implementation.
func NewVoucherService(deps VoucherServiceDeps) (VoucherService, error) {
	if deps.Vouchers == nil {
		return nil, errors.New("voucher service: voucher repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &voucherService{
		vouchers: deps.Vouchers,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Price computes the discount a voucher would grant. It performs no mutation
// and consumes no quota; only Redeem does.
func (s *voucherService) Price(ctx context.Context, cmd PriceVoucherCommand) (VoucherQuote, error) {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return VoucherQuote{}, fmt.Errorf("%w: voucher code is required", ErrVoucherInvalidInput)
	}
	if cmd.Subtotal < 0 {
		return VoucherQuote{}, fmt.Errorf("%w: subtotal must not be negative", ErrVoucherInvalidInput)
	}

	voucher, err := s.vouchers.FindByCode(ctx, code)
	if err != nil {
		return VoucherQuote{}, mapVoucherError(err)
	}

	if err := s.checkApplicable(voucher, cmd.Subtotal); err != nil {
		return VoucherQuote{}, err
	}

	return VoucherQuote{
		Code:             voucher.Code,
		Discount:         voucher.DiscountFor(cmd.Subtotal),
		RemainingGlobal:  voucher.RemainingGlobal(),
		RemainingForUser: voucher.RemainingForUser(strings.TrimSpace(cmd.UserID)),
	}, nil
}

// Redeem consumes one redemption slot. The quota check and the counter
// increments happen in a single conditional update in the repository, so two
// racing redemptions can never both pass on the last slot.
func (s *voucherService) Redeem(ctx context.Context, cmd RedeemVoucherCommand) (Voucher, error) {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	userID := strings.TrimSpace(cmd.UserID)
	if code == "" || userID == "" {
		return Voucher{}, fmt.Errorf("%w: voucher code and user id are required", ErrVoucherInvalidInput)
	}

	voucher, err := s.vouchers.FindByCode(ctx, code)
	if err != nil {
		return Voucher{}, mapVoucherError(err)
	}
	if err := s.checkApplicable(voucher, cmd.Subtotal); err != nil {
		return Voucher{}, err
	}

	redeemed, err := s.vouchers.Redeem(ctx, repositories.VoucherRedeemRequest{
		Code:   code,
		UserID: userID,
		Now:    s.clock(),
	})
	if err != nil {
		return Voucher{}, mapVoucherError(err)
	}

	s.logger(ctx, "voucher.redeemed", map[string]any{
		"voucher": code,
		"user":    userID,
		"used":    redeemed.UsedCount,
	})
	return redeemed, nil
}

// Release returns one redemption slot during compensation. Releasing more
// than was redeemed is a no-op; the repository floors counters at zero.
func (s *voucherService) Release(ctx context.Context, code, userID string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	userID = strings.TrimSpace(userID)
	if code == "" || userID == "" {
		return fmt.Errorf("%w: voucher code and user id are required", ErrVoucherInvalidInput)
	}
	if _, err := s.vouchers.Release(ctx, code, userID, s.clock()); err != nil {
		return mapVoucherError(err)
	}
	return nil
}

func (s *voucherService) checkApplicable(voucher Voucher, subtotal int64) error {
	if !voucher.IsActive {
		return fmt.Errorf("%w: voucher %s is inactive", ErrVoucherNotApplicable, voucher.Code)
	}
	if !voucher.WithinWindow(s.clock()) {
		return fmt.Errorf("%w: voucher %s is outside its validity window", ErrVoucherNotApplicable, voucher.Code)
	}
	if voucher.MinOrderValue > 0 && subtotal < voucher.MinOrderValue {
		return fmt.Errorf("%w: order subtotal below voucher minimum %d", ErrVoucherNotApplicable, voucher.MinOrderValue)
	}
	return nil
}

func mapVoucherError(err error) error {
	if err == nil {
		return nil
	}

	var voucherErr *repositories.VoucherError
	if errors.As(err, &voucherErr) {
		switch voucherErr.Code {
		case repositories.VoucherErrorNotFound:
			return fmt.Errorf("%w: %v", ErrVoucherNotFound, err)
		case repositories.VoucherErrorInactive:
			return fmt.Errorf("%w: %v", ErrVoucherNotApplicable, err)
		case repositories.VoucherErrorQuotaExceeded:
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrVoucherNotFound, err)
	}

	return err
}
