package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/veloura/api/internal/repositories"
)

const (
	compensationAttempts = 3
	compensationBackoff  = 200 * time.Millisecond
)

// ErrCompensationFailed indicates the stock revert could not be completed
// after claiming the order's compensation slot.
var ErrCompensationFailed = errors.New("compensation: stock revert failed")

// CompensationServiceDeps bundles collaborators required to construct the compensation service.
type CompensationServiceDeps struct {
	Orders   repositories.OrderRepository
	Catalog  repositories.CatalogRepository
	Vouchers repositories.VoucherRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type compensationService struct {
	orders   repositories.OrderRepository
	catalog  repositories.CatalogRepository
	vouchers repositories.VoucherRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCompensationService wires dependencies into a concrete CompensationService implementation.
func NewCompensationService(deps CompensationServiceDeps) (CompensationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("compensation service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("compensation service: catalog repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &compensationService{
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		vouchers: deps.Vouchers,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// RevertOrder returns the order's reserved stock and voucher slot at most
// once. The stockReverted flag is claimed first as the critical section, so a
// duplicate failure signal racing this call observes a lost claim and does
// nothing. Returns whether this call performed the compensation.
func (s *compensationService) RevertOrder(ctx context.Context, order Order) (bool, error) {
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return false, errors.New("compensation: order id is required")
	}
	if order.StockReverted {
		return false, nil
	}

	now := s.clock()
	won, err := s.orders.MarkStockReverted(ctx, orderID, now)
	if err != nil {
		return false, fmt.Errorf("compensation: claim revert flag: %w", err)
	}
	if !won {
		return false, nil
	}

	if err := s.revertStock(ctx, order, now); err != nil {
		s.logger(ctx, "compensation.revert.failed", map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
		return true, fmt.Errorf("%w: order %s: %v", ErrCompensationFailed, orderID, err)
	}

	s.releaseVoucher(ctx, order, now)

	s.logger(ctx, "compensation.reverted", map[string]any{
		"order": orderID,
		"lines": len(order.Lines),
	})
	return true, nil
}

// revertStock retries transient failures so compensation is at-least-once
// rather than fire-and-forget.
func (s *compensationService) revertStock(ctx context.Context, order Order, now time.Time) error {
	lines := make([]repositories.StockLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		if line.Quantity <= 0 {
			continue
		}
		lines = append(lines, repositories.StockLine{
			ProductID: line.ProductID,
			ColorID:   line.ColorID,
			SizeID:    line.SizeID,
			Quantity:  line.Quantity,
		})
	}
	if len(lines) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= compensationAttempts; attempt++ {
		result, err := s.catalog.RevertStock(ctx, repositories.StockRevertRequest{Lines: lines, Now: now})
		if err == nil {
			if len(result.Reactivated) > 0 {
				s.logger(ctx, "compensation.products.reactivated", map[string]any{
					"order":    order.ID,
					"products": result.Reactivated,
				})
			}
			return nil
		}
		lastErr = err
		if attempt == compensationAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(compensationBackoff * time.Duration(attempt)):
		}
	}
	return lastErr
}

// releaseVoucher is best effort; a failed release is logged, never propagated,
// because the order transition has already committed.
func (s *compensationService) releaseVoucher(ctx context.Context, order Order, now time.Time) {
	code := strings.TrimSpace(order.VoucherCode)
	if code == "" || s.vouchers == nil {
		return
	}
	if _, err := s.vouchers.Release(ctx, code, order.UserID, now); err != nil {
		s.logger(ctx, "compensation.voucher.release.failed", map[string]any{
			"order":   order.ID,
			"voucher": code,
			"error":   err.Error(),
		})
	}
}
