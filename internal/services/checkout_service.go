package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/veloura/api/internal/domain"
	"github.com/veloura/api/internal/payments"
	"github.com/veloura/api/internal/repositories"
)

// ErrCheckoutInvalidInput signals the caller provided invalid data.
var ErrCheckoutInvalidInput = errors.New("checkout: invalid input")

// PayURLBuilder builds a hosted payment page redirect for an order.
type PayURLBuilder interface {
	BuildPayURL(req payments.PayURLRequest) (string, error)
}

// SessionCreator opens a PSP checkout session for card payments.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, preferred string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Catalog     repositories.CatalogRepository
	Orders      OrderService
	Vouchers    VoucherService
	Gateway     PayURLBuilder
	Payments    SessionCreator
	ShippingFee int64
	Currency    string
	SuccessURL  string
	CancelURL   string
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	catalog     repositories.CatalogRepository
	orders      OrderService
	vouchers    VoucherService
	gateway     PayURLBuilder
	psp         SessionCreator
	shippingFee int64
	currency    string
	successURL  string
	cancelURL   string
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("checkout service: catalog repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.ShippingFee < 0 {
		return nil, errors.New("checkout service: shipping fee must not be negative")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.TrimSpace(deps.Currency)
	if currency == "" {
		currency = "vnd"
	}

	return &checkoutService{
		catalog:     deps.Catalog,
		orders:      deps.Orders,
		vouchers:    deps.Vouchers,
		gateway:     deps.Gateway,
		psp:         deps.Payments,
		shippingFee: deps.ShippingFee,
		currency:    currency,
		successURL:  strings.TrimSpace(deps.SuccessURL),
		cancelURL:   strings.TrimSpace(deps.CancelURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Checkout reserves stock, consumes the voucher quota, creates the order, and
// hands off to the selected payment method. Reservation happens before order
// creation; every later failure unwinds the reservation and voucher slot so a
// refused checkout leaves no trace.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return CheckoutResult{}, fmt.Errorf("%w: at least one line is required", ErrCheckoutInvalidInput)
	}
	if !cmd.PaymentMethod.Known() {
		return CheckoutResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}

	stockLines := make([]repositories.StockLine, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		if strings.TrimSpace(line.ProductID) == "" || strings.TrimSpace(line.ColorID) == "" || strings.TrimSpace(line.SizeID) == "" {
			return CheckoutResult{}, fmt.Errorf("%w: line stock unit reference is incomplete", ErrCheckoutInvalidInput)
		}
		if line.Quantity <= 0 {
			return CheckoutResult{}, fmt.Errorf("%w: line quantity must be positive", ErrCheckoutInvalidInput)
		}
		stockLines = append(stockLines, repositories.StockLine{
			ProductID: strings.TrimSpace(line.ProductID),
			ColorID:   strings.TrimSpace(line.ColorID),
			SizeID:    strings.TrimSpace(line.SizeID),
			Quantity:  line.Quantity,
		})
	}

	now := s.clock()
	reserved, err := s.catalog.ReserveStock(ctx, repositories.StockReserveRequest{Lines: stockLines, Now: now})
	if err != nil {
		return CheckoutResult{}, mapStockError(err)
	}
	if len(reserved.Deactivated) > 0 {
		s.logger(ctx, "checkout.products.sold_out", map[string]any{"products": reserved.Deactivated})
	}

	orderLines := make([]OrderLine, 0, len(stockLines))
	var subtotal int64
	for _, line := range stockLines {
		product, ok := reserved.Products[line.ProductID]
		if !ok {
			s.unwindReservation(ctx, stockLines, "", userID)
			return CheckoutResult{}, fmt.Errorf("checkout: reserved product %s missing from result", line.ProductID)
		}
		orderLine := OrderLine{
			ProductID: line.ProductID,
			ColorID:   line.ColorID,
			SizeID:    line.SizeID,
			Name:      product.Name,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
		}
		subtotal += orderLine.Total()
		orderLines = append(orderLines, orderLine)
	}

	var discount int64
	voucherCode := strings.ToUpper(strings.TrimSpace(cmd.VoucherCode))
	if voucherCode != "" {
		if s.vouchers == nil {
			s.unwindReservation(ctx, stockLines, "", userID)
			return CheckoutResult{}, fmt.Errorf("%w: vouchers are not supported", ErrCheckoutInvalidInput)
		}
		voucher, err := s.vouchers.Redeem(ctx, RedeemVoucherCommand{
			Code:     voucherCode,
			UserID:   userID,
			Subtotal: subtotal,
		})
		if err != nil {
			s.unwindReservation(ctx, stockLines, "", userID)
			return CheckoutResult{}, err
		}
		discount = voucher.DiscountFor(subtotal)
	}

	order, err := s.orders.Create(ctx, CreateOrderCommand{
		UserID:        userID,
		PaymentMethod: cmd.PaymentMethod,
		Lines:         orderLines,
		Discount:      discount,
		ShippingFee:   s.shippingFee,
		VoucherCode:   voucherCode,
	})
	if err != nil {
		s.unwindReservation(ctx, stockLines, voucherCode, userID)
		return CheckoutResult{}, err
	}

	result := CheckoutResult{Order: order, Deactivated: reserved.Deactivated}
	if err := s.startPayment(ctx, cmd, &result); err != nil {
		// The order exists; resolve it as failed so compensation unwinds
		// the reservation exactly once through the standard path.
		if _, failErr := s.orders.MarkFailed(ctx, SettlementCommand{
			OrderID: order.ID,
			Meta:    map[string]string{"reason": "payment handoff failed"},
		}); failErr != nil {
			s.logger(ctx, "checkout.handoff.cleanup.failed", map[string]any{
				"order": order.ID,
				"error": failErr.Error(),
			})
		}
		return CheckoutResult{}, err
	}

	return result, nil
}

func (s *checkoutService) startPayment(ctx context.Context, cmd CheckoutCommand, result *CheckoutResult) error {
	order := result.Order

	switch cmd.PaymentMethod {
	case domain.PaymentMethodCOD:
		// Cash on delivery settles synchronously at checkout.
		paid, err := s.orders.MarkPaid(ctx, SettlementCommand{
			OrderID: order.ID,
			Meta:    map[string]string{"provider": "cod"},
		})
		if err != nil {
			return err
		}
		result.Order = paid
		return nil

	case domain.PaymentMethodBankTransfer:
		// Stays pending until an operator confirms the transfer.
		return nil

	case domain.PaymentMethodVNPay:
		if s.gateway == nil {
			return fmt.Errorf("%w: gateway payments are not configured", ErrCheckoutInvalidInput)
		}
		payURL, err := s.gateway.BuildPayURL(payments.PayURLRequest{
			TxnRef:    order.ID,
			Amount:    order.Totals.Total,
			OrderInfo: "Thanh toan don hang " + order.OrderNumber,
			ClientIP:  cmd.ClientIP,
			Now:       s.clock(),
		})
		if err != nil {
			return fmt.Errorf("checkout: build pay url: %w", err)
		}
		result.PaymentURL = payURL
		return nil

	case domain.PaymentMethodCard:
		if s.psp == nil {
			return fmt.Errorf("%w: card payments are not configured", ErrCheckoutInvalidInput)
		}
		items := make([]payments.CheckoutLineItem, 0, len(order.Lines))
		for _, line := range order.Lines {
			items = append(items, payments.CheckoutLineItem{
				Name:     line.Name,
				SKU:      line.ProductID + ":" + line.ColorID + ":" + line.SizeID,
				Quantity: int64(line.Quantity),
				Amount:   line.UnitPrice,
				Currency: s.currency,
			})
		}
		successURL := strings.TrimSpace(cmd.SuccessURL)
		if successURL == "" {
			successURL = s.successURL
		}
		cancelURL := strings.TrimSpace(cmd.CancelURL)
		if cancelURL == "" {
			cancelURL = s.cancelURL
		}
		session, err := s.psp.CreateCheckoutSession(ctx, "stripe", payments.CheckoutSessionRequest{
			Amount:         order.Totals.Total,
			Currency:       s.currency,
			SuccessURL:     successURL,
			CancelURL:      cancelURL,
			Metadata:       map[string]string{"orderId": order.ID, "orderNumber": order.OrderNumber},
			IdempotencyKey: order.ID,
			Items:          items,
		})
		if err != nil {
			return fmt.Errorf("checkout: create card session: %w", err)
		}
		result.PaymentURL = session.RedirectURL
		result.SessionID = session.ID
		return nil
	}

	return fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
}

// unwindReservation reverses a reservation made before any order existed.
// Best effort; failures are logged because there is no order to attach the
// compensation flag to yet.
func (s *checkoutService) unwindReservation(ctx context.Context, lines []repositories.StockLine, voucherCode, userID string) {
	if _, err := s.catalog.RevertStock(ctx, repositories.StockRevertRequest{Lines: lines, Now: s.clock()}); err != nil {
		s.logger(ctx, "checkout.unwind.stock.failed", map[string]any{"error": err.Error()})
	}
	if voucherCode != "" && s.vouchers != nil {
		if err := s.vouchers.Release(ctx, voucherCode, userID); err != nil {
			s.logger(ctx, "checkout.unwind.voucher.failed", map[string]any{
				"voucher": voucherCode,
				"error":   err.Error(),
			})
		}
	}
}
