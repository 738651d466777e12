package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	domain "github.com/veloura/api/internal/domain"
	"github.com/veloura/api/internal/payments"
)

var (
	// ErrSignatureInvalid indicates a gateway signal failed signature verification.
	ErrSignatureInvalid = errors.New("reconciliation: signature invalid")
	// ErrAmountMismatch indicates the gateway-reported amount does not match the order.
	ErrAmountMismatch = errors.New("reconciliation: amount mismatch")
	// ErrPaymentPending indicates the PSP has not resolved the payment yet.
	ErrPaymentPending = errors.New("reconciliation: payment still pending")
)

// CallbackVerifier checks a gateway signal's signature and decodes it.
type CallbackVerifier interface {
	VerifyCallback(values url.Values) (payments.CallbackData, error)
}

// PaymentLookup fetches the PSP's record of a payment for card confirmation.
type PaymentLookup interface {
	LookupPayment(ctx context.Context, preferred string, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// ReconciliationServiceDeps bundles collaborators required to construct the reconciliation service.
type ReconciliationServiceDeps struct {
	Orders   OrderService
	Gateway  CallbackVerifier
	Payments PaymentLookup
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	orders  OrderService
	gateway CallbackVerifier
	psp     PaymentLookup
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewReconciliationService wires dependencies into a concrete ReconciliationService implementation.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("reconciliation service: gateway verifier is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reconciliationService{
		orders:  deps.Orders,
		gateway: deps.Gateway,
		psp:     deps.Payments,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// HandleIPN processes a server-to-server gateway callback. The gateway can
// deliver the same signal zero, one, or many times and retries on any
// response code other than success or already-confirmed, so every branch
// resolves to a code here and the handler always answers HTTP 200.
func (s *reconciliationService) HandleIPN(ctx context.Context, params url.Values) IPNResponse {
	data, err := s.gateway.VerifyCallback(params)
	if err != nil {
		s.logger(ctx, "reconciliation.ipn.checksum_failed", map[string]any{"error": err.Error()})
		return IPNResponse{RspCode: payments.GatewayCodeChecksumFailed, Message: "Checksum failed"}
	}

	order, err := s.orders.GetOrder(ctx, data.TxnRef)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return IPNResponse{RspCode: payments.GatewayCodeOrderNotFound, Message: "Order not found"}
		}
		s.logger(ctx, "reconciliation.ipn.lookup_failed", map[string]any{
			"txnRef": data.TxnRef,
			"error":  err.Error(),
		})
		return IPNResponse{RspCode: payments.GatewayCodeUnknownError, Message: "Unknown error"}
	}

	if data.Amount != order.Totals.Total {
		s.logger(ctx, "reconciliation.ipn.amount_mismatch", map[string]any{
			"order":    order.ID,
			"expected": order.Totals.Total,
			"received": data.Amount,
		})
		return IPNResponse{RspCode: payments.GatewayCodeAmountMismatch, Message: "Invalid amount"}
	}

	if order.PaymentStatus == domain.PaymentStatusPaid {
		return IPNResponse{RspCode: payments.GatewayCodeAlreadyConfirmed, Message: "Order already confirmed"}
	}

	if err := s.settle(ctx, order.ID, data); err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			// A racing duplicate won the transition between our read and
			// the conditional write. Same outcome, acknowledge it.
			return IPNResponse{RspCode: payments.GatewayCodeAlreadyConfirmed, Message: "Order already confirmed"}
		}
		s.logger(ctx, "reconciliation.ipn.settle_failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return IPNResponse{RspCode: payments.GatewayCodeUnknownError, Message: "Unknown error"}
	}

	return IPNResponse{RspCode: payments.GatewayCodeSuccess, Message: "Confirm success"}
}

// HandleReturn processes the browser redirect leg. It drives the same
// settlement transition as the IPN so the final order state is identical
// regardless of which signal arrives first; a lost race is absorbed.
func (s *reconciliationService) HandleReturn(ctx context.Context, params url.Values) (ReturnResult, error) {
	data, err := s.gateway.VerifyCallback(params)
	if err != nil {
		return ReturnResult{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	order, err := s.orders.GetOrder(ctx, data.TxnRef)
	if err != nil {
		return ReturnResult{}, err
	}

	result := ReturnResult{OrderID: order.ID}
	if data.Amount != order.Totals.Total {
		return result, fmt.Errorf("%w: order %s expected %d received %d", ErrAmountMismatch, order.ID, order.Totals.Total, data.Amount)
	}

	if order.PaymentStatus != domain.PaymentStatusPaid {
		if err := s.settle(ctx, order.ID, data); err != nil && !errors.Is(err, ErrAlreadyProcessed) {
			return result, err
		}
		order, err = s.orders.GetOrder(ctx, order.ID)
		if err != nil {
			return result, err
		}
	}

	result.Succeeded = order.PaymentStatus == domain.PaymentStatusPaid
	return result, nil
}

// ConfirmCardPayment resolves a card order against the PSP's own record
// rather than trusting the client's claim of completion.
func (s *reconciliationService) ConfirmCardPayment(ctx context.Context, cmd ConfirmCardCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	intentID := strings.TrimSpace(cmd.IntentID)
	if orderID == "" || intentID == "" {
		return Order{}, fmt.Errorf("%w: order id and intent id are required", ErrOrderInvalidInput)
	}
	if s.psp == nil {
		return Order{}, errors.New("reconciliation: card payments are not configured")
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return order, nil
	}

	details, err := s.psp.LookupPayment(ctx, "stripe", payments.LookupRequest{IntentID: intentID})
	if err != nil {
		return Order{}, fmt.Errorf("reconciliation: lookup card payment: %w", err)
	}
	if details.Amount != order.Totals.Total {
		return Order{}, fmt.Errorf("%w: order %s expected %d psp reports %d", ErrAmountMismatch, order.ID, order.Totals.Total, details.Amount)
	}

	meta := map[string]string{
		"provider": details.Provider,
		"intentId": details.IntentID,
		"status":   string(details.Status),
	}

	switch details.Status {
	case payments.StatusSucceeded:
		settled, err := s.orders.MarkPaid(ctx, SettlementCommand{OrderID: order.ID, Meta: meta})
		if errors.Is(err, ErrAlreadyProcessed) {
			return s.orders.GetOrder(ctx, order.ID)
		}
		return settled, err
	case payments.StatusFailed:
		settled, err := s.orders.MarkFailed(ctx, SettlementCommand{OrderID: order.ID, Meta: meta})
		if errors.Is(err, ErrAlreadyProcessed) {
			return s.orders.GetOrder(ctx, order.ID)
		}
		return settled, err
	default:
		return Order{}, fmt.Errorf("%w: intent %s is %s", ErrPaymentPending, intentID, details.Status)
	}
}

// settle maps the gateway outcome code onto the order state machine.
func (s *reconciliationService) settle(ctx context.Context, orderID string, data payments.CallbackData) error {
	meta := map[string]string{
		"provider":      "vnpay",
		"responseCode":  data.ResponseCode,
		"transactionNo": data.TransactionNo,
		"bankCode":      data.BankCode,
		"payDate":       data.PayDate,
	}

	if data.Succeeded() {
		_, err := s.orders.MarkPaid(ctx, SettlementCommand{OrderID: orderID, Meta: meta})
		return err
	}
	_, err := s.orders.MarkFailed(ctx, SettlementCommand{OrderID: orderID, Meta: meta})
	return err
}
