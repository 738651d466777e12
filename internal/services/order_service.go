package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/veloura/api/internal/domain"
	"github.com/veloura/api/internal/repositories"
)

const (
	orderEventCreated          = "order.created"
	orderEventPaymentConfirmed = "order.payment.confirmed"
	orderEventPaymentFailed    = "order.payment.failed"
	orderEventStatusChanged    = "order.status.changed"
	orderEventCancelled        = "order.cancelled"

	orderIDPrefix    = "ord_"
	orderCounterID   = "orders"
	orderNumberStamp = "VL-%04d-%06d"

	mailTemplateOrderConfirmation = "order_confirmation"
	mailTemplatePaymentSuccess    = "payment_success"
	mailTemplateOrderCancelled    = "order_cancelled"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrAlreadyProcessed indicates the settlement outcome was already recorded.
	// Callers treat it as an idempotent no-op, not a fault.
	ErrAlreadyProcessed = errors.New("order: already processed")
)

// Forward fulfilment transitions. Settlement transitions (pending to
// confirmed or cancelled) go through MarkPaid, MarkFailed, and Cancel only.
var orderStatusTransitions = map[domain.OrderStatus]domain.OrderStatus{
	domain.OrderStatusConfirmed:  domain.OrderStatusProcessing,
	domain.OrderStatusProcessing: domain.OrderStatusShipping,
	domain.OrderStatusShipping:   domain.OrderStatusCompleted,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Counters     repositories.CounterRepository
	Users        repositories.UserRepository
	Compensation CompensationService
	Clock        func() time.Time
	IDGenerator  func() string
	Mail         MailPublisher
	Events       OrderEventPublisher
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders       repositories.OrderRepository
	counters     repositories.CounterRepository
	users        repositories.UserRepository
	compensation CompensationService
	clock        func() time.Time
	newID        func() string
	mail         MailPublisher
	events       OrderEventPublisher
	logger       func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Compensation == nil {
		return nil, errors.New("order service: compensation service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:       deps.Orders,
		counters:     deps.Counters,
		users:        deps.Users,
		compensation: deps.Compensation,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		mail:   deps.Mail,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one line", ErrOrderInvalidInput)
	}
	if !cmd.PaymentMethod.Known() {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	for _, line := range cmd.Lines {
		if strings.TrimSpace(line.ProductID) == "" || strings.TrimSpace(line.ColorID) == "" || strings.TrimSpace(line.SizeID) == "" {
			return Order{}, fmt.Errorf("%w: line stock unit reference is incomplete", ErrOrderInvalidInput)
		}
		if line.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: line quantity must be positive", ErrOrderInvalidInput)
		}
	}
	if cmd.Discount < 0 || cmd.ShippingFee < 0 {
		return Order{}, fmt.Errorf("%w: discount and shipping fee must not be negative", ErrOrderInvalidInput)
	}

	now := s.clock()
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:            orderIDPrefix + s.newID(),
		OrderNumber:   number,
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		PaymentMethod: cmd.PaymentMethod,
		Lines:         cloneLines(cmd.Lines),
		Totals:        domain.ComputeTotals(cmd.Lines, cmd.Discount, cmd.ShippingFee),
		VoucherCode:   strings.ToUpper(strings.TrimSpace(cmd.VoucherCode)),
		PaymentMeta:   cloneMeta(cmd.PaymentMeta),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapOrderError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
	})
	s.sendMailOnce(ctx, order, mailTemplateOrderConfirmation)

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapOrderError(err)
	}
	return order, nil
}

func (s *orderService) GetByNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapOrderError(err)
	}
	return order, nil
}

func (s *orderService) ListForUser(ctx context.Context, userID string, filter OrderListFilter) ([]Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	orders, err := s.orders.ListByUser(ctx, userID, repositories.OrderListFilter{
		Status: filter.Status,
		Limit:  filter.Limit,
	})
	if err != nil {
		return nil, s.mapOrderError(err)
	}
	return orders, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error) {
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status: filter.Status,
		Limit:  filter.Limit,
	})
	if err != nil {
		return nil, s.mapOrderError(err)
	}
	return orders, nil
}

// MarkPaid records a successful settlement. The repository transition only
// applies while the order is still unpaid, so of two racing duplicate
// confirmations exactly one wins; the loser receives ErrAlreadyProcessed.
// Reservation is never re-fired here; stock was consumed at checkout.
func (s *orderService) MarkPaid(ctx context.Context, cmd SettlementCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	order, err := s.orders.TransitionPayment(ctx, repositories.PaymentTransition{
		OrderID: orderID,
		To:      domain.PaymentStatusPaid,
		Meta:    cmd.Meta,
		Now:     now,
	})
	if err != nil {
		return Order{}, s.mapOrderError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentConfirmed,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(domain.OrderStatusPending),
		CurrentStatus:  string(order.Status),
		OccurredAt:     now,
		Metadata:       cloneMeta(cmd.Meta),
	})
	s.sendMailOnce(ctx, order, mailTemplatePaymentSuccess)

	return order, nil
}

// MarkFailed records a failed settlement and runs compensation exactly once.
func (s *orderService) MarkFailed(ctx context.Context, cmd SettlementCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	order, err := s.orders.TransitionPayment(ctx, repositories.PaymentTransition{
		OrderID: orderID,
		To:      domain.PaymentStatusFailed,
		Meta:    cmd.Meta,
		Now:     now,
	})
	if err != nil {
		return Order{}, s.mapOrderError(err)
	}

	s.compensate(ctx, order)

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentFailed,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(domain.OrderStatusPending),
		CurrentStatus:  string(order.Status),
		OccurredAt:     now,
		Metadata:       cloneMeta(cmd.Meta),
	})
	s.sendMailOnce(ctx, order, mailTemplateOrderCancelled)

	return order, nil
}

// Cancel is the user-initiated path out of pending. Online-gateway orders are
// resolved only by the gateway's callback and cannot be cancelled here.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapOrderError(err)
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	if order.PaymentMethod.Category() != domain.PaymentCategoryManual {
		return Order{}, fmt.Errorf("%w: online payment orders are resolved by the gateway", ErrOrderInvalidState)
	}
	if order.Status != domain.OrderStatusPending {
		return Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}

	now := s.clock()
	cancelled, err := s.orders.Cancel(ctx, repositories.OrderCancelRequest{
		OrderID: orderID,
		Reason:  strings.TrimSpace(cmd.Reason),
		Now:     now,
	})
	if err != nil {
		return Order{}, s.mapOrderError(err)
	}

	s.compensate(ctx, cancelled)

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        cancelled.ID,
		OrderNumber:    cancelled.OrderNumber,
		PreviousStatus: string(order.Status),
		CurrentStatus:  string(cancelled.Status),
		OccurredAt:     now,
		Metadata:       map[string]string{"reason": cancelled.CancelReason},
	})
	s.sendMailOnce(ctx, cancelled, mailTemplateOrderCancelled)

	return cancelled, nil
}

// Advance moves a paid order one step forward through fulfilment.
func (s *orderService) Advance(ctx context.Context, cmd AdvanceOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapOrderError(err)
	}
	if order.Status.IsTerminal() {
		return Order{}, fmt.Errorf("%w: order status %q is terminal", ErrOrderInvalidState, order.Status)
	}
	next, ok := orderStatusTransitions[order.Status]
	if !ok || next != cmd.To {
		return Order{}, fmt.Errorf("%w: cannot move from %q to %q", ErrOrderInvalidState, order.Status, cmd.To)
	}

	now := s.clock()
	updated, err := s.orders.UpdateStatus(ctx, orderID, order.Status, cmd.To, now)
	if err != nil {
		return Order{}, s.mapOrderError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		PreviousStatus: string(order.Status),
		CurrentStatus:  string(updated.Status),
		OccurredAt:     now,
	})

	return updated, nil
}

// compensate runs the revert engine. A compensation failure is logged, not
// propagated; the settlement transition has already committed and the gateway
// must still receive its acknowledgement.
func (s *orderService) compensate(ctx context.Context, order Order) {
	reverted, err := s.compensation.RevertOrder(ctx, order)
	if err != nil {
		s.logger(ctx, "order.compensation.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return
	}
	if reverted {
		s.logger(ctx, "order.compensation.completed", map[string]any{"order": order.ID})
	}
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderCounterID)
	if err != nil {
		return "", fmt.Errorf("order: generate order number: %w", err)
	}
	return fmt.Sprintf(orderNumberStamp, now.Year(), seq), nil
}

// sendMailOnce enqueues the template's mail at most once per order, guarded
// by the order's email flag set. Failures are logged and absorbed.
func (s *orderService) sendMailOnce(ctx context.Context, order Order, template string) {
	if s.mail == nil {
		return
	}

	won, err := s.orders.SetEmailFlag(ctx, order.ID, template, s.clock())
	if err != nil {
		s.logger(ctx, "order.mail.flag.failed", map[string]any{
			"order":    order.ID,
			"template": template,
			"error":    err.Error(),
		})
		return
	}
	if !won {
		return
	}

	message := MailMessage{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Template:    template,
		Data: map[string]any{
			"total":  order.Totals.Total,
			"status": string(order.Status),
		},
	}
	if s.users != nil {
		if user, err := s.users.FindByID(ctx, order.UserID); err == nil {
			message.Recipient = user.Email
			message.Name = user.DisplayName
		} else {
			s.logger(ctx, "order.mail.recipient.failed", map[string]any{
				"order": order.ID,
				"user":  order.UserID,
				"error": err.Error(),
			})
		}
	}

	if _, err := s.mail.PublishMail(ctx, message); err != nil {
		s.logger(ctx, "order.mail.publish.failed", map[string]any{
			"order":    order.ID,
			"template": template,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) mapOrderError(err error) error {
	if err == nil {
		return nil
	}

	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repositories.OrderErrorAlreadyProcessed:
			return fmt.Errorf("%w: %v", ErrAlreadyProcessed, err)
		case repositories.OrderErrorInvalidTransition:
			return fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrAlreadyProcessed, err)
		}
	}

	return err
}

func cloneLines(lines []OrderLine) []OrderLine {
	cloned := make([]OrderLine, len(lines))
	copy(cloned, lines)
	return cloned
}

func cloneMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	cloned := make(map[string]string, len(meta))
	for k, v := range meta {
		cloned[k] = v
	}
	return cloned
}
