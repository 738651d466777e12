package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/veloura/api/internal/domain"
	"github.com/veloura/api/internal/repositories"
)

// stubOrderRepository is an in-memory order store that mirrors the
// conditional-transition semantics of the Firestore implementation so
// duplicate-signal tests exercise the real first-wins behaviour.
type stubOrderRepository struct {
	mu     sync.Mutex
	orders map[string]domain.Order

	insertErr     error
	transitionErr error
}

func newStubOrderRepository() *stubOrderRepository {
	return &stubOrderRepository{orders: make(map[string]domain.Order)}
}

func (s *stubOrderRepository) put(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
}

func (s *stubOrderRepository) get(orderID string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[orderID]
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return repositories.NewOrderError(repositories.OrderErrorAlreadyProcessed, "duplicate order id", nil)
	}
	s.orders[order.ID] = order
	return nil
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), nil)
	}
	return order, nil
}

func (s *stubOrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.OrderNumber == orderNumber {
			return order, nil
		}
	}
	return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "order number not found", nil)
}

func (s *stubOrderRepository) ListByUser(ctx context.Context, userID string, filter repositories.OrderListFilter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, order := range s.orders {
		if order.UserID == userID {
			out = append(out, order)
		}
	}
	return out, nil
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, order := range s.orders {
		if filter.Status == "" || order.Status == filter.Status {
			out = append(out, order)
		}
	}
	return out, nil
}

func (s *stubOrderRepository) TransitionPayment(ctx context.Context, req repositories.PaymentTransition) (domain.Order, error) {
	if s.transitionErr != nil {
		return domain.Order{}, s.transitionErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[req.OrderID]
	if !ok {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "order not found", nil)
	}
	if order.PaymentStatus != domain.PaymentStatusUnpaid {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorAlreadyProcessed, "payment already resolved", nil)
	}
	now := req.Now
	switch req.To {
	case domain.PaymentStatusPaid:
		order.PaymentStatus = domain.PaymentStatusPaid
		order.Status = domain.OrderStatusConfirmed
		order.PaidAt = &now
	case domain.PaymentStatusFailed:
		order.PaymentStatus = domain.PaymentStatusFailed
		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = &now
	default:
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidTransition, "unsupported target", nil)
	}
	if len(req.Meta) > 0 {
		if order.PaymentMeta == nil {
			order.PaymentMeta = make(map[string]string, len(req.Meta))
		}
		for k, v := range req.Meta {
			order.PaymentMeta[k] = v
		}
	}
	order.UpdatedAt = now
	s.orders[req.OrderID] = order
	return order, nil
}

func (s *stubOrderRepository) UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, now time.Time) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "order not found", nil)
	}
	if order.Status != from {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidTransition, "status moved", nil)
	}
	order.Status = to
	order.UpdatedAt = now
	if to == domain.OrderStatusCompleted {
		order.CompletedAt = &now
	}
	s.orders[orderID] = order
	return order, nil
}

func (s *stubOrderRepository) Cancel(ctx context.Context, req repositories.OrderCancelRequest) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[req.OrderID]
	if !ok {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "order not found", nil)
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidTransition, "not pending", nil)
	}
	now := req.Now
	order.Status = domain.OrderStatusCancelled
	order.PaymentStatus = domain.PaymentStatusFailed
	order.CancelReason = req.Reason
	order.CancelledAt = &now
	order.UpdatedAt = now
	s.orders[req.OrderID] = order
	return order, nil
}

func (s *stubOrderRepository) MarkStockReverted(ctx context.Context, orderID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return false, repositories.NewOrderError(repositories.OrderErrorNotFound, "order not found", nil)
	}
	if order.StockReverted {
		return false, nil
	}
	order.StockReverted = true
	order.UpdatedAt = now
	s.orders[orderID] = order
	return true, nil
}

func (s *stubOrderRepository) SetEmailFlag(ctx context.Context, orderID, flag string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return false, repositories.NewOrderError(repositories.OrderErrorNotFound, "order not found", nil)
	}
	if order.EmailFlags[flag] {
		return false, nil
	}
	if order.EmailFlags == nil {
		order.EmailFlags = make(map[string]bool, 1)
	}
	order.EmailFlags[flag] = true
	order.UpdatedAt = now
	s.orders[orderID] = order
	return true, nil
}

// stubCatalogRepository counts reserve and revert calls and lets tests
// script failures.
type stubCatalogRepository struct {
	mu       sync.Mutex
	products map[string]domain.Product

	reserveCalls int
	revertCalls  int
	reserveErr   error
	revertErrs   []error
}

func newStubCatalogRepository(products ...domain.Product) *stubCatalogRepository {
	repo := &stubCatalogRepository{products: make(map[string]domain.Product)}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

func (s *stubCatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorNotFound, "product not found", nil)
	}
	return product, nil
}

func (s *stubCatalogRepository) ListProducts(ctx context.Context, filter repositories.ProductListFilter) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Product
	for _, p := range s.products {
		if !filter.ActiveOnly || p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubCatalogRepository) SaveProduct(ctx context.Context, product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
	return nil
}

func (s *stubCatalogRepository) ReserveStock(ctx context.Context, req repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserveCalls++
	if s.reserveErr != nil {
		return repositories.StockReserveResult{}, s.reserveErr
	}
	result := repositories.StockReserveResult{Products: make(map[string]domain.Product)}
	for _, line := range req.Lines {
		product, ok := s.products[line.ProductID]
		if !ok {
			return repositories.StockReserveResult{}, repositories.NewStockError(repositories.StockErrorNotFound, "product not found", nil)
		}
		result.Products[line.ProductID] = product
	}
	return result, nil
}

func (s *stubCatalogRepository) RevertStock(ctx context.Context, req repositories.StockRevertRequest) (repositories.StockRevertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revertCalls++
	if len(s.revertErrs) > 0 {
		err := s.revertErrs[0]
		s.revertErrs = s.revertErrs[1:]
		if err != nil {
			return repositories.StockRevertResult{}, err
		}
	}
	return repositories.StockRevertResult{}, nil
}

func (s *stubCatalogRepository) AdjustQuantity(ctx context.Context, req repositories.StockAdjustRequest) (domain.Product, error) {
	return s.FindProduct(ctx, req.ProductID)
}

func (s *stubCatalogRepository) SetActivation(ctx context.Context, target repositories.ActivationTarget, active bool, now time.Time) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[target.ProductID]
	if !ok {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorNotFound, "product not found", nil)
	}
	product.IsActive = active
	s.products[target.ProductID] = product
	return product, nil
}

func (s *stubCatalogRepository) reverts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revertCalls
}

// stubVoucherRepository enforces quota semantics in memory.
type stubVoucherRepository struct {
	mu       sync.Mutex
	vouchers map[string]domain.Voucher

	releaseCalls int
	releaseErr   error
}

func newStubVoucherRepository(vouchers ...domain.Voucher) *stubVoucherRepository {
	repo := &stubVoucherRepository{vouchers: make(map[string]domain.Voucher)}
	for _, v := range vouchers {
		repo.vouchers[strings.ToUpper(v.Code)] = v
	}
	return repo
}

func (s *stubVoucherRepository) FindByCode(ctx context.Context, code string) (domain.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	voucher, ok := s.vouchers[strings.ToUpper(code)]
	if !ok {
		return domain.Voucher{}, repositories.NewVoucherError(repositories.VoucherErrorNotFound, "voucher not found", nil)
	}
	return voucher, nil
}

func (s *stubVoucherRepository) Save(ctx context.Context, voucher domain.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vouchers[strings.ToUpper(voucher.Code)] = voucher
	return nil
}

func (s *stubVoucherRepository) Redeem(ctx context.Context, req repositories.VoucherRedeemRequest) (domain.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	voucher, ok := s.vouchers[strings.ToUpper(req.Code)]
	if !ok {
		return domain.Voucher{}, repositories.NewVoucherError(repositories.VoucherErrorNotFound, "voucher not found", nil)
	}
	if !voucher.IsActive {
		return domain.Voucher{}, repositories.NewVoucherError(repositories.VoucherErrorInactive, "voucher inactive", nil)
	}
	if voucher.UsageLimit > 0 && voucher.UsedCount >= voucher.UsageLimit {
		return domain.Voucher{}, repositories.NewVoucherError(repositories.VoucherErrorQuotaExceeded, "usage limit reached", nil)
	}
	if voucher.LimitPerUser > 0 && voucher.UsedBy[req.UserID] >= voucher.LimitPerUser {
		return domain.Voucher{}, repositories.NewVoucherError(repositories.VoucherErrorQuotaExceeded, "user limit reached", nil)
	}
	voucher.UsedCount++
	if voucher.UsedBy == nil {
		voucher.UsedBy = make(map[string]int, 1)
	}
	voucher.UsedBy[req.UserID]++
	s.vouchers[strings.ToUpper(req.Code)] = voucher
	return voucher, nil
}

func (s *stubVoucherRepository) Release(ctx context.Context, code, userID string, now time.Time) (domain.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCalls++
	if s.releaseErr != nil {
		return domain.Voucher{}, s.releaseErr
	}
	voucher, ok := s.vouchers[strings.ToUpper(code)]
	if !ok {
		return domain.Voucher{}, repositories.NewVoucherError(repositories.VoucherErrorNotFound, "voucher not found", nil)
	}
	if voucher.UsedCount > 0 {
		voucher.UsedCount--
	}
	if voucher.UsedBy[userID] > 0 {
		voucher.UsedBy[userID]--
	}
	s.vouchers[strings.ToUpper(code)] = voucher
	return voucher, nil
}

func (s *stubVoucherRepository) releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseCalls
}

type stubCounterRepository struct {
	mu   sync.Mutex
	next int64
	err  error
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.next++
	return s.next, nil
}

type stubUserRepository struct {
	users map[string]domain.User
}

func (s *stubUserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if user, ok := s.users[userID]; ok {
		return user, nil
	}
	return domain.User{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "user not found", nil)
}

type stubMailPublisher struct {
	mu       sync.Mutex
	messages []MailMessage
	err      error
}

func (s *stubMailPublisher) PublishMail(ctx context.Context, message MailMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.messages = append(s.messages, message)
	return fmt.Sprintf("msg-%d", len(s.messages)), nil
}

func (s *stubMailPublisher) byTemplate(template string) []MailMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []MailMessage
	for _, m := range s.messages {
		if m.Template == template {
			out = append(out, m)
		}
	}
	return out
}

type stubEventPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (s *stubEventPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return fmt.Sprintf("evt-%d", len(s.events)), nil
}

func (s *stubEventPublisher) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%04d", prefix, n)
	}
}
