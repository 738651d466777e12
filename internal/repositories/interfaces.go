package repositories

import (
	"context"
	"time"

	domain "github.com/veloura/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StockLine references one stock unit and the quantity to reserve or revert.
type StockLine struct {
	ProductID string
	ColorID   string
	SizeID    string
	Quantity  int
}

// StockReserveRequest consumes availability for the given lines in one atomic step.
type StockReserveRequest struct {
	Lines []StockLine
	Now   time.Time
}

// StockReserveResult reports the post-reservation state of the touched products.
type StockReserveResult struct {
	Products    map[string]domain.Product
	Deactivated []string
}

// StockRevertRequest returns previously reserved quantities to the pool.
type StockRevertRequest struct {
	Lines []StockLine
	Now   time.Time
}

// StockRevertResult reports the post-revert state of the touched products.
type StockRevertResult struct {
	Products    map[string]domain.Product
	Reactivated []string
}

// StockAdjustRequest replaces the capacity of a single stock unit.
type StockAdjustRequest struct {
	ProductID string
	ColorID   string
	SizeID    string
	Quantity  int
	Now       time.Time
}

// ActivationTarget selects the catalog level an activation toggle applies to.
type ActivationTarget struct {
	ProductID string
	ColorID   string
	SizeID    string
}

// ProductListFilter narrows catalog listings.
type ProductListFilter struct {
	ActiveOnly bool
	Limit      int
}

// CatalogRepository manages products and their size-level stock with transactional guarantees.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) ([]domain.Product, error)
	SaveProduct(ctx context.Context, product domain.Product) error
	ReserveStock(ctx context.Context, req StockReserveRequest) (StockReserveResult, error)
	RevertStock(ctx context.Context, req StockRevertRequest) (StockRevertResult, error)
	AdjustQuantity(ctx context.Context, req StockAdjustRequest) (domain.Product, error)
	SetActivation(ctx context.Context, target ActivationTarget, active bool, now time.Time) (domain.Product, error)
}

// PaymentTransition describes a conditional settlement state change. The
// transition only applies while the order's payment status is still unpaid.
type PaymentTransition struct {
	OrderID string
	To      domain.PaymentStatus
	Meta    map[string]string
	Now     time.Time
}

// OrderCancelRequest cancels an order on behalf of the user or an operator.
type OrderCancelRequest struct {
	OrderID string
	Reason  string
	Now     time.Time
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Status domain.OrderStatus
	Limit  int
}

// OrderRepository persists orders and guards their settlement transitions.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, filter OrderListFilter) ([]domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	TransitionPayment(ctx context.Context, req PaymentTransition) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, now time.Time) (domain.Order, error)
	Cancel(ctx context.Context, req OrderCancelRequest) (domain.Order, error)
	MarkStockReverted(ctx context.Context, orderID string, now time.Time) (bool, error)
	SetEmailFlag(ctx context.Context, orderID, flag string, now time.Time) (bool, error)
}

// VoucherRedeemRequest records one redemption for a user inside a transaction.
type VoucherRedeemRequest struct {
	Code   string
	UserID string
	Now    time.Time
}

// VoucherRepository persists vouchers and their usage quotas.
type VoucherRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Voucher, error)
	Save(ctx context.Context, voucher domain.Voucher) error
	Redeem(ctx context.Context, req VoucherRedeemRequest) (domain.Voucher, error)
	Release(ctx context.Context, code, userID string, now time.Time) (domain.Voucher, error)
}

// UserRepository reads the user directory consulted for notifications.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
}

// CounterRepository issues monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, counterID string) (int64, error)
}

// HealthRepository evaluates dependency health for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
