package services

import (
	"context"
	"net/url"
	"time"

	domain "github.com/veloura/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Product            = domain.Product
	ColorVariant       = domain.ColorVariant
	SizeStock          = domain.SizeStock
	Order              = domain.Order
	OrderLine          = domain.OrderLine
	OrderTotals        = domain.OrderTotals
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	Voucher            = domain.Voucher
	User               = domain.User
	SystemHealthReport = domain.SystemHealthReport
)

// CatalogService exposes product reads and the back-office stock controls.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) ([]Product, error)
	AdjustQuantity(ctx context.Context, cmd AdjustQuantityCommand) (Product, error)
	SetActivation(ctx context.Context, cmd SetActivationCommand) (Product, error)
}

// OrderService owns the order state machine and its settlement transitions.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (Order, error)
	ListForUser(ctx context.Context, userID string, filter OrderListFilter) ([]Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error)
	MarkPaid(ctx context.Context, cmd SettlementCommand) (Order, error)
	MarkFailed(ctx context.Context, cmd SettlementCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	Advance(ctx context.Context, cmd AdvanceOrderCommand) (Order, error)
}

// VoucherService prices and consumes promotion quotas. Pricing never mutates;
// Redeem is the only quota-consuming operation.
type VoucherService interface {
	Price(ctx context.Context, cmd PriceVoucherCommand) (VoucherQuote, error)
	Redeem(ctx context.Context, cmd RedeemVoucherCommand) (Voucher, error)
	Release(ctx context.Context, code, userID string) error
}

// CheckoutService coordinates stock reservation, voucher redemption, order
// creation, and the payment hand-off as one flow.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// ReconciliationService maps gateway signals onto order settlement
// transitions exactly once per outcome.
type ReconciliationService interface {
	HandleIPN(ctx context.Context, params url.Values) IPNResponse
	HandleReturn(ctx context.Context, params url.Values) (ReturnResult, error)
	ConfirmCardPayment(ctx context.Context, cmd ConfirmCardCommand) (Order, error)
}

// CompensationService reverts an order's stock reservation and voucher usage
// at most once per order.
type CompensationService interface {
	RevertOrder(ctx context.Context, order Order) (bool, error)
}

// SystemService exposes dependency health for readiness probes.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// MailMessage is the transactional mail job handed to the mail worker.
type MailMessage struct {
	OrderID     string         `json:"orderId"`
	OrderNumber string         `json:"orderNumber"`
	Template    string         `json:"template"`
	Recipient   string         `json:"recipient"`
	Name        string         `json:"name,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// MailPublisher enqueues transactional mail jobs. Delivery is best effort and
// never blocks or rolls back a settlement transition.
type MailPublisher interface {
	PublishMail(ctx context.Context, message MailMessage) (string, error)
}

// OrderEvent captures metadata for emitted order lifecycle events.
type OrderEvent struct {
	Type           string            `json:"type"`
	OrderID        string            `json:"orderId"`
	OrderNumber    string            `json:"orderNumber"`
	PreviousStatus string            `json:"previousStatus,omitempty"`
	CurrentStatus  string            `json:"currentStatus,omitempty"`
	OccurredAt     time.Time         `json:"occurredAt"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// ProductListFilter narrows catalog listings.
type ProductListFilter struct {
	ActiveOnly bool
	Limit      int
}

// AdjustQuantityCommand replaces the capacity of one stock unit.
type AdjustQuantityCommand struct {
	ProductID string
	ColorID   string
	SizeID    string
	Quantity  int
}

// SetActivationCommand toggles visibility at product, color, or size level.
// ColorID and SizeID narrow the target; both empty targets the product.
type SetActivationCommand struct {
	ProductID string
	ColorID   string
	SizeID    string
	Active    bool
}

// CheckoutLine is one requested stock unit in a checkout.
type CheckoutLine struct {
	ProductID string
	ColorID   string
	SizeID    string
	Quantity  int
}

// CreateOrderCommand assembles an order from already-reserved stock.
type CreateOrderCommand struct {
	UserID        string
	PaymentMethod PaymentMethod
	Lines         []OrderLine
	Discount      int64
	ShippingFee   int64
	VoucherCode   string
	PaymentMeta   map[string]string
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Status OrderStatus
	Limit  int
}

// SettlementCommand resolves an order's payment outcome.
type SettlementCommand struct {
	OrderID string
	Meta    map[string]string
}

// CancelOrderCommand cancels a pending manual-payment order.
type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Reason  string
}

// AdvanceOrderCommand moves a paid order forward through fulfilment.
type AdvanceOrderCommand struct {
	OrderID string
	To      OrderStatus
}

// PriceVoucherCommand computes a discount without consuming quota.
type PriceVoucherCommand struct {
	Code     string
	UserID   string
	Subtotal int64
}

// VoucherQuote is the read-only pricing result for a voucher.
type VoucherQuote struct {
	Code             string
	Discount         int64
	RemainingGlobal  int
	RemainingForUser int
}

// RedeemVoucherCommand consumes one redemption slot for the user.
type RedeemVoucherCommand struct {
	Code     string
	UserID   string
	Subtotal int64
}

// CheckoutCommand is the storefront checkout request.
type CheckoutCommand struct {
	UserID        string
	PaymentMethod PaymentMethod
	Lines         []CheckoutLine
	VoucherCode   string
	ClientIP      string
	SuccessURL    string
	CancelURL     string
}

// CheckoutResult reports the created order and, for online methods, where to
// send the customer to complete payment.
type CheckoutResult struct {
	Order       Order
	PaymentURL  string
	SessionID   string
	Deactivated []string
}

// IPNResponse is the gateway acknowledgement body. The gateway retries based
// on RspCode, so the handler always pairs it with HTTP 200.
type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// ReturnResult is the decoded outcome of the browser return redirect.
type ReturnResult struct {
	OrderID   string
	Succeeded bool
}

// ConfirmCardCommand confirms a card payment against the PSP's record.
type ConfirmCardCommand struct {
	OrderID  string
	IntentID string
}
