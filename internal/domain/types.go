package domain

import (
	"strings"
	"time"
)

// OrderStatus enumerates the fulfilment states of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipping   OrderStatus = "shipping"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transitions may leave the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// PaymentStatus enumerates the settlement states of an order.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
	PaymentStatusFailed PaymentStatus = "failed"
)

// PaymentMethod identifies how an order is settled. The category is explicit
// rather than derived from the method name.
type PaymentMethod string

const (
	PaymentMethodCOD          PaymentMethod = "cod"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodVNPay        PaymentMethod = "vnpay"
	PaymentMethodCard         PaymentMethod = "card"
)

// PaymentCategory splits methods into manual (settled offline) and online
// (resolved by a gateway callback).
type PaymentCategory string

const (
	PaymentCategoryManual PaymentCategory = "manual"
	PaymentCategoryOnline PaymentCategory = "online"
)

var paymentCategories = map[PaymentMethod]PaymentCategory{
	PaymentMethodCOD:          PaymentCategoryManual,
	PaymentMethodBankTransfer: PaymentCategoryManual,
	PaymentMethodVNPay:        PaymentCategoryOnline,
	PaymentMethodCard:         PaymentCategoryOnline,
}

// Category returns the settlement category for the method, defaulting to
// online for unknown methods so they can never be cancelled out of band.
func (m PaymentMethod) Category() PaymentCategory {
	if cat, ok := paymentCategories[normalizeMethod(m)]; ok {
		return cat
	}
	return PaymentCategoryOnline
}

// Known reports whether the method is one of the supported payment methods.
func (m PaymentMethod) Known() bool {
	_, ok := paymentCategories[normalizeMethod(m)]
	return ok
}

func normalizeMethod(m PaymentMethod) PaymentMethod {
	return PaymentMethod(strings.ToLower(strings.TrimSpace(string(m))))
}

// SizeStock is the leaf stock unit: capacity and consumption for one
// (product, color, size) tuple.
type SizeStock struct {
	SizeID   string
	Quantity int
	Sold     int
	IsActive bool
}

// Available returns the sellable count, floored at zero.
func (s SizeStock) Available() int {
	if avail := s.Quantity - s.Sold; avail > 0 {
		return avail
	}
	return 0
}

// ColorVariant groups the size-level stock units of one product color.
type ColorVariant struct {
	ColorID  string
	IsActive bool
	Sizes    []SizeStock
}

// Product is the aggregate root over its color/size stock units.
type Product struct {
	ID              string
	Name            string
	Price           int64
	IsActive        bool
	AutoDeactivated bool
	Variants        []ColorVariant
	UpdatedAt       time.Time
}

// TotalAvailable sums the available counts of every active-path stock unit.
// Units under a deactivated color still count toward availability for the
// auto-deactivation rule; visibility and sellability are separate concerns.
func (p Product) TotalAvailable() int {
	total := 0
	for _, variant := range p.Variants {
		for _, size := range variant.Sizes {
			total += size.Available()
		}
	}
	return total
}

// FindUnit locates the stock unit for the given color and size.
func (p *Product) FindUnit(colorID, sizeID string) (*ColorVariant, *SizeStock) {
	for vi := range p.Variants {
		if p.Variants[vi].ColorID != colorID {
			continue
		}
		for si := range p.Variants[vi].Sizes {
			if p.Variants[vi].Sizes[si].SizeID == sizeID {
				return &p.Variants[vi], &p.Variants[vi].Sizes[si]
			}
		}
		return &p.Variants[vi], nil
	}
	return nil, nil
}

// OrderLine is a single purchased stock unit reference with its quantity and
// the unit price captured at checkout time.
type OrderLine struct {
	ProductID string
	ColorID   string
	SizeID    string
	Name      string
	Quantity  int
	UnitPrice int64
}

// Total returns the line total.
func (l OrderLine) Total() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// OrderTotals captures the monetary breakdown of an order in minor units.
type OrderTotals struct {
	Subtotal    int64
	Discount    int64
	ShippingFee int64
	Total       int64
}

// Order is the settlement aggregate.
type Order struct {
	ID            string
	OrderNumber   string
	UserID        string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	PaymentMethod PaymentMethod
	Lines         []OrderLine
	Totals        OrderTotals
	VoucherCode   string
	StockReverted bool
	EmailFlags    map[string]bool
	PaymentMeta   map[string]string
	CancelReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PaidAt        *time.Time
	CancelledAt   *time.Time
	CompletedAt   *time.Time
}

// VoucherType distinguishes flat-amount and percentage vouchers.
type VoucherType string

const (
	VoucherTypeFixed   VoucherType = "fixed"
	VoucherTypePercent VoucherType = "percent"
)

// Voucher is a promotion with global and per-user usage quotas. Zero-valued
// limits mean unlimited.
type Voucher struct {
	Code          string
	Type          VoucherType
	Discount      int64
	MinOrderValue int64
	MaxDiscount   int64
	UsageLimit    int
	UsedCount     int
	LimitPerUser  int
	UsedBy        map[string]int
	IsActive      bool
	StartsAt      time.Time
	EndsAt        time.Time
}

// WithinWindow reports whether the voucher date window covers now. Zero
// bounds are open-ended.
func (v Voucher) WithinWindow(now time.Time) bool {
	if !v.StartsAt.IsZero() && now.Before(v.StartsAt) {
		return false
	}
	if !v.EndsAt.IsZero() && now.After(v.EndsAt) {
		return false
	}
	return true
}

// RemainingGlobal returns the remaining global redemptions, or -1 when
// unlimited.
func (v Voucher) RemainingGlobal() int {
	if v.UsageLimit <= 0 {
		return -1
	}
	if rem := v.UsageLimit - v.UsedCount; rem > 0 {
		return rem
	}
	return 0
}

// RemainingForUser returns the remaining redemptions for the user, or -1
// when unlimited.
func (v Voucher) RemainingForUser(userID string) int {
	if v.LimitPerUser <= 0 {
		return -1
	}
	if rem := v.LimitPerUser - v.UsedBy[userID]; rem > 0 {
		return rem
	}
	return 0
}

// User is the minimal directory record consulted for notifications.
type User struct {
	ID          string
	Email       string
	DisplayName string
}
