package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/veloura/api/internal/domain"
	pfirestore "github.com/veloura/api/internal/platform/firestore"
	"github.com/veloura/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository implements repositories.OrderRepository backed by Firestore transactions.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(ref, newOrderDocument(order)); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewOrderError(repositories.OrderErrorAlreadyProcessed, fmt.Sprintf("order %s already exists", order.ID), err)
			}
			return err
		}
		return nil
	})
	return wrapOrderError("orders.insert", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, wrapOrderError("orders.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order find: order number is required")
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("orderNumber", "==", orderNumber).Limit(1)
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.findByNumber", err)
	}
	if len(docs) == 0 {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderNumber), nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("order list: user id is required")
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.Where("userId", "==", userID)
		return applyOrderFilter(query, filter)
	})
	if err != nil {
		return nil, wrapOrderError("orders.listByUser", err)
	}
	return decodeOrders(docs), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order repository not initialised")
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		return applyOrderFilter(query, filter)
	})
	if err != nil {
		return nil, wrapOrderError("orders.list", err)
	}
	return decodeOrders(docs), nil
}

// TransitionPayment resolves the settlement state of an order. The write only
// applies while the order is still unpaid, so concurrent duplicate callbacks
// collapse into exactly one winner; losers receive an already-processed error
// carrying no side effects.
func (r *OrderRepository) TransitionPayment(ctx context.Context, req repositories.PaymentTransition) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if req.To != domain.PaymentStatusPaid && req.To != domain.PaymentStatusFailed {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidTransition, fmt.Sprintf("payment transition to %s is not allowed", req.To), nil)
	}
	now := req.Now.UTC()

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getForUpdate(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		if doc.PaymentStatus != string(domain.PaymentStatusUnpaid) {
			return repositories.NewOrderError(repositories.OrderErrorAlreadyProcessed, fmt.Sprintf("order %s payment already %s", req.OrderID, doc.PaymentStatus), nil)
		}

		doc.PaymentStatus = string(req.To)
		switch req.To {
		case domain.PaymentStatusPaid:
			if doc.Status == string(domain.OrderStatusPending) {
				doc.Status = string(domain.OrderStatusConfirmed)
			}
			doc.PaidAt = &now
		case domain.PaymentStatusFailed:
			if doc.Status == string(domain.OrderStatusPending) {
				doc.Status = string(domain.OrderStatusCancelled)
				doc.CancelledAt = &now
			}
		}
		if len(req.Meta) > 0 {
			if doc.PaymentMeta == nil {
				doc.PaymentMeta = make(map[string]string, len(req.Meta))
			}
			for k, v := range req.Meta {
				doc.PaymentMeta[k] = v
			}
		}
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(req.OrderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.transitionPayment", err)
	}
	return updated, nil
}

// UpdateStatus moves the order between fulfilment states only when the
// current status matches the expected one.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, now time.Time) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	nowUTC := now.UTC()

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if doc.Status != string(from) {
			return repositories.NewOrderError(repositories.OrderErrorInvalidTransition, fmt.Sprintf("order %s is %s, expected %s", orderID, doc.Status, from), nil)
		}
		doc.Status = string(to)
		if to == domain.OrderStatusCompleted {
			doc.CompletedAt = &nowUTC
		}
		doc.UpdatedAt = nowUTC

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.updateStatus", err)
	}
	return updated, nil
}

// Cancel marks a pending order as cancelled and its payment as failed.
func (r *OrderRepository) Cancel(ctx context.Context, req repositories.OrderCancelRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	now := req.Now.UTC()

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getForUpdate(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		if doc.Status != string(domain.OrderStatusPending) {
			return repositories.NewOrderError(repositories.OrderErrorInvalidTransition, fmt.Sprintf("order %s is %s and cannot be cancelled", req.OrderID, doc.Status), nil)
		}

		doc.Status = string(domain.OrderStatusCancelled)
		doc.PaymentStatus = string(domain.PaymentStatusFailed)
		doc.CancelReason = strings.TrimSpace(req.Reason)
		doc.CancelledAt = &now
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(req.OrderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.cancel", err)
	}
	return updated, nil
}

// MarkStockReverted flips the compensation flag. It reports false when the
// flag was already set, so a second caller never runs compensation again.
func (r *OrderRepository) MarkStockReverted(ctx context.Context, orderID string, now time.Time) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("order repository not initialised")
	}
	nowUTC := now.UTC()

	var first bool
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if doc.StockReverted {
			first = false
			return nil
		}
		doc.StockReverted = true
		doc.UpdatedAt = nowUTC
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		first = true
		return nil
	})
	if err != nil {
		return false, wrapOrderError("orders.markStockReverted", err)
	}
	return first, nil
}

// SetEmailFlag records that a notification was sent. It reports true only for
// the first caller setting the flag.
func (r *OrderRepository) SetEmailFlag(ctx context.Context, orderID, flag string, now time.Time) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("order repository not initialised")
	}
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return false, errors.New("order email flag: flag name is required")
	}
	nowUTC := now.UTC()

	var first bool
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if doc.EmailFlags[flag] {
			first = false
			return nil
		}
		if doc.EmailFlags == nil {
			doc.EmailFlags = make(map[string]bool, 1)
		}
		doc.EmailFlags[flag] = true
		doc.UpdatedAt = nowUTC
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		first = true
		return nil
	})
	if err != nil {
		return false, wrapOrderError("orders.setEmailFlag", err)
	}
	return first, nil
}

func (r *OrderRepository) getForUpdate(ctx context.Context, tx *firestore.Transaction, orderID string) (*firestore.DocumentRef, orderDocument, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, orderDocument{}, errors.New("order id is required")
	}
	ref, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return nil, orderDocument{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, orderDocument{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return nil, orderDocument{}, err
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, orderDocument{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return ref, doc, nil
}

func applyOrderFilter(query firestore.Query, filter repositories.OrderListFilter) firestore.Query {
	if filter.Status != "" {
		query = query.Where("status", "==", string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return query.OrderBy("createdAt", firestore.Desc).Limit(limit)
}

func decodeOrders(docs []pfirestore.Document[orderDocument]) []domain.Order {
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	OrderNumber   string              `firestore:"orderNumber"`
	UserID        string              `firestore:"userId"`
	Status        string              `firestore:"status"`
	PaymentStatus string              `firestore:"paymentStatus"`
	PaymentMethod string              `firestore:"paymentMethod"`
	Lines         []orderLineDocument `firestore:"lines"`
	Subtotal      int64               `firestore:"subtotal"`
	Discount      int64               `firestore:"discount"`
	ShippingFee   int64               `firestore:"shippingFee"`
	Total         int64               `firestore:"total"`
	VoucherCode   string              `firestore:"voucherCode,omitempty"`
	StockReverted bool                `firestore:"stockReverted"`
	EmailFlags    map[string]bool     `firestore:"emailFlags,omitempty"`
	PaymentMeta   map[string]string   `firestore:"paymentMeta,omitempty"`
	CancelReason  string              `firestore:"cancelReason,omitempty"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
	PaidAt        *time.Time          `firestore:"paidAt,omitempty"`
	CancelledAt   *time.Time          `firestore:"cancelledAt,omitempty"`
	CompletedAt   *time.Time          `firestore:"completedAt,omitempty"`
}

type orderLineDocument struct {
	ProductID string `firestore:"productId"`
	ColorID   string `firestore:"colorId"`
	SizeID    string `firestore:"sizeId"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"qty"`
	UnitPrice int64  `firestore:"unitPrice"`
}

func newOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, len(order.Lines))
	for i, line := range order.Lines {
		lines[i] = orderLineDocument{
			ProductID: strings.TrimSpace(line.ProductID),
			ColorID:   strings.TrimSpace(line.ColorID),
			SizeID:    strings.TrimSpace(line.SizeID),
			Name:      strings.TrimSpace(line.Name),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
	}
	return orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		UserID:        strings.TrimSpace(order.UserID),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		Lines:         lines,
		Subtotal:      order.Totals.Subtotal,
		Discount:      order.Totals.Discount,
		ShippingFee:   order.Totals.ShippingFee,
		Total:         order.Totals.Total,
		VoucherCode:   strings.TrimSpace(order.VoucherCode),
		StockReverted: order.StockReverted,
		EmailFlags:    order.EmailFlags,
		PaymentMeta:   order.PaymentMeta,
		CancelReason:  strings.TrimSpace(order.CancelReason),
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		PaidAt:        order.PaidAt,
		CancelledAt:   order.CancelledAt,
		CompletedAt:   order.CompletedAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.OrderLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.OrderLine{
			ProductID: line.ProductID,
			ColorID:   line.ColorID,
			SizeID:    line.SizeID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
	}
	return domain.Order{
		ID:            id,
		OrderNumber:   d.OrderNumber,
		UserID:        d.UserID,
		Status:        domain.OrderStatus(d.Status),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		Lines:         lines,
		Totals: domain.OrderTotals{
			Subtotal:    d.Subtotal,
			Discount:    d.Discount,
			ShippingFee: d.ShippingFee,
			Total:       d.Total,
		},
		VoucherCode:   d.VoucherCode,
		StockReverted: d.StockReverted,
		EmailFlags:    d.EmailFlags,
		PaymentMeta:   d.PaymentMeta,
		CancelReason:  d.CancelReason,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		PaidAt:        d.PaidAt,
		CancelledAt:   d.CancelledAt,
		CompletedAt:   d.CompletedAt,
	}
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	return pfirestore.WrapError(op, err)
}
