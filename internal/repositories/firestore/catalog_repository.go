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

const productsCollection = "products"

// CatalogRepository implements repositories.CatalogRepository backed by Firestore transactions.
type CatalogRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &CatalogRepository{provider: provider, products: products}, nil
}

func (r *CatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("catalog find: product id is required")
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Product{}, repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("product %s not found", productID), err)
		}
		return domain.Product{}, wrapStockError("catalog.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CatalogRepository) ListProducts(ctx context.Context, filter repositories.ProductListFilter) ([]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("catalog repository not initialised")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	docs, err := r.products.Query(ctx, func(query firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			query = query.Where("isActive", "==", true)
		}
		return query.OrderBy("name", firestore.Asc).Limit(limit)
	})
	if err != nil {
		return nil, wrapStockError("catalog.list", err)
	}

	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, doc.Data.toDomain(doc.ID))
	}
	return products, nil
}

func (r *CatalogRepository) SaveProduct(ctx context.Context, product domain.Product) error {
	if r == nil || r.products == nil {
		return errors.New("catalog repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("catalog save: product id is required")
	}
	if _, err := r.products.Set(ctx, product.ID, newProductDocument(product)); err != nil {
		return wrapStockError("catalog.save", err)
	}
	return nil
}

// ReserveStock consumes availability for every line in one transaction. A
// product whose total availability reaches zero is deactivated in the same
// write, so no window exists where a sold-out product is still purchasable.
func (r *CatalogRepository) ReserveStock(ctx context.Context, req repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockReserveResult{}, errors.New("catalog repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.StockReserveResult{}, errors.New("catalog reserve: at least one line is required")
	}
	now := req.Now.UTC()
	lines := normalizeLines(req.Lines)

	var result repositories.StockReserveResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := r.readProducts(ctx, tx, lines)
		if err != nil {
			return err
		}
		if err := applyReserve(docs, lines); err != nil {
			return err
		}

		result.Products = make(map[string]domain.Product, len(docs))
		for productID, doc := range docs {
			if maybeAutoDeactivate(doc) {
				result.Deactivated = append(result.Deactivated, productID)
			}
			doc.UpdatedAt = now
			ref, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			if err := tx.Set(ref, *doc); err != nil {
				return err
			}
			result.Products[productID] = doc.toDomain(productID)
		}
		return nil
	})
	if err != nil {
		return repositories.StockReserveResult{}, wrapStockError("catalog.reserve", err)
	}
	return result, nil
}

// RevertStock returns reserved quantities to the pool in one transaction,
// flooring sold counters at zero. Products that were deactivated by the
// sold-out rule and regain availability are reactivated in the same write.
// Missing units are skipped so a partially deleted catalog cannot block
// compensation.
func (r *CatalogRepository) RevertStock(ctx context.Context, req repositories.StockRevertRequest) (repositories.StockRevertResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockRevertResult{}, errors.New("catalog repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.StockRevertResult{}, errors.New("catalog revert: at least one line is required")
	}
	now := req.Now.UTC()
	lines := normalizeLines(req.Lines)

	var result repositories.StockRevertResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs := make(map[string]*productDocument)
		for _, line := range lines {
			if line.ProductID == "" {
				continue
			}
			if _, ok := docs[line.ProductID]; ok {
				continue
			}
			ref, err := r.products.DocumentRef(ctx, line.ProductID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", line.ProductID, err)
			}
			docs[line.ProductID] = &doc
		}

		touched := applyRevert(docs, lines)

		result.Products = make(map[string]domain.Product, len(touched))
		for productID := range touched {
			doc := docs[productID]
			if maybeReactivate(doc) {
				result.Reactivated = append(result.Reactivated, productID)
			}
			doc.UpdatedAt = now
			ref, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			if err := tx.Set(ref, *doc); err != nil {
				return err
			}
			result.Products[productID] = doc.toDomain(productID)
		}
		return nil
	})
	if err != nil {
		return repositories.StockRevertResult{}, wrapStockError("catalog.revert", err)
	}
	return result, nil
}

// AdjustQuantity replaces the capacity of one stock unit.
func (r *CatalogRepository) AdjustQuantity(ctx context.Context, req repositories.StockAdjustRequest) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	if req.Quantity < 0 {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorUnknown, "catalog adjust: quantity must be >= 0", nil)
	}
	now := req.Now.UTC()

	var updated domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.products.DocumentRef(ctx, req.ProductID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("product %s not found", req.ProductID), err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", req.ProductID, err)
		}
		_, size := doc.findUnit(req.ColorID, req.SizeID)
		if size == nil {
			return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock unit %s/%s/%s not found", req.ProductID, req.ColorID, req.SizeID), nil)
		}
		size.Quantity = req.Quantity
		maybeReactivate(&doc)
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(req.ProductID)
		return nil
	})
	if err != nil {
		return domain.Product{}, wrapStockError("catalog.adjust", err)
	}
	return updated, nil
}

// SetActivation toggles a product, color, or size. Deactivating a parent
// cascades to its children; reactivating a parent leaves children untouched.
func (r *CatalogRepository) SetActivation(ctx context.Context, target repositories.ActivationTarget, active bool, now time.Time) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	nowUTC := now.UTC()

	var updated domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.products.DocumentRef(ctx, target.ProductID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("product %s not found", target.ProductID), err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", target.ProductID, err)
		}

		if err := applyActivation(&doc, target, active); err != nil {
			return err
		}
		doc.UpdatedAt = nowUTC
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(target.ProductID)
		return nil
	})
	if err != nil {
		return domain.Product{}, wrapStockError("catalog.activation", err)
	}
	return updated, nil
}

func (r *CatalogRepository) readProducts(ctx context.Context, tx *firestore.Transaction, lines []repositories.StockLine) (map[string]*productDocument, error) {
	docs := make(map[string]*productDocument)
	for _, line := range lines {
		if line.ProductID == "" {
			return nil, repositories.NewStockError(repositories.StockErrorNotFound, "catalog reserve: product id is required", nil)
		}
		if _, ok := docs[line.ProductID]; ok {
			continue
		}
		ref, err := r.products.DocumentRef(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil, repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("product %s not found", line.ProductID), err)
			}
			return nil, err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", line.ProductID, err)
		}
		docs[line.ProductID] = &doc
	}
	return docs, nil
}

// normalizeLines trims product ids once so document reads and the apply
// loops agree on the map key.
func normalizeLines(lines []repositories.StockLine) []repositories.StockLine {
	out := make([]repositories.StockLine, len(lines))
	for i, line := range lines {
		line.ProductID = strings.TrimSpace(line.ProductID)
		out[i] = line
	}
	return out
}

// applyReserve validates every line against the loaded documents and
// increments sold counters. Any failed check rejects the whole batch.
func applyReserve(docs map[string]*productDocument, lines []repositories.StockLine) error {
	for _, line := range lines {
		if line.Quantity <= 0 {
			return repositories.NewStockError(repositories.StockErrorUnknown, fmt.Sprintf("catalog reserve: quantity for %s must be > 0", line.ProductID), nil)
		}
		doc := docs[line.ProductID]
		if doc == nil {
			return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("product %s not found", line.ProductID), nil)
		}
		if !doc.IsActive {
			return repositories.NewStockError(repositories.StockErrorHidden, fmt.Sprintf("product %s is not active", line.ProductID), nil)
		}
		variant, size := doc.findUnit(line.ColorID, line.SizeID)
		if variant == nil || size == nil {
			return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock unit %s/%s/%s not found", line.ProductID, line.ColorID, line.SizeID), nil)
		}
		if !variant.IsActive || !size.IsActive {
			return repositories.NewStockError(repositories.StockErrorHidden, fmt.Sprintf("stock unit %s/%s/%s is hidden", line.ProductID, line.ColorID, line.SizeID), nil)
		}
		if size.available() < line.Quantity {
			return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s/%s/%s", line.ProductID, line.ColorID, line.SizeID), nil)
		}
		size.Sold += line.Quantity
	}
	return nil
}

// maybeAutoDeactivate hides a product whose total availability just reached
// zero and records that the system, not an operator, did so.
func maybeAutoDeactivate(doc *productDocument) bool {
	if doc.IsActive && doc.totalAvailable() == 0 {
		doc.IsActive = false
		doc.AutoDeactivated = true
		return true
	}
	return false
}

// applyRevert returns reserved quantities to the pool, flooring sold counters
// at zero. Lines whose product or unit is missing are skipped. Reports which
// products changed.
func applyRevert(docs map[string]*productDocument, lines []repositories.StockLine) map[string]bool {
	touched := make(map[string]bool)
	for _, line := range lines {
		doc, ok := docs[line.ProductID]
		if !ok {
			continue
		}
		_, size := doc.findUnit(line.ColorID, line.SizeID)
		if size == nil {
			continue
		}
		size.Sold -= line.Quantity
		if size.Sold < 0 {
			size.Sold = 0
		}
		touched[line.ProductID] = true
	}
	return touched
}

// maybeReactivate undoes an automatic deactivation once availability returns.
// Products an operator deactivated stay hidden.
func maybeReactivate(doc *productDocument) bool {
	if doc.AutoDeactivated && !doc.IsActive && doc.totalAvailable() > 0 {
		doc.IsActive = true
		doc.AutoDeactivated = false
		return true
	}
	return false
}

// applyActivation toggles one catalog level. Deactivating a parent cascades
// to its children; reactivating a parent leaves children as they are.
func applyActivation(doc *productDocument, target repositories.ActivationTarget, active bool) error {
	switch {
	case target.SizeID != "":
		_, size := doc.findUnit(target.ColorID, target.SizeID)
		if size == nil {
			return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock unit %s/%s/%s not found", target.ProductID, target.ColorID, target.SizeID), nil)
		}
		size.IsActive = active
	case target.ColorID != "":
		variant, _ := doc.findUnit(target.ColorID, "")
		if variant == nil {
			return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("color %s/%s not found", target.ProductID, target.ColorID), nil)
		}
		variant.IsActive = active
		if !active {
			for i := range variant.Sizes {
				variant.Sizes[i].IsActive = false
			}
		}
	default:
		doc.IsActive = active
		doc.AutoDeactivated = false
		if !active {
			for vi := range doc.Variants {
				doc.Variants[vi].IsActive = false
				for si := range doc.Variants[vi].Sizes {
					doc.Variants[vi].Sizes[si].IsActive = false
				}
			}
		}
	}
	return nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	Name            string            `firestore:"name"`
	Price           int64             `firestore:"price"`
	IsActive        bool              `firestore:"isActive"`
	AutoDeactivated bool              `firestore:"autoDeactivated"`
	Variants        []variantDocument `firestore:"variants"`
	UpdatedAt       time.Time         `firestore:"updatedAt"`
}

type variantDocument struct {
	ColorID  string         `firestore:"colorId"`
	IsActive bool           `firestore:"isActive"`
	Sizes    []sizeDocument `firestore:"sizes"`
}

type sizeDocument struct {
	SizeID   string `firestore:"sizeId"`
	Quantity int    `firestore:"quantity"`
	Sold     int    `firestore:"sold"`
	IsActive bool   `firestore:"isActive"`
}

func (s sizeDocument) available() int {
	if avail := s.Quantity - s.Sold; avail > 0 {
		return avail
	}
	return 0
}

func (d *productDocument) totalAvailable() int {
	total := 0
	for _, variant := range d.Variants {
		for _, size := range variant.Sizes {
			total += size.available()
		}
	}
	return total
}

func (d *productDocument) findUnit(colorID, sizeID string) (*variantDocument, *sizeDocument) {
	for vi := range d.Variants {
		if d.Variants[vi].ColorID != colorID {
			continue
		}
		if sizeID == "" {
			return &d.Variants[vi], nil
		}
		for si := range d.Variants[vi].Sizes {
			if d.Variants[vi].Sizes[si].SizeID == sizeID {
				return &d.Variants[vi], &d.Variants[vi].Sizes[si]
			}
		}
		return &d.Variants[vi], nil
	}
	return nil, nil
}

func newProductDocument(product domain.Product) productDocument {
	variants := make([]variantDocument, len(product.Variants))
	for vi, variant := range product.Variants {
		sizes := make([]sizeDocument, len(variant.Sizes))
		for si, size := range variant.Sizes {
			sizes[si] = sizeDocument{
				SizeID:   strings.TrimSpace(size.SizeID),
				Quantity: size.Quantity,
				Sold:     size.Sold,
				IsActive: size.IsActive,
			}
		}
		variants[vi] = variantDocument{
			ColorID:  strings.TrimSpace(variant.ColorID),
			IsActive: variant.IsActive,
			Sizes:    sizes,
		}
	}
	return productDocument{
		Name:            strings.TrimSpace(product.Name),
		Price:           product.Price,
		IsActive:        product.IsActive,
		AutoDeactivated: product.AutoDeactivated,
		Variants:        variants,
		UpdatedAt:       product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	variants := make([]domain.ColorVariant, len(d.Variants))
	for vi, variant := range d.Variants {
		sizes := make([]domain.SizeStock, len(variant.Sizes))
		for si, size := range variant.Sizes {
			sizes[si] = domain.SizeStock{
				SizeID:   size.SizeID,
				Quantity: size.Quantity,
				Sold:     size.Sold,
				IsActive: size.IsActive,
			}
		}
		variants[vi] = domain.ColorVariant{
			ColorID:  variant.ColorID,
			IsActive: variant.IsActive,
			Sizes:    sizes,
		}
	}
	return domain.Product{
		ID:              id,
		Name:            d.Name,
		Price:           d.Price,
		IsActive:        d.IsActive,
		AutoDeactivated: d.AutoDeactivated,
		Variants:        variants,
		UpdatedAt:       d.UpdatedAt,
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
