package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/veloura/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput signals the caller provided invalid data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrProductNotFound indicates the product or stock unit could not be located.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrOutOfStock indicates the requested quantity exceeds availability.
	ErrOutOfStock = errors.New("catalog: out of stock")
	// ErrVariantHidden indicates the stock unit or one of its ancestors is deactivated.
	ErrVariantHidden = errors.New("catalog: variant hidden")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	catalog repositories.CatalogRepository
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		catalog: deps.Catalog,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.catalog.FindProduct(ctx, productID)
	if err != nil {
		return Product{}, mapStockError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) ([]Product, error) {
	products, err := s.catalog.ListProducts(ctx, repositories.ProductListFilter{
		ActiveOnly: filter.ActiveOnly,
		Limit:      filter.Limit,
	})
	if err != nil {
		return nil, mapStockError(err)
	}
	return products, nil
}

func (s *catalogService) AdjustQuantity(ctx context.Context, cmd AdjustQuantityCommand) (Product, error) {
	if strings.TrimSpace(cmd.ProductID) == "" || strings.TrimSpace(cmd.ColorID) == "" || strings.TrimSpace(cmd.SizeID) == "" {
		return Product{}, fmt.Errorf("%w: product, color, and size ids are required", ErrCatalogInvalidInput)
	}
	if cmd.Quantity < 0 {
		return Product{}, fmt.Errorf("%w: quantity must not be negative", ErrCatalogInvalidInput)
	}

	product, err := s.catalog.AdjustQuantity(ctx, repositories.StockAdjustRequest{
		ProductID: strings.TrimSpace(cmd.ProductID),
		ColorID:   strings.TrimSpace(cmd.ColorID),
		SizeID:    strings.TrimSpace(cmd.SizeID),
		Quantity:  cmd.Quantity,
		Now:       s.clock(),
	})
	if err != nil {
		return Product{}, mapStockError(err)
	}

	s.logger(ctx, "catalog.stock.adjusted", map[string]any{
		"product":  product.ID,
		"color":    cmd.ColorID,
		"size":     cmd.SizeID,
		"quantity": cmd.Quantity,
	})
	return product, nil
}

func (s *catalogService) SetActivation(ctx context.Context, cmd SetActivationCommand) (Product, error) {
	if strings.TrimSpace(cmd.ProductID) == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if strings.TrimSpace(cmd.SizeID) != "" && strings.TrimSpace(cmd.ColorID) == "" {
		return Product{}, fmt.Errorf("%w: size activation requires a color id", ErrCatalogInvalidInput)
	}

	product, err := s.catalog.SetActivation(ctx, repositories.ActivationTarget{
		ProductID: strings.TrimSpace(cmd.ProductID),
		ColorID:   strings.TrimSpace(cmd.ColorID),
		SizeID:    strings.TrimSpace(cmd.SizeID),
	}, cmd.Active, s.clock())
	if err != nil {
		return Product{}, mapStockError(err)
	}

	s.logger(ctx, "catalog.activation.changed", map[string]any{
		"product": product.ID,
		"color":   cmd.ColorID,
		"size":    cmd.SizeID,
		"active":  cmd.Active,
	})
	return product, nil
}

// mapStockError translates repository stock errors into service sentinels.
func mapStockError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %v", ErrOutOfStock, err)
		case repositories.StockErrorHidden:
			return fmt.Errorf("%w: %v", ErrVariantHidden, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrProductNotFound, err)
	}

	return err
}
