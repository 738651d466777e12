package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/veloura/api/internal/domain"
)

func newCatalogFixture(t *testing.T, products ...domain.Product) (*stubCatalogRepository, CatalogService) {
	t.Helper()
	repo := newStubCatalogRepository(products...)
	svc, err := NewCatalogService(CatalogServiceDeps{
		Catalog: repo,
		Clock:   fixedClock(testNow),
	})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	return repo, svc
}

func TestCatalogServiceGetProduct(t *testing.T) {
	_, svc := newCatalogFixture(t, domain.Product{ID: "prod-1", Name: "Linen Shirt", IsActive: true})

	product, err := svc.GetProduct(context.Background(), "prod-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if product.Name != "Linen Shirt" {
		t.Fatalf("product = %+v", product)
	}

	if _, err := svc.GetProduct(context.Background(), "missing"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("missing err = %v", err)
	}
	if _, err := svc.GetProduct(context.Background(), "  "); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("blank err = %v", err)
	}
}

func TestCatalogServiceAdjustQuantityValidation(t *testing.T) {
	_, svc := newCatalogFixture(t, domain.Product{ID: "prod-1"})
	ctx := context.Background()

	if _, err := svc.AdjustQuantity(ctx, AdjustQuantityCommand{ProductID: "prod-1", ColorID: "black", SizeID: "m", Quantity: -1}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("negative quantity err = %v", err)
	}
	if _, err := svc.AdjustQuantity(ctx, AdjustQuantityCommand{ProductID: "prod-1", Quantity: 5}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("missing unit err = %v", err)
	}
	if _, err := svc.AdjustQuantity(ctx, AdjustQuantityCommand{ProductID: "prod-1", ColorID: "black", SizeID: "m", Quantity: 5}); err != nil {
		t.Fatalf("adjust: %v", err)
	}
}

func TestCatalogServiceSetActivation(t *testing.T) {
	repo, svc := newCatalogFixture(t, domain.Product{ID: "prod-1", IsActive: true})
	ctx := context.Background()

	if _, err := svc.SetActivation(ctx, SetActivationCommand{ProductID: "prod-1", SizeID: "m", Active: false}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("size without color err = %v", err)
	}

	product, err := svc.SetActivation(ctx, SetActivationCommand{ProductID: "prod-1", Active: false})
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if product.IsActive {
		t.Fatal("product still active")
	}
	stored, _ := repo.FindProduct(ctx, "prod-1")
	if stored.IsActive {
		t.Fatal("stored product still active")
	}
}
