package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/veloura/api/internal/services"
)

func TestCatalogHandlersListProducts(t *testing.T) {
	var captured services.ProductListFilter
	catalog := &stubCatalogService{
		listFn: func(ctx context.Context, filter services.ProductListFilter) ([]services.Product, error) {
			captured = filter
			return []services.Product{sampleProduct()}, nil
		},
	}

	handler := NewCatalogHandlers(catalog)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/products?limit=10", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !captured.ActiveOnly {
		t.Fatalf("expected active-only listing by default")
	}
	if captured.Limit != 10 {
		t.Fatalf("expected limit 10, got %d", captured.Limit)
	}

	var resp struct {
		Items []productResponse `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 product, got %d", len(resp.Items))
	}
	if resp.Items[0].TotalAvailable != 8 {
		t.Fatalf("expected total available 8, got %d", resp.Items[0].TotalAvailable)
	}
}

func TestCatalogHandlersListIncludeInactive(t *testing.T) {
	var captured services.ProductListFilter
	catalog := &stubCatalogService{
		listFn: func(ctx context.Context, filter services.ProductListFilter) ([]services.Product, error) {
			captured = filter
			return nil, nil
		},
	}

	handler := NewCatalogHandlers(catalog)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/products?include_inactive=true", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.ActiveOnly {
		t.Fatalf("expected inactive products included")
	}
}

func TestCatalogHandlersGetProductNotFound(t *testing.T) {
	catalog := &stubCatalogService{
		getFn: func(ctx context.Context, productID string) (services.Product, error) {
			return services.Product{}, services.ErrProductNotFound
		},
	}

	handler := NewCatalogHandlers(catalog)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/products/missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
