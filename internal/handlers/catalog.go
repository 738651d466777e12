package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/veloura/api/internal/domain"
	"github.com/veloura/api/internal/platform/httpx"
	"github.com/veloura/api/internal/services"
)

const maxProductPageSize = 100

type sizeStockResponse struct {
	SizeID    string `json:"sizeId"`
	Quantity  int    `json:"quantity"`
	Sold      int    `json:"sold"`
	Available int    `json:"available"`
	IsActive  bool   `json:"isActive"`
}

type colorVariantResponse struct {
	ColorID  string              `json:"colorId"`
	IsActive bool                `json:"isActive"`
	Sizes    []sizeStockResponse `json:"sizes"`
}

type productResponse struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Price           int64                  `json:"price"`
	IsActive        bool                   `json:"isActive"`
	AutoDeactivated bool                   `json:"autoDeactivated"`
	TotalAvailable  int                    `json:"totalAvailable"`
	Variants        []colorVariantResponse `json:"variants"`
	UpdatedAt       string                 `json:"updatedAt"`
}

func toProductResponse(p domain.Product) productResponse {
	variants := make([]colorVariantResponse, 0, len(p.Variants))
	for _, variant := range p.Variants {
		sizes := make([]sizeStockResponse, 0, len(variant.Sizes))
		for _, size := range variant.Sizes {
			sizes = append(sizes, sizeStockResponse{
				SizeID:    size.SizeID,
				Quantity:  size.Quantity,
				Sold:      size.Sold,
				Available: size.Available(),
				IsActive:  size.IsActive,
			})
		}
		variants = append(variants, colorVariantResponse{
			ColorID:  variant.ColorID,
			IsActive: variant.IsActive,
			Sizes:    sizes,
		})
	}
	return productResponse{
		ID:              p.ID,
		Name:            p.Name,
		Price:           p.Price,
		IsActive:        p.IsActive,
		AutoDeactivated: p.AutoDeactivated,
		TotalAvailable:  p.TotalAvailable(),
		Variants:        variants,
		UpdatedAt:       p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// CatalogHandlers exposes the public product read endpoints.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs a new CatalogHandlers instance.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes registers the /products endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		limit = parsed
		if limit > maxProductPageSize {
			limit = maxProductPageSize
		}
	}

	products, err := h.catalog.ListProducts(r.Context(), services.ProductListFilter{
		ActiveOnly: query.Get("include_inactive") != "true",
		Limit:      limit,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make([]productResponse, 0, len(products))
	for _, p := range products {
		items = append(items, toProductResponse(p))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	product, err := h.catalog.GetProduct(r.Context(), productID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProductResponse(product))
}
