// Package catalog manages the product list and its credential stock.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lrgstore/idstore/internal/app/cache"
	"github.com/lrgstore/idstore/internal/app/domain/product"
	"github.com/lrgstore/idstore/internal/app/storage"
	"github.com/lrgstore/idstore/pkg/logger"
)

const (
	listCacheKey = "catalog:list"
	listCacheTTL = 30 * time.Second
)

// ProductView is a product together with its available stock count.
type ProductView struct {
	product.Product
	Available int `json:"available"`
}

// Service manages the catalog. Credential files are stored on disk under
// dataDir and referenced by path from stock records.
type Service struct {
	store    storage.ProductStore
	cache    cache.Cache
	cacheTTL time.Duration
	dataDir  string
	log      *logger.Logger
}

// New constructs a catalog service. A nil cache disables list caching.
func New(store storage.ProductStore, c cache.Cache, dataDir string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{store: store, cache: c, cacheTTL: listCacheTTL, dataDir: dataDir, log: log}
}

// SetCacheTTL overrides how long the cached product list stays fresh.
func (s *Service) SetCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		s.cacheTTL = ttl
	}
}

// List returns all products with availability, served from cache when fresh.
func (s *Service) List(ctx context.Context) ([]ProductView, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, listCacheKey); err == nil {
			var views []ProductView
			if err := json.Unmarshal(raw, &views); err == nil {
				return views, nil
			}
		}
	}

	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		available, err := s.store.CountAvailableStock(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, ProductView{Product: p, Available: available})
	}

	if s.cache != nil {
		if raw, err := json.Marshal(views); err == nil {
			_ = s.cache.Set(ctx, listCacheKey, raw, s.cacheTTL)
		}
	}
	return views, nil
}

// Get returns one product with availability.
func (s *Service) Get(ctx context.Context, id string) (ProductView, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return ProductView{}, err
	}
	available, err := s.store.CountAvailableStock(ctx, id)
	if err != nil {
		return ProductView{}, err
	}
	return ProductView{Product: p, Available: available}, nil
}

// Create adds a product to the catalog.
func (s *Service) Create(ctx context.Context, p product.Product) (product.Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return product.Product{}, fmt.Errorf("product name is required")
	}
	if p.Price < 0 {
		return product.Product{}, fmt.Errorf("price must not be negative")
	}

	created, err := s.store.CreateProduct(ctx, p)
	if err != nil {
		return product.Product{}, err
	}
	s.invalidate(ctx)
	s.log.WithField("product_id", created.ID).WithField("name", created.Name).Info("product created")
	return created, nil
}

// Update replaces a product's mutable fields.
func (s *Service) Update(ctx context.Context, p product.Product) (product.Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return product.Product{}, fmt.Errorf("product name is required")
	}
	if p.Price < 0 {
		return product.Product{}, fmt.Errorf("price must not be negative")
	}

	updated, err := s.store.UpdateProduct(ctx, p)
	if err != nil {
		return product.Product{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// Delete removes a product and its unsold stock. Sold stock records stay so
// existing orders keep their credential files.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.log.WithField("product_id", id).Info("product deleted")
	return nil
}

// SaveImage stores an uploaded product image under the data directory and
// returns the stored path. The original filename only contributes its
// extension.
func (s *Service) SaveImage(filename string, content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("image file is empty")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
	default:
		return "", fmt.Errorf("unsupported image type %q", ext)
	}

	imageDir := filepath.Join(s.dataDir, "images")
	if err := os.MkdirAll(imageDir, 0o750); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	path := filepath.Join(imageDir, uuid.NewString()+ext)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}

// AddStock stores a credential file on disk and records it as sellable
// stock for the product.
func (s *Service) AddStock(ctx context.Context, productID string, content []byte) (product.StockItem, error) {
	if len(content) == 0 {
		return product.StockItem{}, fmt.Errorf("credential file is empty")
	}
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return product.StockItem{}, err
	}

	stockDir := filepath.Join(s.dataDir, "stock")
	if err := os.MkdirAll(stockDir, 0o750); err != nil {
		return product.StockItem{}, fmt.Errorf("create stock dir: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(stockDir, id+".xml")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return product.StockItem{}, fmt.Errorf("write credential file: %w", err)
	}

	item, err := s.store.AddStockItem(ctx, product.StockItem{
		ID:             id,
		ProductID:      productID,
		CredentialFile: path,
	})
	if err != nil {
		os.Remove(path)
		return product.StockItem{}, err
	}

	s.invalidate(ctx)
	s.log.WithField("product_id", productID).WithField("stock_id", item.ID).Info("stock added")
	return item, nil
}

// ListStock lists stock records, optionally filtered by product.
func (s *Service) ListStock(ctx context.Context, productID string) ([]product.StockItem, error) {
	return s.store.ListStockItems(ctx, productID)
}

// RemoveStock deletes an unsold stock record and its file.
func (s *Service) RemoveStock(ctx context.Context, id string) error {
	item, err := s.store.GetStockItem(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteStockItem(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(item.CredentialFile); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).Warn("remove credential file")
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, listCacheKey)
	}
}
