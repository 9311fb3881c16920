package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lrgstore/idstore/internal/app/domain/order"
	"github.com/lrgstore/idstore/internal/app/domain/product"
	"github.com/lrgstore/idstore/internal/app/domain/topup"
	"github.com/lrgstore/idstore/internal/app/domain/user"
)

// Sentinel errors shared by all store implementations. Callers match them
// with errors.Is; implementations wrap them with record identifiers.
var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicate            = errors.New("already exists")
	ErrOutOfStock           = errors.New("out of stock")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrStockAlreadyAssigned = errors.New("stock item already assigned")
)

// UserStore persists storefront accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)

	// AdjustBalance atomically applies a signed delta and fails with
	// ErrInsufficientBalance if the result would go negative.
	AdjustBalance(ctx context.Context, userID string, delta float64) (user.User, error)
}

// ProductStore persists the catalog and its credential stock.
type ProductStore interface {
	CreateProduct(ctx context.Context, p product.Product) (product.Product, error)
	UpdateProduct(ctx context.Context, p product.Product) (product.Product, error)
	GetProduct(ctx context.Context, id string) (product.Product, error)
	ListProducts(ctx context.Context) ([]product.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	AddStockItem(ctx context.Context, item product.StockItem) (product.StockItem, error)
	GetStockItem(ctx context.Context, id string) (product.StockItem, error)
	ListStockItems(ctx context.Context, productID string) ([]product.StockItem, error)
	DeleteStockItem(ctx context.Context, id string) error
	CountAvailableStock(ctx context.Context, productID string) (int, error)
}

// OrderStore persists orders. PlaceOrder is the one transactional entry
// point: it debits the buyer, reserves the oldest unsold stock item and
// creates the order, all or nothing.
type OrderStore interface {
	PlaceOrder(ctx context.Context, userID, productID string) (order.Order, error)
	UpdateOrder(ctx context.Context, o order.Order) (order.Order, error)
	GetOrder(ctx context.Context, id string) (order.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]order.Order, error)
	ListOrdersByStatus(ctx context.Context, status order.Status) ([]order.Order, error)
	CountOrdersByStatus(ctx context.Context) (map[order.Status]int, error)
}

// TopUpStore persists balance top-ups. CreateTopUp enforces reference-code
// uniqueness with ErrDuplicate.
type TopUpStore interface {
	CreateTopUp(ctx context.Context, t topup.TopUp) (topup.TopUp, error)
	UpdateTopUp(ctx context.Context, t topup.TopUp) (topup.TopUp, error)
	GetTopUp(ctx context.Context, id string) (topup.TopUp, error)
	GetTopUpByReference(ctx context.Context, code string) (topup.TopUp, error)
	ListTopUpsByUser(ctx context.Context, userID string) ([]topup.TopUp, error)
	ListPendingTopUps(ctx context.Context, olderThan time.Time) ([]topup.TopUp, error)
}
