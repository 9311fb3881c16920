// Package orders handles purchases and their fulfilment lifecycle.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lrgstore/idstore/internal/app/domain/order"
	"github.com/lrgstore/idstore/internal/app/metrics"
	"github.com/lrgstore/idstore/internal/app/storage"
	"github.com/lrgstore/idstore/pkg/logger"
)

// ErrNotOwner is returned when a user operates on someone else's order.
var ErrNotOwner = errors.New("order belongs to another user")

// Service manages orders.
type Service struct {
	orders   storage.OrderStore
	products storage.ProductStore
	log      *logger.Logger
}

// New constructs an order service.
func New(orders storage.OrderStore, products storage.ProductStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("orders")
	}
	return &Service{orders: orders, products: products, log: log}
}

// Purchase buys one stock item of the product for the user. The debit, the
// stock reservation and the order row commit or fail together.
func (s *Service) Purchase(ctx context.Context, userID, productID string) (order.Order, error) {
	o, err := s.orders.PlaceOrder(ctx, userID, productID)
	if err != nil {
		return order.Order{}, err
	}

	metrics.RecordOrderPlaced()
	s.log.WithField("order_id", o.ID).
		WithField("user_id", userID).
		WithField("product_id", productID).
		Info("order placed")
	return o, nil
}

// SubmitCredentials records the buyer's login details for the link step.
// The order stays pending until a link run succeeds.
func (s *Service) SubmitCredentials(ctx context.Context, userID, orderID string, method order.LinkMethod, customerID, customerPass string) (order.Order, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" || customerPass == "" {
		return order.Order{}, fmt.Errorf("customer id and password are required")
	}

	o, err := s.getOwned(ctx, userID, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if o.Status == order.StatusDone {
		return order.Order{}, fmt.Errorf("order %s is already fulfilled", orderID)
	}

	o.LinkMethod = method
	o.CustomerID = customerID
	o.CustomerPass = customerPass

	updated, err := s.orders.UpdateOrder(ctx, o)
	if err != nil {
		return order.Order{}, err
	}
	s.log.WithField("order_id", orderID).WithField("link_method", method).Info("link credentials submitted")
	return updated, nil
}

// Get returns an order, verifying ownership for non-admin callers.
func (s *Service) Get(ctx context.Context, userID, orderID string, isAdmin bool) (order.Order, error) {
	if isAdmin {
		return s.orders.GetOrder(ctx, orderID)
	}
	return s.getOwned(ctx, userID, orderID)
}

// ListForUser returns a user's orders, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]order.Order, error) {
	return s.orders.ListOrdersByUser(ctx, userID)
}

// ListByStatus returns orders by status for the admin surface. An empty
// status returns everything.
func (s *Service) ListByStatus(ctx context.Context, status order.Status) ([]order.Order, error) {
	return s.orders.ListOrdersByStatus(ctx, status)
}

// SetStatus moves an order to the given status, for the admin surface.
func (s *Service) SetStatus(ctx context.Context, orderID string, status order.Status) (order.Order, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	o.Status = status
	updated, err := s.orders.UpdateOrder(ctx, o)
	if err != nil {
		return order.Order{}, err
	}
	s.log.WithField("order_id", orderID).WithField("status", status).Info("order status changed")
	return updated, nil
}

// MarkDone completes an order after a successful link run.
func (s *Service) MarkDone(ctx context.Context, orderID string) (order.Order, error) {
	return s.SetStatus(ctx, orderID, order.StatusDone)
}

// CredentialFile resolves the path of the credential file reserved for the
// order.
func (s *Service) CredentialFile(ctx context.Context, orderID string) (string, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	item, err := s.products.GetStockItem(ctx, o.StockItemID)
	if err != nil {
		return "", err
	}
	return item.CredentialFile, nil
}

// CountByStatus returns order counts grouped by status.
func (s *Service) CountByStatus(ctx context.Context) (map[order.Status]int, error) {
	return s.orders.CountOrdersByStatus(ctx)
}

func (s *Service) getOwned(ctx context.Context, userID, orderID string) (order.Order, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if o.UserID != userID {
		return order.Order{}, fmt.Errorf("order %s: %w", orderID, ErrNotOwner)
	}
	return o, nil
}
