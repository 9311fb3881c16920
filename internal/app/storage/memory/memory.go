package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lrgstore/idstore/internal/app/domain/order"
	"github.com/lrgstore/idstore/internal/app/domain/product"
	"github.com/lrgstore/idstore/internal/app/domain/topup"
	"github.com/lrgstore/idstore/internal/app/domain/user"
	"github.com/lrgstore/idstore/internal/app/storage"
)

// Epsilon bounds float comparison when guarding balances.
const Epsilon = 1e-9

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu              sync.RWMutex
	users           map[string]user.User
	usersByUsername map[string]string
	usersByEmail    map[string]string
	products        map[string]product.Product
	stock           map[string]product.StockItem
	orders          map[string]order.Order
	topups          map[string]topup.TopUp
	topupsByRef     map[string]string
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.ProductStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)
var _ storage.TopUpStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:           make(map[string]user.User),
		usersByUsername: make(map[string]string),
		usersByEmail:    make(map[string]string),
		products:        make(map[string]product.Product),
		stock:           make(map[string]product.StockItem),
		orders:          make(map[string]order.Order),
		topups:          make(map[string]topup.TopUp),
		topupsByRef:     make(map[string]string),
	}
}

// UserStore implementation --------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrDuplicate)
	}

	nameKey := strings.ToLower(strings.TrimSpace(u.Username))
	if _, exists := s.usersByUsername[nameKey]; exists {
		return user.User{}, fmt.Errorf("username %s: %w", u.Username, storage.ErrDuplicate)
	}
	emailKey := strings.ToLower(strings.TrimSpace(u.Email))
	if emailKey != "" {
		if _, exists := s.usersByEmail[emailKey]; exists {
			return user.User{}, fmt.Errorf("email %s: %w", u.Email, storage.ErrDuplicate)
		}
	}

	if u.Role == "" {
		u.Role = user.RoleUser
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	s.usersByUsername[nameKey] = u.ID
	if emailKey != "" {
		s.usersByEmail[emailKey] = u.ID
	}
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}

	u.Username = original.Username
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	oldEmail := strings.ToLower(strings.TrimSpace(original.Email))
	newEmail := strings.ToLower(strings.TrimSpace(u.Email))
	if newEmail != oldEmail {
		if _, exists := s.usersByEmail[newEmail]; exists && newEmail != "" {
			return user.User{}, fmt.Errorf("email %s: %w", u.Email, storage.ErrDuplicate)
		}
		delete(s.usersByEmail, oldEmail)
		if newEmail != "" {
			s.usersByEmail[newEmail] = u.ID
		}
	}

	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", username, storage.ErrNotFound)
	}
	return s.users[id], nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", email, storage.ErrNotFound)
	}
	return s.users[id], nil
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) AdjustBalance(_ context.Context, userID string, delta float64) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustBalanceLocked(userID, delta)
}

func (s *Store) adjustBalanceLocked(userID string, delta float64) (user.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	next := u.Balance + delta
	if next < -Epsilon {
		return user.User{}, fmt.Errorf("user %s: %w", userID, storage.ErrInsufficientBalance)
	}
	if next < 0 {
		next = 0
	}
	u.Balance = next
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return u, nil
}

// ProductStore implementation -----------------------------------------------

func (s *Store) CreateProduct(_ context.Context, p product.Product) (product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if _, exists := s.products[p.ID]; exists {
		return product.Product{}, fmt.Errorf("product %s: %w", p.ID, storage.ErrDuplicate)
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	s.products[p.ID] = p
	return p, nil
}

func (s *Store) UpdateProduct(_ context.Context, p product.Product) (product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.products[p.ID]
	if !ok {
		return product.Product{}, fmt.Errorf("product %s: %w", p.ID, storage.ErrNotFound)
	}

	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	s.products[p.ID] = p
	return p, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return product.Product{}, fmt.Errorf("product %s: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ListProducts(_ context.Context) ([]product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]product.Product, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return fmt.Errorf("product %s: %w", id, storage.ErrNotFound)
	}
	delete(s.products, id)
	for stockID, item := range s.stock {
		if item.ProductID == id && !item.Sold {
			delete(s.stock, stockID)
		}
	}
	return nil
}

func (s *Store) AddStockItem(_ context.Context, item product.StockItem) (product.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[item.ProductID]; !ok {
		return product.StockItem{}, fmt.Errorf("product %s: %w", item.ProductID, storage.ErrNotFound)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	} else if _, exists := s.stock[item.ID]; exists {
		return product.StockItem{}, fmt.Errorf("stock item %s: %w", item.ID, storage.ErrDuplicate)
	}

	item.Sold = false
	item.OrderID = ""
	item.CreatedAt = time.Now().UTC()

	s.stock[item.ID] = item
	return item, nil
}

func (s *Store) GetStockItem(_ context.Context, id string) (product.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.stock[id]
	if !ok {
		return product.StockItem{}, fmt.Errorf("stock item %s: %w", id, storage.ErrNotFound)
	}
	return item, nil
}

func (s *Store) ListStockItems(_ context.Context, productID string) ([]product.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]product.StockItem, 0)
	for _, item := range s.stock {
		if productID == "" || item.ProductID == productID {
			result = append(result, item)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) DeleteStockItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.stock[id]
	if !ok {
		return fmt.Errorf("stock item %s: %w", id, storage.ErrNotFound)
	}
	if item.Sold {
		return fmt.Errorf("stock item %s: %w", id, storage.ErrStockAlreadyAssigned)
	}
	delete(s.stock, id)
	return nil
}

func (s *Store) CountAvailableStock(_ context.Context, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, item := range s.stock {
		if item.ProductID == productID && !item.Sold {
			count++
		}
	}
	return count, nil
}

// OrderStore implementation -------------------------------------------------

func (s *Store) PlaceOrder(_ context.Context, userID, productID string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return order.Order{}, fmt.Errorf("product %s: %w", productID, storage.ErrNotFound)
	}

	// Oldest unsold stock item wins, matching the FIFO assignment the
	// postgres implementation gets from ORDER BY created_at.
	var reserved *product.StockItem
	for _, item := range s.stock {
		if item.ProductID != productID || item.Sold {
			continue
		}
		item := item
		if reserved == nil || item.CreatedAt.Before(reserved.CreatedAt) {
			reserved = &item
		}
	}
	if reserved == nil {
		return order.Order{}, fmt.Errorf("product %s: %w", productID, storage.ErrOutOfStock)
	}

	if _, err := s.adjustBalanceLocked(userID, -p.Price); err != nil {
		return order.Order{}, err
	}

	now := time.Now().UTC()
	o := order.Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		ProductID:   productID,
		StockItemID: reserved.ID,
		Status:      order.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	reserved.Sold = true
	reserved.OrderID = o.ID
	s.stock[reserved.ID] = *reserved
	s.orders[o.ID] = o
	return o, nil
}

func (s *Store) UpdateOrder(_ context.Context, o order.Order) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.orders[o.ID]
	if !ok {
		return order.Order{}, fmt.Errorf("order %s: %w", o.ID, storage.ErrNotFound)
	}

	o.UserID = original.UserID
	o.ProductID = original.ProductID
	o.StockItemID = original.StockItemID
	o.CreatedAt = original.CreatedAt
	o.UpdatedAt = time.Now().UTC()

	s.orders[o.ID] = o
	return o, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, fmt.Errorf("order %s: %w", id, storage.ErrNotFound)
	}
	return o, nil
}

func (s *Store) ListOrdersByUser(_ context.Context, userID string) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]order.Order, 0)
	for _, o := range s.orders {
		if o.UserID == userID {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListOrdersByStatus(_ context.Context, status order.Status) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]order.Order, 0)
	for _, o := range s.orders {
		if status == "" || o.Status == status {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) CountOrdersByStatus(_ context.Context) (map[order.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[order.Status]int)
	for _, o := range s.orders {
		counts[o.Status]++
	}
	return counts, nil
}

// TopUpStore implementation -------------------------------------------------

func (s *Store) CreateTopUp(_ context.Context, t topup.TopUp) (topup.TopUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	} else if _, exists := s.topups[t.ID]; exists {
		return topup.TopUp{}, fmt.Errorf("topup %s: %w", t.ID, storage.ErrDuplicate)
	}

	refKey := strings.TrimSpace(t.ReferenceCode)
	if refKey != "" {
		if _, exists := s.topupsByRef[refKey]; exists {
			return topup.TopUp{}, fmt.Errorf("voucher %s: %w", refKey, storage.ErrDuplicate)
		}
	}
	if t.Method == "" {
		t.Method = topup.MethodTrueMoneyAngpao
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	s.topups[t.ID] = t
	if refKey != "" {
		s.topupsByRef[refKey] = t.ID
	}
	return t, nil
}

func (s *Store) UpdateTopUp(_ context.Context, t topup.TopUp) (topup.TopUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.topups[t.ID]
	if !ok {
		return topup.TopUp{}, fmt.Errorf("topup %s: %w", t.ID, storage.ErrNotFound)
	}

	t.UserID = original.UserID
	t.ReferenceCode = original.ReferenceCode
	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = time.Now().UTC()

	s.topups[t.ID] = t
	return t, nil
}

func (s *Store) GetTopUp(_ context.Context, id string) (topup.TopUp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.topups[id]
	if !ok {
		return topup.TopUp{}, fmt.Errorf("topup %s: %w", id, storage.ErrNotFound)
	}
	return t, nil
}

func (s *Store) GetTopUpByReference(_ context.Context, code string) (topup.TopUp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.topupsByRef[strings.TrimSpace(code)]
	if !ok {
		return topup.TopUp{}, fmt.Errorf("voucher %s: %w", code, storage.ErrNotFound)
	}
	return s.topups[id], nil
}

func (s *Store) ListTopUpsByUser(_ context.Context, userID string) ([]topup.TopUp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]topup.TopUp, 0)
	for _, t := range s.topups {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListPendingTopUps(_ context.Context, olderThan time.Time) ([]topup.TopUp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]topup.TopUp, 0)
	for _, t := range s.topups {
		if t.Status == topup.StatusPending && t.CreatedAt.Before(olderThan) {
			result = append(result, t)
		}
	}
	return result, nil
}
