package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lrgstore/idstore/internal/app/domain/order"
	"github.com/lrgstore/idstore/internal/app/domain/product"
	"github.com/lrgstore/idstore/internal/app/domain/topup"
	"github.com/lrgstore/idstore/internal/app/domain/user"
	"github.com/lrgstore/idstore/internal/app/storage"
)

// uniqueViolation is the pq error code for unique constraint violations.
const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.ProductStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)
var _ storage.TopUpStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = user.RoleUser
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_users (id, username, email, password_hash, balance, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Balance, u.Role, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, fmt.Errorf("user %s: %w", u.Username, storage.ErrDuplicate)
		}
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	u.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE store_users
		SET email = $2, password_hash = $3, role = $4, updated_at = $5
		WHERE id = $1
	`, u.ID, u.Email, u.PasswordHash, u.Role, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, fmt.Errorf("email %s: %w", u.Email, storage.ErrDuplicate)
		}
		return user.User{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}
	return s.GetUser(ctx, u.ID)
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	return s.getUserBy(ctx, "id", id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return s.getUserBy(ctx, "username", username)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return s.getUserBy(ctx, "email", email)
}

func (s *Store) getUserBy(ctx context.Context, column, value string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, balance, role, created_at, updated_at
		FROM store_users
		WHERE `+column+` = $1
	`, value)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, fmt.Errorf("user %s: %w", value, storage.ErrNotFound)
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, password_hash, balance, role, created_at, updated_at
		FROM store_users
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) AdjustBalance(ctx context.Context, userID string, delta float64) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE store_users
		SET balance = balance + $2, updated_at = $3
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING id, username, email, password_hash, balance, role, created_at, updated_at
	`, userID, delta, time.Now().UTC())

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the user is missing or the guard rejected the debit.
		if _, getErr := s.GetUser(ctx, userID); getErr != nil {
			return user.User{}, getErr
		}
		return user.User{}, fmt.Errorf("user %s: %w", userID, storage.ErrInsufficientBalance)
	}
	return u, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Balance, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// --- ProductStore -----------------------------------------------------------

func (s *Store) CreateProduct(ctx context.Context, p product.Product) (product.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_products (id, name, description, price, image_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Name, p.Description, p.Price, p.ImagePath, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return product.Product{}, err
	}
	return p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p product.Product) (product.Product, error) {
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE store_products
		SET name = $2, description = $3, price = $4, image_path = $5, updated_at = $6
		WHERE id = $1
	`, p.ID, p.Name, p.Description, p.Price, p.ImagePath, p.UpdatedAt)
	if err != nil {
		return product.Product{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return product.Product{}, fmt.Errorf("product %s: %w", p.ID, storage.ErrNotFound)
	}
	return s.GetProduct(ctx, p.ID)
}

func (s *Store) GetProduct(ctx context.Context, id string) (product.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, price, image_path, created_at, updated_at
		FROM store_products
		WHERE id = $1
	`, id)

	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return product.Product{}, fmt.Errorf("product %s: %w", id, storage.ErrNotFound)
	}
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]product.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, price, image_path, created_at, updated_at
		FROM store_products
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []product.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM store_stock WHERE product_id = $1 AND sold = FALSE
	`, id); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM store_products WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("product %s: %w", id, storage.ErrNotFound)
	}
	return tx.Commit()
}

func scanProduct(row rowScanner) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.ImagePath, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) AddStockItem(ctx context.Context, item product.StockItem) (product.StockItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Sold = false
	item.OrderID = ""
	item.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_stock (id, product_id, credential_file, sold, created_at)
		VALUES ($1, $2, $3, FALSE, $4)
	`, item.ID, item.ProductID, item.CredentialFile, item.CreatedAt)
	if err != nil {
		return product.StockItem{}, err
	}
	return item, nil
}

func (s *Store) GetStockItem(ctx context.Context, id string) (product.StockItem, error) {
	// order_id is a UUID column; it must be cast before COALESCE can default
	// it to an empty string.
	row := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, credential_file, sold, COALESCE(order_id::text, ''), created_at
		FROM store_stock
		WHERE id = $1
	`, id)

	item, err := scanStockItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return product.StockItem{}, fmt.Errorf("stock item %s: %w", id, storage.ErrNotFound)
	}
	return item, err
}

func (s *Store) ListStockItems(ctx context.Context, productID string) ([]product.StockItem, error) {
	query := `
		SELECT id, product_id, credential_file, sold, COALESCE(order_id::text, ''), created_at
		FROM store_stock
	`
	args := []any{}
	if productID != "" {
		query += ` WHERE product_id = $1`
		args = append(args, productID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []product.StockItem
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func (s *Store) DeleteStockItem(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM store_stock WHERE id = $1 AND sold = FALSE
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, getErr := s.GetStockItem(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("stock item %s: %w", id, storage.ErrStockAlreadyAssigned)
	}
	return nil
}

func (s *Store) CountAvailableStock(ctx context.Context, productID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM store_stock WHERE product_id = $1 AND sold = FALSE
	`, productID).Scan(&count)
	return count, err
}

func scanStockItem(row rowScanner) (product.StockItem, error) {
	var item product.StockItem
	err := row.Scan(&item.ID, &item.ProductID, &item.CredentialFile, &item.Sold, &item.OrderID, &item.CreatedAt)
	return item, err
}

// --- OrderStore -------------------------------------------------------------

// PlaceOrder debits the buyer, reserves the oldest unsold stock item and
// creates the order in one transaction. SKIP LOCKED keeps concurrent buyers
// from fighting over the same row.
func (s *Store) PlaceOrder(ctx context.Context, userID, productID string) (order.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return order.Order{}, err
	}
	defer tx.Rollback()

	var price float64
	err = tx.QueryRowContext(ctx, `
		SELECT price FROM store_products WHERE id = $1
	`, productID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, fmt.Errorf("product %s: %w", productID, storage.ErrNotFound)
	}
	if err != nil {
		return order.Order{}, err
	}

	var stockID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM store_stock
		WHERE product_id = $1 AND sold = FALSE
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, productID).Scan(&stockID)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, fmt.Errorf("product %s: %w", productID, storage.ErrOutOfStock)
	}
	if err != nil {
		return order.Order{}, err
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE store_users
		SET balance = balance - $2, updated_at = $3
		WHERE id = $1 AND balance >= $2
	`, userID, price, now)
	if err != nil {
		return order.Order{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM store_users WHERE id = $1)
		`, userID).Scan(&exists); err != nil {
			return order.Order{}, err
		}
		if !exists {
			return order.Order{}, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
		}
		return order.Order{}, fmt.Errorf("user %s: %w", userID, storage.ErrInsufficientBalance)
	}

	o := order.Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		ProductID:   productID,
		StockItemID: stockID,
		Status:      order.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO store_orders (id, user_id, product_id, stock_item_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.ID, o.UserID, o.ProductID, o.StockItemID, o.Status, o.CreatedAt, o.UpdatedAt); err != nil {
		return order.Order{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE store_stock SET sold = TRUE, order_id = $2 WHERE id = $1
	`, stockID, o.ID); err != nil {
		return order.Order{}, err
	}

	if err := tx.Commit(); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

func (s *Store) UpdateOrder(ctx context.Context, o order.Order) (order.Order, error) {
	o.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE store_orders
		SET link_method = $2, customer_id = $3, customer_pass = $4, status = $5, updated_at = $6
		WHERE id = $1
	`, o.ID, o.LinkMethod, o.CustomerID, o.CustomerPass, o.Status, o.UpdatedAt)
	if err != nil {
		return order.Order{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return order.Order{}, fmt.Errorf("order %s: %w", o.ID, storage.ErrNotFound)
	}
	return s.GetOrder(ctx, o.ID)
}

func (s *Store) GetOrder(ctx context.Context, id string) (order.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, product_id, stock_item_id,
		       COALESCE(link_method, ''), COALESCE(customer_id, ''), COALESCE(customer_pass, ''),
		       status, created_at, updated_at
		FROM store_orders
		WHERE id = $1
	`, id)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, fmt.Errorf("order %s: %w", id, storage.ErrNotFound)
	}
	return o, err
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]order.Order, error) {
	return s.listOrders(ctx, `WHERE user_id = $1`, userID)
}

func (s *Store) ListOrdersByStatus(ctx context.Context, status order.Status) ([]order.Order, error) {
	if status == "" {
		return s.listOrders(ctx, "")
	}
	return s.listOrders(ctx, `WHERE status = $1`, string(status))
}

func (s *Store) listOrders(ctx context.Context, where string, args ...any) ([]order.Order, error) {
	query := `
		SELECT id, user_id, product_id, stock_item_id,
		       COALESCE(link_method, ''), COALESCE(customer_id, ''), COALESCE(customer_pass, ''),
		       status, created_at, updated_at
		FROM store_orders
	`
	if where != "" {
		query += " " + where
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (s *Store) CountOrdersByStatus(ctx context.Context) (map[order.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM store_orders GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[order.Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[order.Status(status)] = count
	}
	return counts, rows.Err()
}

func scanOrder(row rowScanner) (order.Order, error) {
	var o order.Order
	err := row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.StockItemID,
		&o.LinkMethod, &o.CustomerID, &o.CustomerPass,
		&o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// --- TopUpStore -------------------------------------------------------------

func (s *Store) CreateTopUp(ctx context.Context, t topup.TopUp) (topup.TopUp, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Method == "" {
		t.Method = topup.MethodTrueMoneyAngpao
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_topups (id, user_id, amount, method, reference_code, owner_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.UserID, t.Amount, t.Method, t.ReferenceCode, t.OwnerName, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return topup.TopUp{}, fmt.Errorf("voucher %s: %w", t.ReferenceCode, storage.ErrDuplicate)
		}
		return topup.TopUp{}, err
	}
	return t, nil
}

func (s *Store) UpdateTopUp(ctx context.Context, t topup.TopUp) (topup.TopUp, error) {
	t.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE store_topups
		SET amount = $2, owner_name = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, t.ID, t.Amount, t.OwnerName, t.Status, t.UpdatedAt)
	if err != nil {
		return topup.TopUp{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return topup.TopUp{}, fmt.Errorf("topup %s: %w", t.ID, storage.ErrNotFound)
	}
	return s.GetTopUp(ctx, t.ID)
}

func (s *Store) GetTopUp(ctx context.Context, id string) (topup.TopUp, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount, method, reference_code, owner_name, status, created_at, updated_at
		FROM store_topups
		WHERE id = $1
	`, id)

	t, err := scanTopUp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return topup.TopUp{}, fmt.Errorf("topup %s: %w", id, storage.ErrNotFound)
	}
	return t, err
}

func (s *Store) GetTopUpByReference(ctx context.Context, code string) (topup.TopUp, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount, method, reference_code, owner_name, status, created_at, updated_at
		FROM store_topups
		WHERE reference_code = $1
	`, code)

	t, err := scanTopUp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return topup.TopUp{}, fmt.Errorf("voucher %s: %w", code, storage.ErrNotFound)
	}
	return t, err
}

func (s *Store) ListTopUpsByUser(ctx context.Context, userID string) ([]topup.TopUp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, method, reference_code, owner_name, status, created_at, updated_at
		FROM store_topups
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []topup.TopUp
	for rows.Next() {
		t, err := scanTopUp(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) ListPendingTopUps(ctx context.Context, olderThan time.Time) ([]topup.TopUp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, method, reference_code, owner_name, status, created_at, updated_at
		FROM store_topups
		WHERE status = $1 AND created_at < $2
	`, topup.StatusPending, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []topup.TopUp
	for rows.Next() {
		t, err := scanTopUp(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func scanTopUp(row rowScanner) (topup.TopUp, error) {
	var t topup.TopUp
	err := row.Scan(&t.ID, &t.UserID, &t.Amount, &t.Method, &t.ReferenceCode, &t.OwnerName, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}
