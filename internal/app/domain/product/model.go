package product

import "time"

// Product is a sellable listing. The credentials actually delivered to a
// buyer live in StockItem records; a product is sold out once every stock
// item is assigned to an order.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	ImagePath   string    `json:"image_path"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StockItem is one sellable game account: a preference XML file holding the
// account credentials. An item is assigned to at most one order, ever.
type StockItem struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"product_id"`
	CredentialFile string    `json:"credential_file"`
	Sold           bool      `json:"sold"`
	OrderID        string    `json:"order_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
