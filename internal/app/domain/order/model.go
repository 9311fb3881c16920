package order

import (
	"fmt"
	"strings"
	"time"
)

// Status tracks an order through fulfilment.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
)

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusProcessing, StatusDone:
		return s, nil
	}
	return "", fmt.Errorf("unknown order status %q", raw)
}

// LinkMethod is the login provider used to bind the sold account to the
// buyer's identity.
type LinkMethod string

const (
	LinkGoogle LinkMethod = "google"
	LinkLine   LinkMethod = "line"
)

// ParseLinkMethod validates a raw link method value.
func ParseLinkMethod(raw string) (LinkMethod, error) {
	m := LinkMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch m {
	case LinkGoogle, LinkLine:
		return m, nil
	}
	return "", fmt.Errorf("unknown link method %q", raw)
}

// Order is a purchase of a single stock item. Link credentials are supplied
// by the buyer after purchase and consumed by the device automation step.
type Order struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	ProductID   string `json:"product_id"`
	StockItemID string `json:"stock_item_id"`

	LinkMethod   LinkMethod `json:"link_method,omitempty"`
	CustomerID   string     `json:"customer_id,omitempty"`
	CustomerPass string     `json:"-"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCredentials reports whether the buyer has submitted link credentials.
func (o Order) HasCredentials() bool {
	return o.LinkMethod != "" && o.CustomerID != "" && o.CustomerPass != ""
}
