package topup

import "time"

// Status of a balance top-up.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusExpired Status = "expired"
)

// MethodTrueMoneyAngpao is the voucher-link redemption channel.
const MethodTrueMoneyAngpao = "tw_angpao"

// TopUp records a single balance credit attempt. ReferenceCode is the
// redeemed voucher code and may be credited at most once across all users.
type TopUp struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Amount        float64   `json:"amount"`
	Method        string    `json:"method"`
	ReferenceCode string    `json:"reference_code"`
	OwnerName     string    `json:"owner_name"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
