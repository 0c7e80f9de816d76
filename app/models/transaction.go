package models

import "time"

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// Transaction records a payment initiation and its eventual outcome. The
// reference is generated locally before the provider is contacted and acts as
// the idempotency key for verification and webhook processing: the same
// reference must never drive a subscription transition twice.
type Transaction struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	Reference             string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_transactions_reference" json:"reference"`
	UserID                uint       `gorm:"not null;index" json:"user_id"`
	PlanID                string     `gorm:"type:varchar(50);not null" json:"plan_id"`
	Amount                int64      `gorm:"not null;default:0" json:"amount"`
	Status                string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ExternalTransactionID string     `gorm:"type:varchar(191);default:''" json:"external_transaction_id"`
	CreatedAt             time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	CompletedAt           *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
}

// IsTerminal reports whether the transaction reached a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted || t.Status == TransactionStatusFailed
}
