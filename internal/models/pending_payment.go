package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PendingPayment parks a currency purchase whose payment-provider
// verification has not yet succeeded, retried up to 5 times at >= 5-minute
// spacing. The verification loop itself lives in the payment service; this
// table is the durable parking lot it polls.
type PendingPayment struct {
	gorm.Model
	UserID        string            `gorm:"index;size:255" json:"user_id"`
	Amount        int64             `json:"amount"`
	Status        string            `gorm:"index;size:50" json:"status"` // pending, verified, failed
	Attempts      int               `json:"attempts"`
	LastAttemptAt time.Time         `json:"last_attempt_at,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
}

func (PendingPayment) TableName() string {
	return "pending_payments"
}
