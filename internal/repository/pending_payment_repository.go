package repository

import (
	"time"

	"github.com/bloxon/controlplane/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// maxPaymentAttempts bounds the payment-verification retry loop this table
// backs.
const maxPaymentAttempts = 5

// PendingPaymentRepository wraps GORM access to the pending_payments table.
type PendingPaymentRepository struct {
	db *gorm.DB
}

func NewPendingPaymentRepository(db *gorm.DB) *PendingPaymentRepository {
	return &PendingPaymentRepository{db: db}
}

// Create parks a new unverified purchase.
func (r *PendingPaymentRepository) Create(userID string, amount int64, metadata map[string]interface{}) (*models.PendingPayment, error) {
	p := &models.PendingPayment{
		UserID:   userID,
		Amount:   amount,
		Status:   "pending",
		Metadata: datatypes.JSONMap(metadata),
	}
	if err := r.db.Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// DueForRetry returns pending payments whose last attempt is old enough and
// that have not yet exhausted their retry budget.
func (r *PendingPaymentRepository) DueForRetry(retryAfter time.Duration) ([]models.PendingPayment, error) {
	var out []models.PendingPayment
	cutoff := time.Now().Add(-retryAfter)
	err := r.db.Where("status = ? AND attempts < ? AND (last_attempt_at IS NULL OR last_attempt_at <= ?)",
		"pending", maxPaymentAttempts, cutoff).Find(&out).Error
	return out, err
}

// MarkAttempt records a verification attempt's outcome.
func (r *PendingPaymentRepository) MarkAttempt(id uint, verified bool) error {
	updates := map[string]interface{}{
		"attempts":        gorm.Expr("attempts + 1"),
		"last_attempt_at": time.Now(),
	}
	if verified {
		updates["status"] = "verified"
	}
	return r.db.Model(&models.PendingPayment{}).Where("id = ?", id).Updates(updates).Error
}
