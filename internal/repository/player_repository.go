package repository

import (
	"errors"
	"time"

	"github.com/bloxon/controlplane/internal/models"
	"gorm.io/gorm"
)

// PlayerRepository wraps GORM access to the player_data table.
type PlayerRepository struct {
	db *gorm.DB
}

func NewPlayerRepository(db *gorm.DB) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// FindByUserID returns the row for userID, or nil if none exists yet.
func (r *PlayerRepository) FindByUserID(userID string) (*models.PlayerData, error) {
	var pd models.PlayerData
	err := r.db.Where("user_id = ?", userID).First(&pd).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pd, nil
}

// GetOrCreate returns the existing row for userID, creating an empty one on
// first contact.
func (r *PlayerRepository) GetOrCreate(userID string) (*models.PlayerData, error) {
	pd, err := r.FindByUserID(userID)
	if err != nil {
		return nil, err
	}
	if pd != nil {
		return pd, nil
	}

	pd = &models.PlayerData{UserID: userID}
	if err := r.db.Create(pd).Error; err != nil {
		return nil, err
	}
	return pd, nil
}

// SetServerBinding durably assigns userID to serverUID.
func (r *PlayerRepository) SetServerBinding(userID, serverUID string) error {
	pd, err := r.GetOrCreate(userID)
	if err != nil {
		return err
	}
	return r.db.Model(pd).Update("server_uid", serverUID).Error
}

// ClearServerBinding clears every row whose server_uid points at uid.
func (r *PlayerRepository) ClearServerBinding(uid string) error {
	return r.db.Model(&models.PlayerData{}).Where("server_uid = ?", uid).Update("server_uid", "").Error
}

// SetPrivateServerActive marks/unmarks the private-server flag and expiry.
func (r *PlayerRepository) SetPrivateServerActive(userID string, active bool, expires time.Time) error {
	pd, err := r.GetOrCreate(userID)
	if err != nil {
		return err
	}
	return r.db.Model(pd).Updates(map[string]interface{}{
		"private_server_active":  active,
		"private_server_expires": expires,
	}).Error
}

// DebitCurrency atomically decrements the balance, returning the sentinel
// ErrInsufficientFunds if the balance is too low for the update to match a
// row.
func (r *PlayerRepository) DebitCurrency(userID string, amount int64) error {
	if _, err := r.GetOrCreate(userID); err != nil {
		return err
	}

	res := r.db.Model(&models.PlayerData{}).
		Where("user_id = ? AND currency >= ?", userID, amount).
		Update("currency", gorm.Expr("currency - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// ErrInsufficientFunds is returned by DebitCurrency when the account's
// balance is below the requested amount.
var ErrInsufficientFunds = errors.New("insufficient currency balance")
