package playerdata

import (
	"context"
	"errors"
	"time"

	"github.com/bloxon/controlplane/internal/repository"
)

// ErrInsufficientFunds surfaces repository.ErrInsufficientFunds without
// leaking the repository package into callers that only know this Store
// interface (the matchmaker maps it to coreerr.KindInsufficientFunds).
var ErrInsufficientFunds = errors.New("insufficient currency balance")

// GormStore is the production Store backed by the player_data table.
type GormStore struct {
	repo *repository.PlayerRepository
}

var _ Store = (*GormStore)(nil)

func NewGormStore(repo *repository.PlayerRepository) *GormStore {
	return &GormStore{repo: repo}
}

func (s *GormStore) GetBinding(ctx context.Context, userID string) (Binding, error) {
	pd, err := s.repo.FindByUserID(userID)
	if err != nil {
		return Binding{}, err
	}
	if pd == nil {
		return Binding{UserID: userID}, nil
	}
	return Binding{
		UserID:               pd.UserID,
		ServerUID:            pd.ServerUID,
		PrivateServerActive:  pd.PrivateServerActive,
		PrivateServerExpires: pd.PrivateServerExpires,
	}, nil
}

func (s *GormStore) SetBinding(ctx context.Context, userID, serverUID string) error {
	return s.repo.SetServerBinding(userID, serverUID)
}

func (s *GormStore) ClearServerBinding(uid string) error {
	return s.repo.ClearServerBinding(uid)
}

func (s *GormStore) SetPrivateServerActive(ctx context.Context, userID string, active bool, expires time.Time) error {
	return s.repo.SetPrivateServerActive(userID, active, expires)
}

func (s *GormStore) DebitCurrency(ctx context.Context, userID string, amount int64) error {
	if err := s.repo.DebitCurrency(userID, amount); err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			return ErrInsufficientFunds
		}
		return err
	}
	return nil
}
