// Package playerdata defines the player-data collaborator the matchmaker
// and host registry depend on, and a GORM-backed implementation over the
// persisted player_data table.
package playerdata

import (
	"context"
	"time"
)

// Binding is a user's current server assignment, the subset of player_data
// the matchmaker reads and writes.
type Binding struct {
	UserID               string
	ServerUID            string
	PrivateServerActive  bool
	PrivateServerExpires time.Time
}

// Store is the scoped player-data contract the control plane's matchmaking
// and registry-reaping paths need. It intentionally exposes far less than
// the full persisted schema (friends, accessories, purchases, datastores
// are out of the matchmaker's concern and live behind their own repository
// in internal/repository).
type Store interface {
	// GetBinding returns the user's current binding, zero-value if none.
	GetBinding(ctx context.Context, userID string) (Binding, error)

	// SetBinding durably assigns a user to a server uid. Callers must wrap
	// this in the save barrier's Start/Complete pair.
	SetBinding(ctx context.Context, userID, serverUID string) error

	// ClearServerBinding clears every binding pointing at uid. Implements
	// registry.BindingClearer so the registry can depend on it as an
	// interface without importing this package.
	ClearServerBinding(uid string) error

	// SetPrivateServerActive marks/unmarks a user's private-server flag and
	// expiry, used by subscribe/cancel.
	SetPrivateServerActive(ctx context.Context, userID string, active bool, expires time.Time) error

	// DebitCurrency atomically debits amount from the user's balance,
	// returning insufficient_funds-shaped failure via coreerr at the
	// caller if balance < amount.
	DebitCurrency(ctx context.Context, userID string, amount int64) error
}
