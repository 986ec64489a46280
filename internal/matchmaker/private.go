package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bloxon/controlplane/internal/coreerr"
	"github.com/bloxon/controlplane/internal/playerdata"
	"github.com/bloxon/controlplane/internal/registry"
	"github.com/bloxon/controlplane/pkg/logger"
)

// privateServerPrice is the currency cost of a 30-day private server
// subscription.
const privateServerPrice = 500

const privateServerDuration = 30 * 24 * time.Hour

// privatePortFloor is where the private-server port allocator starts
// looking; the band above it keeps private servers clear of the public
// base-port range unless the band is exhausted (see allocatePrivatePort).
const privatePortFloor = 10000

// Subscribe debits currency, marks the player's private-server flag, and
// asks the master host's process manager to spawn the user's private
// server.
func (m *Matchmaker) Subscribe(ctx context.Context, userID string) (*Result, error) {
	if err := m.store.DebitCurrency(ctx, userID, privateServerPrice); err != nil {
		if errors.Is(err, playerdata.ErrInsufficientFunds) {
			return nil, coreerr.New(coreerr.KindInsufficientFunds, "balance is below the subscription price")
		}
		return nil, coreerr.Wrap(err, "failed to debit subscription price")
	}

	expires := time.Now().Add(privateServerDuration)
	if err := m.store.SetPrivateServerActive(ctx, userID, true, expires); err != nil {
		return nil, coreerr.Wrap(err, "failed to mark private server active")
	}

	uid := fmt.Sprintf("private_%s_%s", userID, m.masterHostID)
	port := m.allocatePrivatePort()

	spawnedUID, spawnedPort, err := m.local.SpawnServer(m.masterHostID, uid, port, userID)
	if err != nil {
		return nil, coreerr.New(coreerr.KindFailedToCreateHost, err.Error())
	}

	return &Result{UID: spawnedUID, Address: m.masterAddress, Port: spawnedPort, HostID: m.masterHostID, Private: true}, nil
}

// Cancel reverses a private-server subscription and stops the server
// gracefully.
func (m *Matchmaker) Cancel(ctx context.Context, userID string) error {
	if err := m.store.SetPrivateServerActive(ctx, userID, false, time.Time{}); err != nil {
		return coreerr.Wrap(err, "failed to clear private server flag")
	}

	uid := fmt.Sprintf("private_%s_%s", userID, m.masterHostID)
	if err := m.local.StopServer(uid, true); err != nil {
		logger.Warn("failed to stop private server on cancel", map[string]interface{}{"uid": uid, "error": err.Error()})
	}
	return nil
}

// allocatePrivatePort consults the master host's used-port set and returns
// the lowest free port at or above privatePortFloor, falling back to the
// host's ordinary base-port pool if that band is exhausted.
func (m *Matchmaker) allocatePrivatePort() int {
	var used map[int]bool
	m.reg.WithRLock(func(hosts map[string]*registry.Host) {
		if h, ok := hosts[m.masterHostID]; ok {
			used = h.UsedPorts()
		}
	})

	for p := privatePortFloor; p < privatePortFloor+1000; p++ {
		if !used[p] {
			return p
		}
	}

	for p := m.basePort; p < m.basePort+m.maxServersInMaster; p++ {
		if !used[p] {
			return p
		}
	}
	return 0 // SpawnServer allocates the next available port when given 0.
}
