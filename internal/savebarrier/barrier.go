// Package savebarrier tracks in-flight player-data writes as a counted set
// that gates shutdown. One instance runs in the control plane and one runs
// inside each worker agent process.
package savebarrier

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bloxon/controlplane/internal/metrics"
	"github.com/bloxon/controlplane/pkg/logger"
)

// Status is the terminal state of a pending save.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// pendingSave is one in-flight write.
type pendingSave struct {
	SaveID    string
	UserID    string
	Operation string
	StartedAt time.Time
	Status    Status
}

// Barrier tracks outstanding writes and lets shutdown paths wait for them
// to drain. Its pending-set is guarded by its own lock, independent of the
// host registry's.
type Barrier struct {
	mu         sync.Mutex
	pending    map[string]*pendingSave
	staleAfter time.Duration

	stopJanitor chan struct{}
}

// New constructs a save barrier. The janitor force-removes records older
// than staleAfter with a warning.
func New(staleAfter time.Duration) *Barrier {
	return &Barrier{
		pending:     make(map[string]*pendingSave),
		staleAfter:  staleAfter,
		stopJanitor: make(chan struct{}),
	}
}

// Start begins a new tracked write and returns its save id, formatted as
// "{user_id}_{operation}_{uuid8}".
func (b *Barrier) Start(userID, operation string) string {
	saveID := fmt.Sprintf("%s_%s_%s", userID, operation, uuid.NewString()[:8])

	b.mu.Lock()
	b.pending[saveID] = &pendingSave{
		SaveID:    saveID,
		UserID:    userID,
		Operation: operation,
		StartedAt: time.Now(),
		Status:    StatusPending,
	}
	b.mu.Unlock()
	metrics.PendingSaveCount.Set(float64(len(b.Pending())))

	return saveID
}

// Complete marks a save terminal. The record is not removed immediately:
// it is dropped one second later, so a WaitAll caller racing the
// completion still observes it briefly as terminal rather than silently
// vanishing mid-poll. The delay is a timer rather than a blocking sleep so
// this call never holds the lock while waiting.
func (b *Barrier) Complete(saveID string, success bool) {
	b.mu.Lock()
	save, ok := b.pending[saveID]
	if !ok {
		b.mu.Unlock()
		return
	}
	if success {
		save.Status = StatusComplete
	} else {
		save.Status = StatusFailed
	}
	b.mu.Unlock()

	time.AfterFunc(1*time.Second, func() {
		b.mu.Lock()
		delete(b.pending, saveID)
		b.mu.Unlock()
		metrics.PendingSaveCount.Set(float64(len(b.Pending())))
	})
}

// Pending returns the set of save ids still in flight (status == pending).
func (b *Barrier) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.pending))
	for id, s := range b.pending {
		if s.Status == StatusPending {
			ids = append(ids, id)
		}
	}
	return ids
}

// WaitAll blocks until the pending set is empty or timeout elapses,
// returning true iff it drained in time.
func (b *Barrier) WaitAll(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if len(b.Pending()) == 0 {
			return true
		}
		if time.Now().After(deadline) {
			logger.Warn("save barrier wait_all timed out with saves still pending", map[string]interface{}{
				"pending": b.Pending(),
			})
			return false
		}
		<-ticker.C
	}
}

// StartJanitor launches the background sweep that force-removes pending
// records older than staleAfter, logging a warning for each. Call Stop to
// terminate it on process shutdown.
func (b *Barrier) StartJanitor() {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-b.stopJanitor:
				return
			case <-ticker.C:
				b.sweepStale()
			}
		}
	}()
}

func (b *Barrier) sweepStale() {
	cutoff := time.Now().Add(-b.staleAfter)

	b.mu.Lock()
	var stale []string
	for id, s := range b.pending {
		if s.Status == StatusPending && s.StartedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	for _, id := range stale {
		logger.Warn("save barrier janitor force-removed stale pending save", map[string]interface{}{"save_id": id})
	}
}

// Stop terminates the janitor goroutine.
func (b *Barrier) Stop() {
	close(b.stopJanitor)
}
