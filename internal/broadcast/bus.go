// Package broadcast implements the broadcast bus: a capped ring of recent
// messages plus a set of per-subscriber mailboxes, used for maintenance
// announcements and other global messages.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/bloxon/controlplane/internal/agent"
	"github.com/bloxon/controlplane/internal/agentclient"
	"github.com/bloxon/controlplane/internal/events"
	"github.com/bloxon/controlplane/internal/registry"
	"github.com/bloxon/controlplane/pkg/logger"
)

const ringCapacity = 100
const mailboxCapacity = 32

// Message is one ring entry.
type Message struct {
	ID         int64                  `json:"id"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	At         time.Time              `json:"at"`
}

// Bus holds the ring and the subscriber mailboxes.
type Bus struct {
	mu        sync.RWMutex
	ring      []Message
	nextID    int64
	mailboxes map[int64]chan Message
	nextSubID int64

	local  *agent.ProcessManager
	remote *agentclient.Client
	reg    *registry.Registry
}

// New constructs a broadcast bus. local/remote/reg are used only by the
// maintenance-mode global shutdown sweep.
func New(local *agent.ProcessManager, remote *agentclient.Client, reg *registry.Registry) *Bus {
	return &Bus{
		mailboxes: make(map[int64]chan Message),
		local:     local,
		remote:    remote,
		reg:       reg,
	}
}

// Add appends a message, evicting the oldest if the ring exceeds capacity,
// and best-effort delivers it to every subscriber mailbox.
func (b *Bus) Add(msgType string, properties map[string]interface{}) Message {
	b.mu.Lock()
	b.nextID++
	msg := Message{ID: b.nextID, Type: msgType, Properties: properties, At: time.Now()}
	b.ring = append(b.ring, msg)
	if len(b.ring) > ringCapacity {
		b.ring = b.ring[len(b.ring)-ringCapacity:]
	}

	var deadSubs []int64
	for id, mailbox := range b.mailboxes {
		select {
		case mailbox <- msg:
		default:
			deadSubs = append(deadSubs, id)
		}
	}
	for _, id := range deadSubs {
		close(b.mailboxes[id])
		delete(b.mailboxes, id)
	}
	b.mu.Unlock()

	return msg
}

// Pull returns every message with id greater than cursor.
func (b *Bus) Pull(cursor int64) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Message
	for _, m := range b.ring {
		if m.ID > cursor {
			out = append(out, m)
		}
	}
	return out
}

// Subscribe opens a new mailbox and returns it plus an unsubscribe func.
// The streaming surface (a gorilla/websocket upgrade in the Front Adapter)
// blocks reading from the returned channel until it closes.
func (b *Bus) Subscribe() (<-chan Message, func()) {
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	mailbox := make(chan Message, mailboxCapacity)
	b.mailboxes[id] = mailbox
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if ch, ok := b.mailboxes[id]; ok {
			close(ch)
			delete(b.mailboxes, id)
		}
		b.mu.Unlock()
	}
	return mailbox, unsubscribe
}

// EnterMaintenance appends a maintenance message and schedules the delayed
// global shutdown sweep.
func (b *Bus) EnterMaintenance(delay time.Duration) {
	b.Add("maintenance_entered", map[string]interface{}{"shutdown_in_seconds": delay.Seconds()})
	events.GetEventBus().Publish(events.Event{
		Type:   events.EventMaintenanceEntered,
		Source: "broadcast",
		Data:   map[string]interface{}{"shutdown_in_seconds": delay.Seconds()},
	})
	logger.Info("maintenance mode entered, global shutdown scheduled", map[string]interface{}{"delay": delay.String()})

	time.AfterFunc(delay, func() {
		b.globalShutdown()
	})
}

// globalShutdown graceful-stops every local server and every non-master
// host registered with the control plane.
func (b *Bus) globalShutdown() {
	logger.Info("maintenance sweep: stopping all servers", nil)
	if b.local != nil {
		b.local.StopAll(true)
	}

	if b.reg == nil || b.remote == nil {
		return
	}

	var remoteHosts []*registry.Host
	b.reg.WithRLock(func(hosts map[string]*registry.Host) {
		for _, h := range hosts {
			if !h.IsMaster {
				remoteHosts = append(remoteHosts, h)
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, h := range remoteHosts {
		baseURL := "http://" + h.Address + ":8081"
		if err := b.remote.Shutdown(ctx, baseURL); err != nil {
			logger.Warn("maintenance sweep: remote shutdown failed", map[string]interface{}{"host_id": h.ID, "error": err.Error()})
		}
	}
}
