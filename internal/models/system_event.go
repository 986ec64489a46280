package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SystemEvent is the durable row for a published domain event (events.Event
// mirrored to Postgres), read back by the event storage's Query for audit
// queries.
type SystemEvent struct {
	gorm.Model
	EventID   string         `gorm:"uniqueIndex;size:255" json:"event_id"`
	Type      string         `gorm:"index;size:100" json:"type"`
	Timestamp time.Time      `gorm:"index" json:"timestamp"`
	Source    string         `gorm:"size:100" json:"source"`
	HostID    string         `gorm:"index;size:255" json:"host_id,omitempty"`
	ServerUID string         `gorm:"index;size:255" json:"server_uid,omitempty"`
	UserID    string         `gorm:"index;size:255" json:"user_id,omitempty"`
	Data      datatypes.JSON `gorm:"type:jsonb" json:"data"`
}

func (SystemEvent) TableName() string {
	return "system_events"
}
