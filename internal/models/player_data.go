package models

import (
	"time"

	"gorm.io/gorm"
)

// PlayerData is the persisted row behind the playerdata.Store contract: the
// subset of the account's state the matchmaking and registry-reaping paths
// touch directly. The account itself, its session tokens, friends list,
// accessories, and purchase history live behind the external
// account/currency services and are never persisted here.
type PlayerData struct {
	gorm.Model
	UserID               string    `gorm:"uniqueIndex;size:255" json:"user_id"`
	ServerUID            string    `gorm:"index;size:255" json:"server_uid,omitempty"`
	PrivateServerActive  bool      `gorm:"index" json:"private_server_active"`
	PrivateServerExpires time.Time `json:"private_server_expires,omitempty"`
	Currency             int64     `json:"currency"`
}

func (PlayerData) TableName() string {
	return "player_data"
}
