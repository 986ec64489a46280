package events

import (
	"encoding/json"

	"github.com/bloxon/controlplane/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DatabaseEventStorage mirrors published events into Postgres.
type DatabaseEventStorage struct {
	db *gorm.DB
}

func NewDatabaseEventStorage(db *gorm.DB) *DatabaseEventStorage {
	return &DatabaseEventStorage{db: db}
}

// Store saves an event to the database
func (s *DatabaseEventStorage) Store(event Event) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}

	systemEvent := &models.SystemEvent{
		EventID:   event.ID,
		Type:      string(event.Type),
		Timestamp: event.Timestamp,
		Source:    event.Source,
		HostID:    event.HostID,
		ServerUID: event.ServerUID,
		UserID:    event.UserID,
		Data:      datatypes.JSON(dataJSON),
	}

	return s.db.Create(systemEvent).Error
}

// Query retrieves events based on filters
func (s *DatabaseEventStorage) Query(filters EventFilters) ([]Event, error) {
	query := s.db.Model(&models.SystemEvent{})

	if len(filters.Types) > 0 {
		types := make([]string, len(filters.Types))
		for i, t := range filters.Types {
			types[i] = string(t)
		}
		query = query.Where("type IN ?", types)
	}

	if filters.HostID != "" {
		query = query.Where("host_id = ?", filters.HostID)
	}

	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}

	if !filters.StartTime.IsZero() {
		query = query.Where("timestamp >= ?", filters.StartTime)
	}

	if !filters.EndTime.IsZero() {
		query = query.Where("timestamp <= ?", filters.EndTime)
	}

	query = query.Order("timestamp DESC")

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(1000)
	}

	var systemEvents []models.SystemEvent
	if err := query.Find(&systemEvents).Error; err != nil {
		return nil, err
	}

	out := make([]Event, len(systemEvents))
	for i, se := range systemEvents {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(se.Data), &data); err != nil {
			data = make(map[string]interface{})
		}

		out[i] = Event{
			ID:        se.EventID,
			Type:      EventType(se.Type),
			Timestamp: se.Timestamp,
			Source:    se.Source,
			HostID:    se.HostID,
			ServerUID: se.ServerUID,
			UserID:    se.UserID,
			Data:      data,
		}
	}

	return out, nil
}
