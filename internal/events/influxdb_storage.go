package events

import (
	"context"

	"github.com/bloxon/controlplane/internal/storage"
)

// InfluxDBEventStorage mirrors published events into InfluxDB for
// time-series analytics.
type InfluxDBEventStorage struct {
	client *storage.InfluxDBClient
}

func NewInfluxDBEventStorage(client *storage.InfluxDBClient) *InfluxDBEventStorage {
	return &InfluxDBEventStorage{client: client}
}

func (s *InfluxDBEventStorage) Store(event Event) error {
	eventData := storage.EventData{
		ID:        event.ID,
		Type:      string(event.Type),
		Timestamp: event.Timestamp,
		Source:    event.Source,
		HostID:    event.HostID,
		ServerUID: event.ServerUID,
		UserID:    event.UserID,
		Data:      event.Data,
	}
	return s.client.WriteEvent(eventData)
}

func (s *InfluxDBEventStorage) Query(filters EventFilters) ([]Event, error) {
	storageFilters := storage.EventFilters{
		Types:     make([]string, len(filters.Types)),
		HostID:    filters.HostID,
		UserID:    filters.UserID,
		StartTime: filters.StartTime,
		EndTime:   filters.EndTime,
		Limit:     filters.Limit,
	}
	for i, t := range filters.Types {
		storageFilters.Types[i] = string(t)
	}

	ctx := context.Background()
	storageEvents, err := s.client.QueryEvents(ctx, storageFilters)
	if err != nil {
		return nil, err
	}

	out := make([]Event, len(storageEvents))
	for i, se := range storageEvents {
		out[i] = Event{
			ID:        se.ID,
			Type:      EventType(se.Type),
			Timestamp: se.Timestamp,
			Source:    se.Source,
			HostID:    se.HostID,
			ServerUID: se.ServerUID,
			UserID:    se.UserID,
			Data:      se.Data,
		}
	}

	return out, nil
}
