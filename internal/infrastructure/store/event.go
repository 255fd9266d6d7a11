package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/agrilink/marketplace/internal/domain/order"
	"github.com/google/uuid"
)

// Event is an outbox row as relayed to Kafka
type Event struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewEvent encodes a domain event for the outbox
func NewEvent(ev order.Event, at time.Time) (Event, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:            uuid.New().String(),
		AggregateID:   ev.OrderID,
		AggregateType: order.AggregateType,
		EventType:     ev.Type,
		Data:          data,
		Timestamp:     at,
	}, nil
}

// appendEvent writes ev to the outbox inside tx
func appendEvent(ctx context.Context, tx *sql.Tx, ev order.Event, at time.Time) error {
	e, err := NewEvent(ev, at)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.AggregateID, e.AggregateType, e.EventType, []byte(e.Data), e.Timestamp,
	)
	if err != nil {
		return persistenceError(err)
	}
	return nil
}
