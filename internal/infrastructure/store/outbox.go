package store

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// Publisher delivers a relayed event. kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// OutboxRelay publishes events written by the order store to Kafka in
// commit order, marking them published afterwards. Delivery is
// at-least-once: a crash between publish and mark re-sends the event.
type OutboxRelay struct {
	db        *sql.DB
	publisher Publisher
	interval  time.Duration
	batchSize int
}

func NewOutboxRelay(db *sql.DB, publisher Publisher, interval time.Duration) *OutboxRelay {
	return &OutboxRelay{
		db:        db,
		publisher: publisher,
		interval:  interval,
		batchSize: 100,
	}
}

// Run relays pending events every interval until ctx is cancelled
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Printf("[Outbox] Relay started (interval=%s)", r.interval)

	for {
		select {
		case <-ctx.Done():
			log.Println("[Outbox] Relay stopped")
			return
		case <-ticker.C:
			for {
				n, err := r.RelayOnce(ctx)
				if err != nil {
					log.Printf("[Outbox] Relay failed: %v", err)
					break
				}
				if n < r.batchSize {
					break
				}
			}
		}
	}
}

// RelayOnce publishes up to one batch of unpublished events and returns how
// many were published. Rows are locked with SKIP LOCKED so several relays
// can run side by side.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT seq, id, aggregate_id, aggregate_type, event_type, data, created_at
			FROM events
			WHERE published_at IS NULL
			ORDER BY seq
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, r.batchSize)
		if err != nil {
			return persistenceError(err)
		}

		var events []Event
		for rows.Next() {
			var e Event
			var data []byte
			if err := rows.Scan(&e.Seq, &e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &data, &e.Timestamp); err != nil {
				rows.Close()
				return persistenceError(err)
			}
			e.Data = data
			events = append(events, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return persistenceError(err)
		}

		for _, e := range events {
			if err := r.publisher.Publish(ctx, e.AggregateID, e); err != nil {
				log.Printf("[Outbox] Failed to publish %s (%s) for %s: %v", e.EventType, e.ID, e.AggregateID, err)
				break
			}
			if _, err := tx.ExecContext(ctx, `UPDATE events SET published_at = NOW() WHERE seq = $1`, e.Seq); err != nil {
				return persistenceError(err)
			}
			published++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, nil
}
