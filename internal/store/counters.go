package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EventTicketDelta compares a provider's current sold-ticket total for an
// event against the last total seen and returns how many tickets are new.
// The stored counter advances to the current total in the same call, so each
// sale is counted once across repeated syncs. A total lower than the stored
// one (refunds, provider resets) yields a zero delta rather than a negative.
func (s *Store) EventTicketDelta(ctx context.Context, source, eventKey string, currentTotal int) (int, error) {
	var stored int
	err := s.db.QueryRowContext(ctx, `
		SELECT tickets_sold FROM event_counters
		WHERE source = $1 AND event_key = $2`, source, eventKey).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		stored = 0
	case err != nil:
		return 0, fmt.Errorf("query event counter: %w", err)
	}

	delta := currentTotal - stored
	if delta < 0 {
		delta = 0
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO event_counters (source, event_key, tickets_sold)
		VALUES ($1, $2, $3)
		ON CONFLICT (source, event_key) DO UPDATE SET
			tickets_sold = EXCLUDED.tickets_sold, updated_at = NOW()`,
		source, eventKey, currentTotal)
	if err != nil {
		return 0, fmt.Errorf("upsert event counter: %w", err)
	}
	return delta, nil
}

// IsEmailProcessed reports whether a mailbox message id has already been
// ingested.
func (s *Store) IsEmailProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM processed_emails WHERE message_id = $1)`,
		messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query processed email: %w", err)
	}
	return exists, nil
}

// MarkEmailProcessed records a mailbox message id as ingested. Replays of the
// same id are harmless.
func (s *Store) MarkEmailProcessed(ctx context.Context, messageID, source string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_emails (message_id, source)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING`,
		messageID, source)
	if err != nil {
		return fmt.Errorf("mark email processed: %w", err)
	}
	return nil
}
