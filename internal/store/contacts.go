package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"guestlist/internal/guest"
)

const contactColumns = `id, identity_key, venue, show_date, show_datetime, email, source,
	show_time, ticket_type, first_name, last_name, tickets, phone, extra,
	added_to_mailing_list, mailing_list_synced_at, created_at, updated_at`

// ContactByIdentity fetches the contact carrying the given identity key.
func (s *Store) ContactByIdentity(ctx context.Context, identityKey string) (*guest.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE identity_key = $1`

	row := s.db.QueryRowContext(ctx, query, identityKey)
	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query contact by identity: %w", err)
	}
	return contact, nil
}

// InsertContact persists a new contact. A concurrent writer may have claimed
// the identity key between the caller's lookup and this insert, so the insert
// folds into an update in that case instead of failing. The JSONB append on
// extra keeps stored provider fields that the racing row did not carry.
func (s *Store) InsertContact(ctx context.Context, c *guest.Contact) error {
	extra, err := json.Marshal(c.Extra)
	if err != nil {
		return fmt.Errorf("marshal contact extra: %w", err)
	}

	query := `
		INSERT INTO contacts (
			identity_key, venue, show_date, show_datetime, email, source,
			show_time, ticket_type, first_name, last_name, tickets, phone, extra,
			added_to_mailing_list
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (identity_key) DO UPDATE SET
			tickets = EXCLUDED.tickets,
			ticket_type = EXCLUDED.ticket_type,
			show_time = EXCLUDED.show_time,
			email = COALESCE(NULLIF(EXCLUDED.email, ''), contacts.email),
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), contacts.phone),
			first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), contacts.first_name),
			last_name = COALESCE(NULLIF(EXCLUDED.last_name, ''), contacts.last_name),
			extra = contacts.extra || EXCLUDED.extra,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err = s.db.QueryRowContext(ctx, query,
		c.IdentityKey, c.Venue, c.ShowDate, nullableTime(c.ShowDateTime), c.Email, c.Source,
		c.ShowTime, c.TicketType, c.FirstName, c.LastName, c.Tickets, c.Phone, extra,
		c.AddedToMailingList,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

// UpdateContact rewrites an existing contact after the dedup engine has merged
// the incoming record into it.
func (s *Store) UpdateContact(ctx context.Context, c *guest.Contact) error {
	extra, err := json.Marshal(c.Extra)
	if err != nil {
		return fmt.Errorf("marshal contact extra: %w", err)
	}

	query := `
		UPDATE contacts
		SET venue = $1, show_date = $2, show_datetime = $3, email = $4,
			source = $5, show_time = $6, ticket_type = $7, first_name = $8,
			last_name = $9, tickets = $10, phone = $11, extra = $12,
			updated_at = NOW()
		WHERE id = $13`

	result, err := s.db.ExecContext(ctx, query,
		c.Venue, c.ShowDate, nullableTime(c.ShowDateTime), c.Email,
		c.Source, c.ShowTime, c.TicketType, c.FirstName,
		c.LastName, c.Tickets, c.Phone, extra,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update contact rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ContactsByShow returns every contact for one venue and show-date string,
// ordered by last name for stable guest-list output.
func (s *Store) ContactsByShow(ctx context.Context, venue, showDate string) ([]guest.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE venue = $1 AND show_date = $2
		ORDER BY last_name, first_name, id`

	rows, err := s.db.QueryContext(ctx, query, venue, showDate)
	if err != nil {
		return nil, fmt.Errorf("query contacts by show: %w", err)
	}
	defer rows.Close()

	var contacts []guest.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, *contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

// ShowsForVenue lists the distinct shows at a venue whose timestamp falls
// inside the recent window, newest first. Shows whose date never parsed have
// no timestamp and are excluded; they remain reachable through their guest
// lists by exact date string.
func (s *Store) ShowsForVenue(ctx context.Context, venue string, since time.Time) ([]guest.Show, error) {
	query := `
		SELECT venue, show_date, show_datetime
		FROM contacts
		WHERE venue = $1 AND show_datetime IS NOT NULL AND show_datetime >= $2
		GROUP BY venue, show_date, show_datetime
		ORDER BY show_datetime DESC`

	rows, err := s.db.QueryContext(ctx, query, venue, since)
	if err != nil {
		return nil, fmt.Errorf("query shows for venue: %w", err)
	}
	defer rows.Close()

	var shows []guest.Show
	for rows.Next() {
		var show guest.Show
		if err := rows.Scan(&show.Venue, &show.ShowDate, &show.ShowDateTime); err != nil {
			return nil, fmt.Errorf("scan show: %w", err)
		}
		shows = append(shows, show)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shows: %w", err)
	}
	return shows, nil
}

// MarkMailingListSynced flags the given contacts as pushed to the mailing
// list and stamps the sync time.
func (s *Store) MarkMailingListSynced(ctx context.Context, ids []int64, syncedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE contacts
		SET added_to_mailing_list = TRUE, mailing_list_synced_at = $1, updated_at = NOW()
		WHERE id = ANY($2)`

	if _, err := s.db.ExecContext(ctx, query, syncedAt, pq.Array(ids)); err != nil {
		return fmt.Errorf("mark mailing list synced: %w", err)
	}
	return nil
}

// UnsyncedMailingListContacts returns contacts with an email address that
// have not been pushed to the mailing list yet.
func (s *Store) UnsyncedMailingListContacts(ctx context.Context, limit int) ([]guest.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE NOT added_to_mailing_list AND email <> ''
		ORDER BY id
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsynced contacts: %w", err)
	}
	defer rows.Close()

	var contacts []guest.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, *contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*guest.Contact, error) {
	var (
		c            guest.Contact
		showDateTime sql.NullTime
		syncedAt     sql.NullTime
		extra        []byte
	)
	err := row.Scan(
		&c.ID, &c.IdentityKey, &c.Venue, &c.ShowDate, &showDateTime, &c.Email, &c.Source,
		&c.ShowTime, &c.TicketType, &c.FirstName, &c.LastName, &c.Tickets, &c.Phone, &extra,
		&c.AddedToMailingList, &syncedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if showDateTime.Valid {
		t := showDateTime.Time
		c.ShowDateTime = &t
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		c.MailingListSyncedAt = &t
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &c.Extra); err != nil {
			return nil, fmt.Errorf("unmarshal contact extra: %w", err)
		}
	}
	return &c, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
