package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"guestlist/internal/guest"
)

var contactRows = []string{
	"id", "identity_key", "venue", "show_date", "show_datetime", "email", "source",
	"show_time", "ticket_type", "first_name", "last_name", "tickets", "phone", "extra",
	"added_to_mailing_list", "mailing_list_synced_at", "created_at", "updated_at",
}

func TestContactByIdentity(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := New(db)
	now := time.Now()
	showTime := time.Date(2025, 12, 6, 21, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE identity_key = $1`)).
		WithArgs("txn:abc123").
		WillReturnRows(sqlmock.NewRows(contactRows).AddRow(
			int64(7), "txn:abc123", "Palace", "Saturday December 6th 9pm", showTime,
			"jane@example.com", "Squarespace", "9pm", "General Admission",
			"Jane", "Doe", 2, "", []byte(`{"transaction_id":"abc123","total_price":70}`),
			false, nil, now, now,
		))

	contact, err := s.ContactByIdentity(context.Background(), "txn:abc123")
	if err != nil {
		t.Fatalf("ContactByIdentity error: %v", err)
	}

	if contact.ID != 7 || contact.Venue != "Palace" || contact.Tickets != 2 {
		t.Fatalf("unexpected contact: %#v", contact)
	}
	if contact.Extra.TransactionID == nil || *contact.Extra.TransactionID != "abc123" {
		t.Fatalf("expected transaction id in extra, got %#v", contact.Extra)
	}
	if contact.Extra.TotalPrice == nil || *contact.Extra.TotalPrice != 70 {
		t.Fatalf("expected total price 70, got %#v", contact.Extra.TotalPrice)
	}
	if contact.ShowDateTime == nil || !contact.ShowDateTime.Equal(showTime) {
		t.Fatalf("expected show datetime %v, got %v", showTime, contact.ShowDateTime)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestContactByIdentityNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := New(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE identity_key = $1`)).
		WithArgs("order:missing").
		WillReturnError(sql.ErrNoRows)

	_, err = s.ContactByIdentity(context.Background(), "order:missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertContact(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := New(db)
	now := time.Now()
	showTime := time.Date(2025, 12, 6, 21, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO contacts").
		WithArgs(
			"txn:abc123", "Palace", "Saturday December 6th 9pm", showTime,
			"jane@example.com", "Squarespace", "9pm", "General Admission",
			"Jane", "Doe", 2, "", []byte(`{"transaction_id":"abc123"}`), false,
		).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(11), now, now))

	contact := &guest.Contact{
		IdentityKey:  "txn:abc123",
		Venue:        "Palace",
		ShowDate:     "Saturday December 6th 9pm",
		ShowDateTime: &showTime,
		Email:        "jane@example.com",
		Source:       "Squarespace",
		ShowTime:     "9pm",
		TicketType:   "General Admission",
		FirstName:    "Jane",
		LastName:     "Doe",
		Tickets:      2,
		Extra:        guest.Extra{TransactionID: guest.Str("abc123")},
	}

	if err := s.InsertContact(context.Background(), contact); err != nil {
		t.Fatalf("InsertContact error: %v", err)
	}
	if contact.ID != 11 {
		t.Fatalf("expected contact ID 11, got %d", contact.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateContactNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := New(db)

	mock.ExpectExec("UPDATE contacts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.UpdateContact(context.Background(), &guest.Contact{ID: 404, Venue: "Palace"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestShowsForVenue(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := New(db)
	since := time.Date(2025, 10, 7, 0, 0, 0, 0, time.UTC)
	first := time.Date(2025, 12, 6, 21, 0, 0, 0, time.UTC)
	second := time.Date(2025, 11, 15, 21, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT venue, show_date, show_datetime
		FROM contacts
		WHERE venue = $1 AND show_datetime IS NOT NULL AND show_datetime >= $2
		GROUP BY venue, show_date, show_datetime
		ORDER BY show_datetime DESC`)).
		WithArgs("Palace", since).
		WillReturnRows(sqlmock.NewRows([]string{"venue", "show_date", "show_datetime"}).
			AddRow("Palace", "Saturday December 6th 9pm", first).
			AddRow("Palace", "Saturday November 15th 9pm", second))

	shows, err := s.ShowsForVenue(context.Background(), "Palace", since)
	if err != nil {
		t.Fatalf("ShowsForVenue error: %v", err)
	}

	if len(shows) != 2 {
		t.Fatalf("expected 2 shows, got %d", len(shows))
	}
	if !shows[0].ShowDateTime.Equal(first) || shows[0].ShowDate != "Saturday December 6th 9pm" {
		t.Fatalf("unexpected first show: %#v", shows[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkMailingListSyncedEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := New(db)

	// No ids means no query at all.
	if err := s.MarkMailingListSynced(context.Background(), nil, time.Now()); err != nil {
		t.Fatalf("MarkMailingListSynced error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
