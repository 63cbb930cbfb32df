// Package goldstar ingests the ticketer's emailed will-call lists. Each
// show's list arrives as a CSV attachment; the subject names the venue and
// the show date sits on every guest row.
package goldstar

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"guestlist/internal/guest"
	"guestlist/internal/mailbox"
	"guestlist/internal/showdate"
	"guestlist/internal/source"
)

const searchQuery = `subject:"Will-Call List for"`

// Will-call lists are always for the 8pm show.
const showHour = 20

// Mailbox is the slice of the mail client the adapter uses.
type Mailbox interface {
	Search(ctx context.Context, query string, after time.Time) ([]string, error)
	Message(ctx context.Context, id string) (*mailbox.Message, error)
	Attachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// ProcessedLog remembers which messages were already ingested, since mail
// search windows overlap between passes.
type ProcessedLog interface {
	IsEmailProcessed(ctx context.Context, messageID string) (bool, error)
	MarkEmailProcessed(ctx context.Context, messageID, source string) error
}

// Adapter ingests will-call list emails.
type Adapter struct {
	mail         Mailbox
	processed    ProcessedLog
	normalizer   *showdate.Normalizer
	logger       zerolog.Logger
	forceRefresh bool
}

// Option adjusts an Adapter.
type Option func(*Adapter)

// WithForceRefresh makes Fetch re-read messages already in the processed
// log. Replays collapse into existing contacts through the identity upsert.
func WithForceRefresh(force bool) Option {
	return func(a *Adapter) { a.forceRefresh = force }
}

// New builds an Adapter.
func New(mail Mailbox, processed ProcessedLog, normalizer *showdate.Normalizer, logger zerolog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		mail:       mail,
		processed:  processed,
		normalizer: normalizer,
		logger:     logger.With().Str("source", guest.SourceGoldstar).Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements source.Adapter.
func (a *Adapter) Name() string { return guest.SourceGoldstar }

// Fetch implements source.Adapter.
func (a *Adapter) Fetch(ctx context.Context, w source.Window) ([]guest.Record, error) {
	ids, err := a.mail.Search(ctx, searchQuery, w.Since)
	if err != nil {
		return nil, err
	}

	var records []guest.Record
	for _, id := range ids {
		if !a.forceRefresh {
			seen, err := a.processed.IsEmailProcessed(ctx, id)
			if err != nil {
				return nil, err
			}
			if seen {
				continue
			}
		}

		msgRecords, err := a.processMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, msgRecords...)

		if err := a.processed.MarkEmailProcessed(ctx, id, guest.SourceGoldstar); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (a *Adapter) processMessage(ctx context.Context, id string) ([]guest.Record, error) {
	msg, err := a.mail.Message(ctx, id)
	if err != nil {
		return nil, err
	}

	subject := msg.Subject()
	venue, ok := a.normalizer.ResolveVenue(subject)
	if !ok {
		a.logger.Warn().Str("subject", subject).Msg("will-call email names no venue, skipping")
		return nil, nil
	}

	var records []guest.Record
	for _, att := range msg.Attachments() {
		if !strings.HasSuffix(strings.ToLower(att.Filename), ".csv") {
			continue
		}
		data, err := a.mail.Attachment(ctx, id, att.AttachmentID)
		if err != nil {
			return nil, err
		}
		parsed, err := a.parseCSV(data, venue)
		if err != nil {
			a.logger.Warn().Err(err).Str("filename", att.Filename).Msg("bad will-call attachment, skipping")
			continue
		}
		records = append(records, parsed...)
	}
	return records, nil
}

// parseCSV turns a will-call attachment into records. Columns are positional:
// last name, first name, tickets, show date. The sheet sometimes repeats its
// header mid-file, so any row mentioning "First Name" is dropped. Guests paid
// the ticketer directly and no email address is provided; identity falls back
// to the name/show tuple.
func (a *Adapter) parseCSV(data []byte, venue string) ([]guest.Record, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse will-call csv: %w", err)
	}

	var records []guest.Record
	for _, row := range rows {
		if len(row) < 4 || isHeaderRow(row) {
			continue
		}
		last := strings.TrimSpace(row[0])
		first := strings.TrimSpace(row[1])
		if first == "" && last == "" {
			continue
		}

		tickets := 1
		if n, err := strconv.Atoi(strings.TrimSpace(row[2])); err == nil && n > 0 {
			tickets = n
		}

		day, err := a.normalizer.ParseDate(row[3])
		if err != nil {
			a.logger.Warn().Str("date", row[3]).Msg("will-call row date did not parse, skipping")
			continue
		}
		showTime := time.Date(day.Year(), day.Month(), day.Day(), showHour, 0, 0, 0, day.Location())

		records = append(records, guest.Record{
			Venue:      venue,
			ShowDate:   showdate.Format(showTime),
			ShowTime:   showdate.FormatTime(showTime),
			Source:     guest.SourceGoldstar,
			TicketType: "GA",
			FirstName:  first,
			LastName:   last,
			Tickets:    tickets,
		})
	}
	return records, nil
}

func isHeaderRow(row []string) bool {
	for _, cell := range row {
		if strings.EqualFold(strings.TrimSpace(cell), "First Name") {
			return true
		}
	}
	return false
}
