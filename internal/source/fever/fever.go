// Package fever ingests reservation notification emails. There is no
// partner API; each reservation arrives as one templated HTML email whose
// fields are labeled by icon images, so values are read from the table cell
// following each labeled cell.
package fever

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"guestlist/internal/guest"
	"guestlist/internal/mailbox"
	"guestlist/internal/showdate"
	"guestlist/internal/source"
)

const searchQuery = `subject:"New reservation with Fever"`

// Mailbox is the slice of the mail client the adapter uses.
type Mailbox interface {
	Search(ctx context.Context, query string, after time.Time) ([]string, error)
	Message(ctx context.Context, id string) (*mailbox.Message, error)
}

// ProcessedLog remembers which messages were already ingested.
type ProcessedLog interface {
	IsEmailProcessed(ctx context.Context, messageID string) (bool, error)
	MarkEmailProcessed(ctx context.Context, messageID, source string) error
}

// Adapter ingests reservation emails.
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
		logger:     logger.With().Str("source", guest.SourceFever).Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements source.Adapter.
func (a *Adapter) Name() string { return guest.SourceFever }

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

		msg, err := a.mail.Message(ctx, id)
		if err != nil {
			return nil, err
		}
		if record, ok := a.parseReservation(msg); ok {
			records = append(records, record)
		}
		if err := a.processed.MarkEmailProcessed(ctx, id, guest.SourceFever); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// parseReservation extracts one reservation from the email template. These
// reservations never carry a guest email address; the record's email stays
// empty and identity falls back to the name/show tuple.
func (a *Adapter) parseReservation(msg *mailbox.Message) (guest.Record, bool) {
	html := msg.HTMLBody()
	if html == "" {
		a.logger.Warn().Str("message_id", msg.ID).Msg("reservation email has no html body, skipping")
		return guest.Record{}, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		a.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("reservation email did not parse, skipping")
		return guest.Record{}, false
	}

	name := labeledValue(doc, "Name")
	ticketsText := labeledValue(doc, "Tickets")
	dateText := labeledValue(doc, "Date")
	planText := labeledValue(doc, "Plan")

	venue, ok := a.normalizer.ResolveVenue(planText + " " + msg.Subject())
	if !ok {
		a.logger.Warn().Str("message_id", msg.ID).Str("plan", planText).Msg("reservation names no venue, skipping")
		return guest.Record{}, false
	}
	showTime, err := a.normalizer.Parse(dateText)
	if err != nil {
		a.logger.Warn().Str("message_id", msg.ID).Str("date", dateText).Msg("reservation date did not parse, skipping")
		return guest.Record{}, false
	}

	tickets := 1
	if n, err := strconv.Atoi(strings.TrimSpace(firstNumber(ticketsText))); err == nil && n > 0 {
		tickets = n
	}

	first, last := splitName(name)
	return guest.Record{
		Venue:     venue,
		ShowDate:  showdate.Format(showTime),
		ShowTime:  showdate.FormatTime(showTime),
		Source:    guest.SourceFever,
		FirstName: first,
		LastName:  last,
		Tickets:   tickets,
		Extra:     guest.Extra{Notes: guest.Str("reservation " + msg.ID)},
	}, true
}

// labeledValue finds the cell labeled by an icon image with the given alt
// text and returns the text of the value cell that follows it.
func labeledValue(doc *goquery.Document, label string) string {
	var value string
	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		alt, _ := img.Attr("alt")
		if !strings.EqualFold(strings.TrimSpace(alt), label) {
			return true
		}
		cell := img.Closest("td")
		if cell.Length() == 0 {
			return true
		}
		value = strings.TrimSpace(cell.NextFiltered("td").Text())
		return false
	})
	return value
}

func firstNumber(s string) string {
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return s[start:i]
		}
	}
	if start >= 0 {
		return s[start:]
	}
	return ""
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
