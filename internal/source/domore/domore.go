// Package domore ingests the promoter's emailed guest lists. Each show's
// list arrives as a CSV attachment; the email also carries a receipt
// confirmation link that the sender expects to be clicked.
package domore

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
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

const searchQuery = `subject:"MORE Guest List"`

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

// Adapter ingests emailed guest lists.
type Adapter struct {
	mail         Mailbox
	processed    ProcessedLog
	normalizer   *showdate.Normalizer
	httpClient   *http.Client
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
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With().Str("source", guest.SourceDoMore).Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements source.Adapter.
func (a *Adapter) Name() string { return guest.SourceDoMore }

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

		if err := a.processed.MarkEmailProcessed(ctx, id, guest.SourceDoMore); err != nil {
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
		a.logger.Warn().Str("subject", subject).Msg("guest list email names no venue, skipping")
		return nil, nil
	}
	showTime, err := a.normalizer.Parse(subject)
	if err != nil {
		a.logger.Warn().Str("subject", subject).Msg("guest list email has no show date, skipping")
		return nil, nil
	}

	a.clickConfirmation(ctx, msg)

	var records []guest.Record
	for _, att := range msg.Attachments() {
		if !strings.HasSuffix(strings.ToLower(att.Filename), ".csv") {
			continue
		}
		data, err := a.mail.Attachment(ctx, id, att.AttachmentID)
		if err != nil {
			return nil, err
		}
		parsed, err := a.parseCSV(data, venue, showTime)
		if err != nil {
			a.logger.Warn().Err(err).Str("filename", att.Filename).Msg("bad guest list attachment, skipping")
			continue
		}
		records = append(records, parsed...)
	}
	return records, nil
}

// clickConfirmation follows the receipt link in the email body. The sender
// tracks whether lists were received; a failed click is logged but never
// blocks ingestion.
func (a *Adapter) clickConfirmation(ctx context.Context, msg *mailbox.Message) {
	html := msg.HTMLBody()
	if html == "" {
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return
	}

	var link string
	doc.Find("a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		if strings.Contains(strings.ToLower(sel.Text()), "confirm") ||
			strings.Contains(strings.ToLower(href), "confirm") {
			link = href
			return false
		}
		return true
	})
	if link == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Warn().Err(err).Msg("confirmation link click failed")
		return
	}
	resp.Body.Close()
}

// parseCSV turns a guest list attachment into records. The sheet sometimes
// repeats its header mid-file, so any row whose first cell is "First Name"
// is dropped. Guests on this list pay at the door; no revenue is recorded.
func (a *Adapter) parseCSV(data []byte, venue string, showTime time.Time) ([]guest.Record, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse guest list csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols := headerIndex(rows[0])

	var records []guest.Record
	for _, row := range rows {
		first := cell(row, cols["first name"])
		if first == "" || strings.EqualFold(first, "First Name") {
			continue
		}

		tickets := 1
		if raw := cell(row, cols["tickets"]); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				tickets = n
			}
		}

		records = append(records, guest.Record{
			Venue:     venue,
			ShowDate:  showdate.Format(showTime),
			ShowTime:  showdate.FormatTime(showTime),
			Email:     cell(row, cols["email"]),
			Source:    guest.SourceDoMore,
			FirstName: first,
			LastName:  cell(row, cols["last name"]),
			Tickets:   tickets,
			Phone:     cell(row, cols["phone"]),
			Extra:     guest.Extra{TotalPrice: guest.Float(0)},
		})
	}
	return records, nil
}

// headerIndex maps lowercased column names to positions. "Quantity" is an
// alias the promoter has used for the ticket column.
func headerIndex(header []string) map[string]int {
	cols := map[string]int{
		"first name": 0,
		"last name":  1,
		"email":      2,
		"phone":      3,
		"tickets":    4,
	}
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "quantity" {
			key = "tickets"
		}
		cols[key] = i
	}
	return cols
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
