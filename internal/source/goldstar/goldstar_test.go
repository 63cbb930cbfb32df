package goldstar

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"guestlist/internal/guest"
	"guestlist/internal/mailbox"
	"guestlist/internal/showdate"
	"guestlist/internal/source"
)

type fakeMailbox struct {
	messages    map[string]*mailbox.Message
	attachments map[string][]byte
	searchIDs   []string
}

func (f *fakeMailbox) Search(context.Context, string, time.Time) ([]string, error) {
	return f.searchIDs, nil
}

func (f *fakeMailbox) Message(_ context.Context, id string) (*mailbox.Message, error) {
	return f.messages[id], nil
}

func (f *fakeMailbox) Attachment(_ context.Context, _, attID string) ([]byte, error) {
	return f.attachments[attID], nil
}

type fakeLog struct {
	seen map[string]bool
}

func (f *fakeLog) IsEmailProcessed(_ context.Context, id string) (bool, error) {
	return f.seen[id], nil
}

func (f *fakeLog) MarkEmailProcessed(_ context.Context, id, _ string) error {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	f.seen[id] = true
	return nil
}

func buildMessage(t *testing.T, subject string) *mailbox.Message {
	t.Helper()
	raw := `{
		"id": "m1",
		"payload": {
			"mimeType": "multipart/mixed",
			"headers": [{"name": "Subject", "value": ` + strconv.Quote(subject) + `}],
			"body": {},
			"parts": [
				{"mimeType": "text/csv", "filename": "willcall.csv", "body": {"attachmentId": "att-1"}}
			]
		}
	}`
	var msg mailbox.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("build message: %v", err)
	}
	return &msg
}

const willCallCSV = "Last Name,First Name,Tickets,Date\n" +
	"Doe,Jane,2,2025-12-06\n" +
	"Last Name,First Name,Tickets,Date\n" +
	"Lee,Sam,,12-06-2025\n"

func testAdapter(t *testing.T, mail Mailbox, processed ProcessedLog, opts ...Option) *Adapter {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	n := showdate.New(loc, showdate.WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, loc)
	}))
	return New(mail, processed, n, zerolog.Nop(), opts...)
}

func TestFetchParsesWillCallEmail(t *testing.T) {
	mail := &fakeMailbox{
		searchIDs:   []string{"m1"},
		messages:    map[string]*mailbox.Message{"m1": buildMessage(t, "Will-Call List for Palace Comedy Night")},
		attachments: map[string][]byte{"att-1": []byte(willCallCSV)},
	}
	processed := &fakeLog{}
	a := testAdapter(t, mail, processed)

	records, err := a.Fetch(context.Background(), source.WindowFromLookback(time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	// The repeated header row is dropped; both guest rows survive.
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first.Venue != "Palace" || first.ShowDate != "Saturday December 6th 8pm" {
		t.Fatalf("unexpected record: %#v", first)
	}
	if first.FirstName != "Jane" || first.LastName != "Doe" || first.Tickets != 2 {
		t.Fatalf("unexpected record: %#v", first)
	}
	if first.Source != guest.SourceGoldstar || first.TicketType != "GA" {
		t.Fatalf("unexpected record: %#v", first)
	}
	// No email and no price on will-call rows; analytics prices them from
	// the venue default.
	if first.Email != "" || first.Extra.TotalPrice != nil {
		t.Fatalf("unexpected record: %#v", first)
	}

	// Missing ticket cell defaults to one seat; numeric US date parses too.
	if records[1].FirstName != "Sam" || records[1].Tickets != 1 {
		t.Fatalf("unexpected record: %#v", records[1])
	}
	if records[1].ShowDate != "Saturday December 6th 8pm" {
		t.Fatalf("unexpected record: %#v", records[1])
	}

	if !processed.seen["m1"] {
		t.Fatal("expected message to be marked processed")
	}
}

func TestFetchSkipsProcessedMessages(t *testing.T) {
	mail := &fakeMailbox{
		searchIDs:   []string{"m1"},
		messages:    map[string]*mailbox.Message{"m1": buildMessage(t, "Will-Call List for Palace")},
		attachments: map[string][]byte{"att-1": []byte(willCallCSV)},
	}
	a := testAdapter(t, mail, &fakeLog{seen: map[string]bool{"m1": true}})

	records, err := a.Fetch(context.Background(), source.WindowFromLookback(time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records for processed message, got %d", len(records))
	}
}

func TestFetchForceRefreshRereadsProcessedMessages(t *testing.T) {
	mail := &fakeMailbox{
		searchIDs:   []string{"m1"},
		messages:    map[string]*mailbox.Message{"m1": buildMessage(t, "Will-Call List for Palace")},
		attachments: map[string][]byte{"att-1": []byte(willCallCSV)},
	}
	a := testAdapter(t, mail, &fakeLog{seen: map[string]bool{"m1": true}}, WithForceRefresh(true))

	records, err := a.Fetch(context.Background(), source.WindowFromLookback(time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected processed message to be re-read, got %d records", len(records))
	}
}

func TestFetchUnknownVenueIsSkipped(t *testing.T) {
	mail := &fakeMailbox{
		searchIDs:   []string{"m1"},
		messages:    map[string]*mailbox.Message{"m1": buildMessage(t, "Will-Call List for The Mystery Room")},
		attachments: map[string][]byte{"att-1": []byte(willCallCSV)},
	}
	processed := &fakeLog{}
	a := testAdapter(t, mail, processed)

	records, err := a.Fetch(context.Background(), source.WindowFromLookback(time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records for unknown venue, got %d", len(records))
	}
	// Still marked processed so the next pass does not retry it forever.
	if !processed.seen["m1"] {
		t.Fatal("expected message to be marked processed")
	}
}
