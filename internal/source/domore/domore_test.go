package domore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

func b64(s string) string {
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(s))
}

// buildMessage assembles a guest-list email with a CSV attachment and an
// optional confirmation link in the HTML body.
func buildMessage(t *testing.T, subject, html string) *mailbox.Message {
	t.Helper()
	raw := `{
		"id": "m1",
		"payload": {
			"mimeType": "multipart/mixed",
			"headers": [{"name": "Subject", "value": ` + strconv.Quote(subject) + `}],
			"body": {},
			"parts": [
				{"mimeType": "text/html", "body": {"data": "` + b64(html) + `"}},
				{"mimeType": "text/csv", "filename": "guests.csv", "body": {"attachmentId": "att-1"}}
			]
		}
	}`
	var msg mailbox.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("build message: %v", err)
	}
	return &msg
}

const guestCSV = "First Name,Last Name,Email,Phone,Tickets\n" +
	"Jane,Doe,jane@example.com,415-555-0100,2\n" +
	"First Name,Last Name,Email,Phone,Tickets\n" +
	"Sam,Lee,sam@example.com,,\n"

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

func TestFetchParsesGuestListEmail(t *testing.T) {
	clicked := false
	confirmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clicked = true
	}))
	defer confirmSrv.Close()

	html := `<p>Guest list attached.</p><a href="` + confirmSrv.URL + `/confirm">Confirm receipt</a>`
	mail := &fakeMailbox{
		searchIDs:   []string{"m1"},
		messages:    map[string]*mailbox.Message{"m1": buildMessage(t, "MORE Guest List - Palace - Saturday December 6th", html)},
		attachments: map[string][]byte{"att-1": []byte(guestCSV)},
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
	if first.Venue != "Palace" || first.ShowDate != "Saturday December 6th 9pm" {
		t.Fatalf("unexpected record: %#v", first)
	}
	if first.FirstName != "Jane" || first.Tickets != 2 {
		t.Fatalf("unexpected record: %#v", first)
	}
	// Door-list guests carry an explicit zero price so analytics never
	// assumes revenue for them.
	if first.Extra.TotalPrice == nil || *first.Extra.TotalPrice != 0 {
		t.Fatalf("expected explicit zero price, got %#v", first.Extra.TotalPrice)
	}

	// Missing ticket cell defaults to one seat.
	if records[1].FirstName != "Sam" || records[1].Tickets != 1 {
		t.Fatalf("unexpected record: %#v", records[1])
	}

	if !clicked {
		t.Fatal("expected confirmation link to be clicked")
	}
	if !processed.seen["m1"] {
		t.Fatal("expected message to be marked processed")
	}
}

func TestFetchSkipsProcessedMessages(t *testing.T) {
	mail := &fakeMailbox{
		searchIDs:   []string{"m1"},
		messages:    map[string]*mailbox.Message{"m1": buildMessage(t, "MORE Guest List - Palace - Saturday December 6th", "")},
		attachments: map[string][]byte{"att-1": []byte(guestCSV)},
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
		messages:    map[string]*mailbox.Message{"m1": buildMessage(t, "MORE Guest List - Palace - Saturday December 6th", "")},
		attachments: map[string][]byte{"att-1": []byte(guestCSV)},
	}
	processed := &fakeLog{seen: map[string]bool{"m1": true}}
	a := testAdapter(t, mail, processed, WithForceRefresh(true))

	records, err := a.Fetch(context.Background(), source.WindowFromLookback(time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected processed message to be re-read, got %d records", len(records))
	}
	if !processed.seen["m1"] {
		t.Fatal("expected message to stay marked processed")
	}
}

func TestFetchConfirmationFailureIsNonFatal(t *testing.T) {
	// Dead confirmation host; ingestion must still succeed.
	html := `<a href="http://127.0.0.1:1/confirm">Confirm receipt</a>`
	mail := &fakeMailbox{
		searchIDs:   []string{"m1"},
		messages:    map[string]*mailbox.Message{"m1": buildMessage(t, "MORE Guest List - Palace - Saturday December 6th", html)},
		attachments: map[string][]byte{"att-1": []byte(guestCSV)},
	}
	a := testAdapter(t, mail, &fakeLog{})

	records, err := a.Fetch(context.Background(), source.WindowFromLookback(time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records despite dead link, got %d", len(records))
	}
	if records[0].Source != guest.SourceDoMore {
		t.Fatalf("source = %q", records[0].Source)
	}
}
