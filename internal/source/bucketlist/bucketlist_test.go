package bucketlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"guestlist/internal/showdate"
	"guestlist/internal/source"
)

type memoryCounters struct {
	totals map[string]int
}

func (m *memoryCounters) EventTicketDelta(_ context.Context, src, key string, current int) (int, error) {
	if m.totals == nil {
		m.totals = make(map[string]int)
	}
	stored := m.totals[src+"/"+key]
	m.totals[src+"/"+key] = current
	delta := current - stored
	if delta < 0 {
		delta = 0
	}
	return delta, nil
}

const experiencesBody = `{"experiences": [
	{"id": "exp-1", "name": "Comedy at the Palace"},
	{"id": "exp-2", "name": "Walking Tour Downtown"}
]}`

const eventsBody = `{"events": [
	{"id": "ev-1", "name": "Palace Saturday Show", "startTime": "2025-12-06T21:00:00-08:00", "ticketsSold": 3}
]}`

const guestsBody = `{"guests": [
	{"bookingId": "bk-1", "firstName": "Jane", "lastName": "Doe", "email": "jane@example.com",
	 "tickets": 1, "ticketType": "General Admission", "totalPaid": 25},
	{"bookingId": "bk-2", "firstName": "Sam", "lastName": "Lee", "email": "sam@example.com",
	 "tickets": 1, "ticketType": "Pair Admission", "totalPaid": 40}
]}`

const loginPage = `<!DOCTYPE html><html><body>Log in</body></html>`

func testClient(t *testing.T, baseURL string, counters CounterStore, opts ...Option) *Client {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	n := showdate.New(loc, showdate.WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, loc)
	}))
	opts = append([]Option{WithBaseURL(baseURL)}, opts...)
	c := New("p-1", "owner@example.com", "secret", counters, n, zerolog.Nop(), opts...)
	c.limiter.SetLimit(1000)
	return c
}

func TestFetchGuestLists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/partners/p-1/experiences":
			w.Write([]byte(experiencesBody))
		case "/api/experiences/exp-1/events":
			w.Write([]byte(eventsBody))
		case "/api/events/ev-1/guests":
			w.Write([]byte(guestsBody))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, &memoryCounters{})

	records, err := c.Fetch(context.Background(), source.WindowFromLookback(time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	first := records[0]
	if first.Venue != "Palace" || first.ShowDate != "Saturday December 6th 9pm" {
		t.Fatalf("unexpected record: %#v", first)
	}
	if first.Extra.OrderID == nil || *first.Extra.OrderID != "bk-1" {
		t.Fatalf("order id = %#v", first.Extra.OrderID)
	}
	if records[1].Tickets != 2 {
		t.Fatalf("pair tickets = %d, want 2", records[1].Tickets)
	}
}

func TestFetchSkipsUnchangedEvents(t *testing.T) {
	guestCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/partners/p-1/experiences":
			w.Write([]byte(experiencesBody))
		case "/api/experiences/exp-1/events":
			w.Write([]byte(eventsBody))
		case "/api/events/ev-1/guests":
			guestCalls++
			w.Write([]byte(guestsBody))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	counters := &memoryCounters{}
	c := testClient(t, srv.URL, counters)
	ctx := context.Background()
	w := source.WindowFromLookback(time.Now(), time.Hour)

	if _, err := c.Fetch(ctx, w); err != nil {
		t.Fatalf("first Fetch error: %v", err)
	}
	if _, err := c.Fetch(ctx, w); err != nil {
		t.Fatalf("second Fetch error: %v", err)
	}

	// The sold count did not move between passes, so the guest list is only
	// pulled once.
	if guestCalls != 1 {
		t.Fatalf("guest list fetched %d times, want 1", guestCalls)
	}
}

func TestFetchForceRefreshIgnoresCounters(t *testing.T) {
	guestCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/partners/p-1/experiences":
			w.Write([]byte(experiencesBody))
		case "/api/experiences/exp-1/events":
			w.Write([]byte(eventsBody))
		case "/api/events/ev-1/guests":
			guestCalls++
			w.Write([]byte(guestsBody))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, &memoryCounters{}, WithForceRefresh(true))
	ctx := context.Background()
	w := source.WindowFromLookback(time.Now(), time.Hour)

	if _, err := c.Fetch(ctx, w); err != nil {
		t.Fatalf("first Fetch error: %v", err)
	}
	if _, err := c.Fetch(ctx, w); err != nil {
		t.Fatalf("second Fetch error: %v", err)
	}
	if guestCalls != 2 {
		t.Fatalf("guest list fetched %d times, want 2", guestCalls)
	}
}

func TestFetchReauthenticatesOnLoginPage(t *testing.T) {
	loggedIn := false
	experienceCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/login":
			loggedIn = true
			w.WriteHeader(http.StatusOK)
		case "/api/partners/p-1/experiences":
			experienceCalls++
			if !loggedIn {
				// Expired session: the SPA shell comes back instead of JSON.
				w.Header().Set("Content-Type", "text/html")
				w.Write([]byte(loginPage))
				return
			}
			w.Write([]byte(`{"experiences": []}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, &memoryCounters{})

	records, err := c.Fetch(context.Background(), source.WindowFromLookback(time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
	if !loggedIn {
		t.Fatal("expected a login attempt")
	}
	if experienceCalls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", experienceCalls)
	}
}

func TestFetchFailsWhenReauthDoesNotHelp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/login" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(loginPage))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, &memoryCounters{})

	_, err := c.Fetch(context.Background(), source.WindowFromLookback(time.Now(), time.Hour))
	if err == nil {
		t.Fatal("expected error when re-auth does not restore JSON")
	}
}
