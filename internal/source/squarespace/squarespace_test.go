package squarespace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"guestlist/internal/showdate"
	"guestlist/internal/source"
)

func testNormalizer(t *testing.T) *showdate.Normalizer {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return showdate.New(loc, showdate.WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, loc)
	}))
}

const ordersPage1 = `{
	"result": [
		{
			"id": "order-1",
			"orderNumber": "1001",
			"modifiedOn": "2025-06-01T10:00:00Z",
			"customerEmail": "jane@example.com",
			"billingAddress": {"firstName": "Jane", "lastName": "Doe", "phone": "415-555-0100"},
			"lineItems": [
				{"productName": "SF-Palace - Saturday December 6th - 9pm", "variantId": "var-1", "quantity": 2, "unitPricePaid": {"value": "35.00"}}
			],
			"grandTotal": {"value": "63.00"},
			"discountLines": [{"promoCode": "COMP10"}]
		}
	],
	"pagination": {"hasNextPage": true, "nextPageCursor": "abc"}
}`

const ordersPage2 = `{
	"result": [
		{
			"id": "order-2",
			"orderNumber": "1002",
			"modifiedOn": "2025-06-01T11:00:00Z",
			"customerEmail": "sam@example.com",
			"billingAddress": {"firstName": "Sam", "lastName": "Lee"},
			"lineItems": [
				{"productName": "Gift Card", "quantity": 1, "unitPricePaid": {"value": "50.00"}},
				{"productName": "LA-Stowaway - Friday July 4th - 7:30pm", "quantity": 1, "unitPricePaid": {"value": "25.00"}}
			],
			"grandTotal": {"value": "75.00"},
			"discountLines": []
		}
	],
	"pagination": {"hasNextPage": false, "nextPageCursor": ""}
}`

func TestFetchPaginatesAndParses(t *testing.T) {
	var cursors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("auth header = %q", got)
		}
		cursor := r.URL.Query().Get("cursor")
		cursors = append(cursors, cursor)
		if cursor == "" {
			if r.URL.Query().Get("modifiedAfter") == "" {
				t.Error("first page must carry the window filter")
			}
			w.Write([]byte(ordersPage1))
			return
		}
		if r.URL.Query().Get("modifiedAfter") != "" {
			t.Error("cursor pages must not carry filter params")
		}
		w.Write([]byte(ordersPage2))
	}))
	defer srv.Close()

	c := New("key", testNormalizer(t), zerolog.Nop(), WithBaseURL(srv.URL))

	window := source.Window{
		Since: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		Until: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	records, err := c.Fetch(context.Background(), window)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if len(cursors) != 2 || cursors[1] != "abc" {
		t.Fatalf("unexpected cursor sequence %v", cursors)
	}
	// The gift card line item names no venue and is dropped.
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first.Venue != "Palace" || first.ShowDate != "Saturday December 6th 9pm" {
		t.Fatalf("unexpected first record: %#v", first)
	}
	if first.Tickets != 2 || first.Email != "jane@example.com" {
		t.Fatalf("unexpected first record: %#v", first)
	}
	// Single line item, so the discounted grand total wins.
	if first.Extra.TotalPrice == nil || *first.Extra.TotalPrice != 63 {
		t.Fatalf("expected grand total 63, got %#v", first.Extra.TotalPrice)
	}
	if first.Extra.DiscountCode == nil || *first.Extra.DiscountCode != "COMP10" {
		t.Fatalf("expected discount code, got %#v", first.Extra.DiscountCode)
	}
	if first.Extra.EntryCode == nil || *first.Extra.EntryCode != "SS_1001_var-1" {
		t.Fatalf("expected entry code SS_1001_var-1, got %#v", first.Extra.EntryCode)
	}

	second := records[1]
	if second.Venue != "Stowaway" || second.ShowDate != "Friday July 4th 7:30pm" {
		t.Fatalf("unexpected second record: %#v", second)
	}
	// Multi-item order falls back to the line price.
	if second.Extra.TotalPrice == nil || *second.Extra.TotalPrice != 25 {
		t.Fatalf("expected line total 25, got %#v", second.Extra.TotalPrice)
	}
}

func TestFetchFiltersOutsideWindow(t *testing.T) {
	lastPage := strings.Replace(ordersPage1, `"hasNextPage": true`, `"hasNextPage": false`, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(lastPage))
	}))
	defer srv.Close()

	c := New("key", testNormalizer(t), zerolog.Nop(), WithBaseURL(srv.URL))

	// Window entirely before the order's modifiedOn.
	window := source.Window{
		Since: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		Until: time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
	}
	records, err := c.Fetch(context.Background(), window)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records outside window, got %d", len(records))
	}
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New("key", testNormalizer(t), zerolog.Nop(), WithBaseURL(srv.URL))

	_, err := c.Fetch(context.Background(), source.WindowFromLookback(time.Now(), time.Hour))
	if err == nil || !source.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestFetchAuthErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("bad", testNormalizer(t), zerolog.Nop(), WithBaseURL(srv.URL))

	_, err := c.Fetch(context.Background(), source.WindowFromLookback(time.Now(), time.Hour))
	if err == nil || source.IsTransient(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
