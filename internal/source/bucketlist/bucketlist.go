// Package bucketlist scrapes the partner insights site. The site has no
// public API token; access rides on a session cookie, and an expired session
// answers JSON endpoints with the HTML login page, so every response is
// sniffed before decoding.
package bucketlist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"guestlist/internal/guest"
	"guestlist/internal/showdate"
	"guestlist/internal/source"
)

const defaultBaseURL = "https://partners.bucketlisters.com"

// CounterStore tracks per-event sold-ticket totals so unchanged events are
// skipped on later passes.
type CounterStore interface {
	EventTicketDelta(ctx context.Context, source, eventKey string, currentTotal int) (int, error)
}

// Client fetches guest lists from the partner site.
type Client struct {
	partnerID  string
	loginEmail string
	loginPass  string
	baseURL    string

	httpClient *http.Client
	limiter    *rate.Limiter
	counters   CounterStore
	normalizer *showdate.Normalizer
	logger     zerolog.Logger

	forceRefresh bool

	mu     sync.Mutex
	authed bool
}

// Option adjusts a Client.
type Option func(*Client)

// WithBaseURL points the client at a different host.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithForceRefresh makes Fetch walk every event's guest list even when its
// sold-ticket total has not moved.
func WithForceRefresh(force bool) Option {
	return func(c *Client) { c.forceRefresh = force }
}

// WithSessionCookie seeds the jar with a previously saved session so a fresh
// login is only needed once the session dies.
func WithSessionCookie(name, value string) Option {
	return func(c *Client) {
		u, err := url.Parse(c.baseURL)
		if err != nil {
			return
		}
		c.httpClient.Jar.SetCookies(u, []*http.Cookie{{Name: name, Value: value}})
		c.authed = true
	}
}

// New builds a Client. Requests are paced to stay under the site's
// throttling threshold.
func New(partnerID, loginEmail, loginPass string, counters CounterStore, normalizer *showdate.Normalizer, logger zerolog.Logger, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		partnerID:  partnerID,
		loginEmail: loginEmail,
		loginPass:  loginPass,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second, Jar: jar},
		limiter:    rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		counters:   counters,
		normalizer: normalizer,
		logger:     logger.With().Str("source", guest.SourceBucketlist).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements source.Adapter.
func (c *Client) Name() string { return guest.SourceBucketlist }

type experience struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type experiencesResponse struct {
	Experiences []experience `json:"experiences"`
}

type event struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	StartTime   string `json:"startTime"`
	TicketsSold int    `json:"ticketsSold"`
}

type eventsResponse struct {
	Events []event `json:"events"`
}

type guestEntry struct {
	BookingID  string  `json:"bookingId"`
	FirstName  string  `json:"firstName"`
	LastName   string  `json:"lastName"`
	Email      string  `json:"email"`
	Phone      string  `json:"phone"`
	Tickets    int     `json:"tickets"`
	TicketType string  `json:"ticketType"`
	TotalPaid  float64 `json:"totalPaid"`
}

type guestsResponse struct {
	Guests []guestEntry `json:"guests"`
}

// Fetch implements source.Adapter. Events whose sold-ticket total has not
// moved since the last pass are skipped unless force refresh is on.
func (c *Client) Fetch(ctx context.Context, w source.Window) ([]guest.Record, error) {
	var experiences experiencesResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/partners/%s/experiences", c.partnerID), &experiences); err != nil {
		return nil, err
	}

	var records []guest.Record
	for _, exp := range experiences.Experiences {
		venue, ok := c.normalizer.ResolveVenue(exp.Name)
		if !ok {
			c.logger.Debug().Str("experience", exp.Name).Msg("experience names no venue, skipping")
			continue
		}

		var events eventsResponse
		if err := c.getJSON(ctx, fmt.Sprintf("/api/experiences/%s/events?scope=upcoming", exp.ID), &events); err != nil {
			return nil, err
		}

		for _, ev := range events.Events {
			evRecords, err := c.eventRecords(ctx, venue, ev)
			if err != nil {
				return nil, err
			}
			records = append(records, evRecords...)
		}
	}
	return records, nil
}

func (c *Client) eventRecords(ctx context.Context, venue string, ev event) ([]guest.Record, error) {
	delta, err := c.counters.EventTicketDelta(ctx, guest.SourceBucketlist, ev.ID, ev.TicketsSold)
	if err != nil {
		return nil, fmt.Errorf("event counter for %s: %w", ev.ID, err)
	}
	if delta == 0 && !c.forceRefresh {
		return nil, nil
	}

	showTime, err := time.Parse(time.RFC3339, ev.StartTime)
	if err != nil {
		parsed, perr := c.normalizer.Parse(ev.Name)
		if perr != nil {
			c.logger.Warn().Str("event", ev.Name).Msg("event has no usable show date, skipping")
			return nil, nil
		}
		showTime = parsed
	}

	var guests guestsResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/events/%s/guests", ev.ID), &guests); err != nil {
		return nil, err
	}

	records := make([]guest.Record, 0, len(guests.Guests))
	for _, g := range guests.Guests {
		tickets := g.Tickets
		if tickets == 0 {
			tickets = 1
		}
		if strings.Contains(strings.ToLower(g.TicketType), "pair") {
			tickets *= 2
		}
		records = append(records, guest.Record{
			Venue:      venue,
			ShowDate:   showdate.Format(showTime),
			ShowTime:   showdate.FormatTime(showTime),
			Email:      g.Email,
			Source:     guest.SourceBucketlist,
			TicketType: g.TicketType,
			FirstName:  g.FirstName,
			LastName:   g.LastName,
			Tickets:    tickets,
			Phone:      g.Phone,
			Extra: guest.Extra{
				OrderID:    guest.Str(g.BookingID),
				TotalPrice: guest.Float(g.TotalPaid),
			},
		})
	}
	return records, nil
}

// getJSON fetches path and decodes it. When the body turns out to be the
// HTML login page the session has died: log in again and retry exactly once.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}

	if looksLikeHTML(body) {
		c.logger.Info().Msg("session expired, logging in again")
		if err := c.login(ctx); err != nil {
			return err
		}
		body, err = c.get(ctx, path)
		if err != nil {
			return err
		}
		if looksLikeHTML(body) {
			return fmt.Errorf("still receiving login page after re-auth for %s", path)
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, source.Transient(fmt.Errorf("fetch %s: %w", path, err))
	}
	defer resp.Body.Close()

	if err := source.CheckStatus(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, source.Transient(fmt.Errorf("read %s: %w", path, err))
	}
	return body, nil
}

func (c *Client) login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("email", c.loginEmail)
	form.Set("password", c.loginPass)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return source.Transient(fmt.Errorf("login: %w", err))
	}
	defer resp.Body.Close()

	if err := source.CheckStatus(resp); err != nil {
		return fmt.Errorf("login rejected: %w", err)
	}
	c.authed = true
	return nil
}

func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("<"))
}
