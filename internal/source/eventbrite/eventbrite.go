// Package eventbrite pulls attendees from the Eventbrite v3 API. Events are
// listed per organization with a changed_since filter, then each event's
// attendee pages are walked.
package eventbrite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"guestlist/internal/guest"
	"guestlist/internal/showdate"
	"guestlist/internal/source"
)

const defaultBaseURL = "https://www.eventbriteapi.com/v3"

// Client fetches attendees from the Eventbrite API.
type Client struct {
	token          string
	organizationID string
	baseURL        string
	httpClient     *http.Client
	normalizer     *showdate.Normalizer
	logger         zerolog.Logger
}

// Option adjusts a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// New builds a Client.
func New(token, organizationID string, normalizer *showdate.Normalizer, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		token:          token,
		organizationID: organizationID,
		baseURL:        defaultBaseURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		normalizer:     normalizer,
		logger:         logger.With().Str("source", guest.SourceEventbrite).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements source.Adapter.
func (c *Client) Name() string { return guest.SourceEventbrite }

type pagination struct {
	HasMoreItems bool   `json:"has_more_items"`
	Continuation string `json:"continuation"`
}

type eventsResponse struct {
	Pagination pagination `json:"pagination"`
	Events     []event    `json:"events"`
}

type event struct {
	ID   string `json:"id"`
	Name struct {
		Text string `json:"text"`
	} `json:"name"`
	Start struct {
		Local string `json:"local"`
	} `json:"start"`
	Status string `json:"status"`
}

type attendeesResponse struct {
	Pagination pagination `json:"pagination"`
	Attendees  []attendee `json:"attendees"`
}

type attendee struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Quantity  int    `json:"quantity"`
	Cancelled bool   `json:"cancelled"`
	Refunded  bool   `json:"refunded"`
	Profile   struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		CellPhone string `json:"cell_phone"`
	} `json:"profile"`
	TicketClassName string `json:"ticket_class_name"`
	Costs           struct {
		Gross struct {
			MajorValue string `json:"major_value"`
		} `json:"gross"`
	} `json:"costs"`
	PromotionalCode struct {
		Code string `json:"code"`
	} `json:"promotional_code"`
}

// Fetch implements source.Adapter.
func (c *Client) Fetch(ctx context.Context, w source.Window) ([]guest.Record, error) {
	events, err := c.changedEvents(ctx, w)
	if err != nil {
		return nil, err
	}

	var records []guest.Record
	for _, ev := range events {
		venue, showTime, ok := c.eventShow(ev)
		if !ok {
			continue
		}
		attendees, err := c.eventAttendees(ctx, ev.ID, w)
		if err != nil {
			return nil, err
		}
		records = append(records, c.orderRecords(attendees, venue, showTime)...)
	}
	return records, nil
}

// eventShow resolves the venue and show time from the event listing. The
// event name carries the venue; the start time is authoritative for the
// date.
func (c *Client) eventShow(ev event) (string, time.Time, bool) {
	venue, ok := c.normalizer.ResolveVenue(ev.Name.Text)
	if !ok {
		c.logger.Debug().Str("event", ev.Name.Text).Msg("event names no venue, skipping")
		return "", time.Time{}, false
	}
	showTime, err := time.Parse("2006-01-02T15:04:05", ev.Start.Local)
	if err != nil {
		// Fall back to whatever the name says.
		showTime, err = c.normalizer.Parse(ev.Name.Text)
		if err != nil {
			c.logger.Warn().Str("event", ev.Name.Text).Msg("event has no usable show date, skipping")
			return "", time.Time{}, false
		}
	}
	return venue, showTime, true
}

// orderRecords collapses an event's attendees into one record per order.
// Multi-attendee orders share one order id and so one identity downstream;
// emitting them individually would leave only the last attendee's count
// stored. Ticket quantities and charges sum across the order; names, contact
// details and the entry code come from the first attendee seen.
func (c *Client) orderRecords(attendees []attendee, venue string, showTime time.Time) []guest.Record {
	type order struct {
		first    attendee
		tickets  int
		total    float64
		hasTotal bool
		discount string
	}
	var keys []string
	orders := make(map[string]*order)

	for _, a := range attendees {
		if a.Cancelled || a.Refunded {
			continue
		}
		key := a.OrderID
		if key == "" {
			key = "attendee:" + a.ID
		}
		o := orders[key]
		if o == nil {
			o = &order{first: a}
			orders[key] = o
			keys = append(keys, key)
		}

		qty := a.Quantity
		if qty == 0 {
			qty = 1
		}
		// "Pair" ticket classes admit two people per unit sold.
		if strings.Contains(strings.ToLower(a.TicketClassName), "pair") {
			qty *= 2
		}
		o.tickets += qty

		if gross, err := strconv.ParseFloat(a.Costs.Gross.MajorValue, 64); err == nil {
			o.total += gross
			o.hasTotal = true
		}
		if o.discount == "" && a.PromotionalCode.Code != "" {
			o.discount = a.PromotionalCode.Code
		}
	}

	records := make([]guest.Record, 0, len(keys))
	for _, key := range keys {
		o := orders[key]
		a := o.first

		var total *float64
		if o.hasTotal {
			total = guest.Float(o.total)
		}
		var discount *string
		if o.discount != "" {
			discount = guest.Str(o.discount)
		}
		var orderID *string
		if a.OrderID != "" {
			orderID = guest.Str(a.OrderID)
		}

		records = append(records, guest.Record{
			Venue:      venue,
			ShowDate:   showdate.Format(showTime),
			ShowTime:   showdate.FormatTime(showTime),
			Email:      a.Profile.Email,
			Source:     guest.SourceEventbrite,
			TicketType: a.TicketClassName,
			FirstName:  a.Profile.FirstName,
			LastName:   a.Profile.LastName,
			Tickets:    o.tickets,
			Phone:      a.Profile.CellPhone,
			Extra: guest.Extra{
				OrderID:      orderID,
				EntryCode:    guest.Str("EB_" + a.ID),
				DiscountCode: discount,
				TotalPrice:   total,
			},
		})
	}
	return records
}

func (c *Client) changedEvents(ctx context.Context, w source.Window) ([]event, error) {
	var events []event
	continuation := ""
	for {
		params := url.Values{}
		params.Set("order_by", "start_desc")
		params.Set("changed_since", w.Since.UTC().Format("2006-01-02T15:04:05Z"))
		if continuation != "" {
			params.Set("continuation", continuation)
		}

		var page eventsResponse
		endpoint := fmt.Sprintf("%s/organizations/%s/events/?%s", c.baseURL, c.organizationID, params.Encode())
		if err := c.get(ctx, endpoint, &page); err != nil {
			return nil, err
		}
		events = append(events, page.Events...)

		if !page.Pagination.HasMoreItems || page.Pagination.Continuation == "" {
			break
		}
		continuation = page.Pagination.Continuation
	}
	return events, nil
}

func (c *Client) eventAttendees(ctx context.Context, eventID string, w source.Window) ([]attendee, error) {
	var attendees []attendee
	continuation := ""
	for {
		params := url.Values{}
		params.Set("changed_since", w.Since.UTC().Format("2006-01-02T15:04:05Z"))
		if continuation != "" {
			params.Set("continuation", continuation)
		}

		var page attendeesResponse
		endpoint := fmt.Sprintf("%s/events/%s/attendees/?%s", c.baseURL, eventID, params.Encode())
		if err := c.get(ctx, endpoint, &page); err != nil {
			return nil, err
		}
		attendees = append(attendees, page.Attendees...)

		if !page.Pagination.HasMoreItems || page.Pagination.Continuation == "" {
			break
		}
		continuation = page.Pagination.Continuation
	}
	return attendees, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return source.Transient(fmt.Errorf("fetch %s: %w", endpoint, err))
	}
	defer resp.Body.Close()

	if err := source.CheckStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
