// Package squarespace pulls storefront orders from the Squarespace Commerce
// API. Products are named "<city>-<venue> - <date> - <time>", which is the
// only place the show information lives.
package squarespace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"guestlist/internal/guest"
	"guestlist/internal/showdate"
	"guestlist/internal/source"
)

const defaultBaseURL = "https://api.squarespace.com/1.0"

// Client fetches orders from the Squarespace Commerce API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	normalizer *showdate.Normalizer
	logger     zerolog.Logger
}

// Option adjusts a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a Client.
func New(apiKey string, normalizer *showdate.Normalizer, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		normalizer: normalizer,
		logger:     logger.With().Str("source", guest.SourceSquarespace).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements source.Adapter.
func (c *Client) Name() string { return guest.SourceSquarespace }

type ordersResponse struct {
	Result     []order `json:"result"`
	Pagination struct {
		HasNextPage    bool   `json:"hasNextPage"`
		NextPageCursor string `json:"nextPageCursor"`
	} `json:"pagination"`
}

type order struct {
	ID             string `json:"id"`
	OrderNumber    string `json:"orderNumber"`
	ModifiedOn     string `json:"modifiedOn"`
	CustomerEmail  string `json:"customerEmail"`
	BillingAddress struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Phone     string `json:"phone"`
	} `json:"billingAddress"`
	LineItems []struct {
		ProductName   string `json:"productName"`
		SKU           string `json:"sku"`
		VariantID     string `json:"variantId"`
		Quantity      int    `json:"quantity"`
		UnitPricePaid struct {
			Value string `json:"value"`
		} `json:"unitPricePaid"`
	} `json:"lineItems"`
	GrandTotal struct {
		Value string `json:"value"`
	} `json:"grandTotal"`
	DiscountLines []struct {
		PromoCode string `json:"promoCode"`
	} `json:"discountLines"`
}

// Fetch implements source.Adapter. It walks the order pages for the window
// and emits one record per ticket line item.
func (c *Client) Fetch(ctx context.Context, w source.Window) ([]guest.Record, error) {
	var records []guest.Record

	cursor := ""
	for {
		page, err := c.ordersPage(ctx, w, cursor)
		if err != nil {
			return nil, err
		}

		for _, o := range page.Result {
			records = append(records, c.orderRecords(o, w)...)
		}

		if !page.Pagination.HasNextPage || page.Pagination.NextPageCursor == "" {
			break
		}
		cursor = page.Pagination.NextPageCursor
	}
	return records, nil
}

func (c *Client) ordersPage(ctx context.Context, w source.Window, cursor string) (*ordersResponse, error) {
	params := url.Values{}
	if cursor != "" {
		// The API rejects filter params alongside a cursor.
		params.Set("cursor", cursor)
	} else {
		params.Set("modifiedAfter", w.Since.UTC().Format(time.RFC3339))
		params.Set("modifiedBefore", w.Until.UTC().Format(time.RFC3339))
	}

	endpoint := c.baseURL + "/commerce/orders?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create orders request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "guestlist-sync")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, source.Transient(fmt.Errorf("fetch orders: %w", err))
	}
	defer resp.Body.Close()

	if err := source.CheckStatus(resp); err != nil {
		return nil, err
	}

	var page ordersResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode orders page: %w", err)
	}
	return &page, nil
}

// orderRecords converts one order into records, skipping line items whose
// product name names no known venue (merch, gift cards).
func (c *Client) orderRecords(o order, w source.Window) []guest.Record {
	if modified, err := time.Parse(time.RFC3339, o.ModifiedOn); err == nil {
		if modified.Before(w.Since) || modified.After(w.Until) {
			return nil
		}
	}

	var discount *string
	for _, d := range o.DiscountLines {
		if d.PromoCode != "" {
			discount = guest.Str(d.PromoCode)
			break
		}
	}

	var records []guest.Record
	for _, item := range o.LineItems {
		venue, ok := c.normalizer.ResolveVenue(item.ProductName)
		if !ok {
			c.logger.Debug().Str("product", item.ProductName).Msg("line item names no venue, skipping")
			continue
		}
		showTime, err := c.normalizer.Parse(item.ProductName)
		if err != nil {
			c.logger.Warn().Str("product", item.ProductName).Msg("product name has no show date, skipping")
			continue
		}

		// The SKU is the door code when the product has one; otherwise a
		// synthetic code keeps distinct line items distinct.
		entryCode := item.SKU
		if entryCode == "" {
			entryCode = "SS_" + o.OrderNumber + "_" + item.VariantID
		}

		record := guest.Record{
			Venue:      venue,
			ShowDate:   showdate.Format(showTime),
			ShowTime:   showdate.FormatTime(showTime),
			Email:      o.CustomerEmail,
			Source:     guest.SourceSquarespace,
			TicketType: item.ProductName,
			FirstName:  o.BillingAddress.FirstName,
			LastName:   o.BillingAddress.LastName,
			Tickets:    item.Quantity,
			Phone:      o.BillingAddress.Phone,
			Extra: guest.Extra{
				OrderID:      guest.Str(o.ID),
				EntryCode:    guest.Str(entryCode),
				DiscountCode: discount,
				TotalPrice:   itemTotal(o, item.Quantity, item.UnitPricePaid.Value),
			},
		}
		records = append(records, record)
	}
	return records
}

// itemTotal values a line item. Single-item orders use the order's grand
// total so discounts are reflected; multi-item orders fall back to the line
// price.
func itemTotal(o order, quantity int, unitPrice string) *float64 {
	if len(o.LineItems) == 1 {
		if total, err := strconv.ParseFloat(o.GrandTotal.Value, 64); err == nil {
			return guest.Float(total)
		}
	}
	unit, err := strconv.ParseFloat(unitPrice, 64)
	if err != nil {
		return nil
	}
	return guest.Float(unit * float64(quantity))
}
