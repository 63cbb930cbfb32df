// Package analytics computes per-show revenue breakdowns from the stored
// guest list, applying per-provider fee schedules and per-venue cost
// arrangements.
package analytics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"guestlist/internal/guest"
)

// ErrNoContacts signals a breakdown request for a show with no stored guests.
var ErrNoContacts = errors.New("no contacts for show")

// Fee is one provider's fee schedule: a percentage of the charge plus a flat
// amount per transaction.
type Fee struct {
	Percent float64
	Fixed   float64
}

// VenueCost is a venue's cut arrangement.
type VenueCost struct {
	Type string // guest.CostPercentage, guest.CostFlat or guest.CostNone
	Rate float64
}

// Config carries the fee schedules and pricing defaults. Venue rows in the
// store override the venue-level values here.
type Config struct {
	Fees map[string]Fee

	// Ticket price assumed when a contact carries no recorded total.
	DefaultPrices      map[string]float64
	GlobalDefaultPrice float64

	// Sources whose guest lists never carry money; their records contribute
	// tickets but no assumed revenue.
	FreeSources map[string]bool

	VenueCosts map[string]VenueCost
}

// DefaultConfig returns the fee schedules and defaults in production use.
func DefaultConfig() Config {
	return Config{
		Fees: map[string]Fee{
			guest.SourceSquarespace: {Percent: 0.029, Fixed: 0.30},
			guest.SourceEventbrite:  {Percent: 0.037, Fixed: 1.79},
			guest.SourceBucketlist:  {Percent: 0.25},
			guest.SourceFever:       {Percent: 0.25},
		},
		DefaultPrices: map[string]float64{
			"Palace":  35,
			"Church":  30,
			"Citizen": 15,
		},
		GlobalDefaultPrice: 25,
		FreeSources: map[string]bool{
			guest.SourceDoMore: true,
		},
		VenueCosts: map[string]VenueCost{
			"Palace":  {Type: guest.CostPercentage, Rate: 0.30},
			"Church":  {Type: guest.CostFlat, Rate: 700},
			"Citizen": {Type: guest.CostNone},
		},
	}
}

// SourceBreakdown is one provider's slice of a show.
type SourceBreakdown struct {
	Source  string  `json:"source"`
	Tickets int     `json:"tickets"`
	Gross   float64 `json:"gross"`
	Fees    float64 `json:"fees"`
}

// Breakdown is the revenue summary for one show.
type Breakdown struct {
	Venue                string            `json:"venue"`
	ShowDate             string            `json:"show_date"`
	TotalTickets         int               `json:"total_tickets"`
	GrossRevenue         float64           `json:"gross_revenue"`
	TotalFees            float64           `json:"total_fees"`
	VenueCost            float64           `json:"venue_cost"`
	VenueCostDescription string            `json:"venue_cost_description"`
	NetRevenue           float64           `json:"net_revenue"`
	Sources              []SourceBreakdown `json:"sources"`
}

// Engine computes breakdowns.
type Engine struct {
	cfg Config
}

// New builds an Engine over the given configuration.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Compute builds the revenue breakdown for one show from its stored guest
// list. venue may be nil when the venue has no configuration row, in which
// case the engine's defaults for venueName apply. All amounts are rounded to
// cents only here, at the output edge, so intermediate sums keep full
// precision.
func (e *Engine) Compute(venueName, showDate string, venue *guest.Venue, contacts []guest.Contact) (*Breakdown, error) {
	if len(contacts) == 0 {
		return nil, fmt.Errorf("%w: %s / %s", ErrNoContacts, venueName, showDate)
	}

	type tally struct {
		tickets int
		gross   float64
		fees    float64
	}
	bySource := make(map[string]*tally)

	totalTickets := 0
	for _, c := range contacts {
		src := guest.CanonicalSource(c.Source)
		t := bySource[src]
		if t == nil {
			t = &tally{}
			bySource[src] = t
		}
		t.tickets += c.Tickets
		totalTickets += c.Tickets

		revenue := e.contactRevenue(venueName, venue, src, c)
		t.gross += revenue
		t.fees += e.contactFee(src, revenue)
	}

	var (
		sources   []SourceBreakdown
		gross     float64
		totalFees float64
	)
	for src, t := range bySource {
		gross += t.gross
		totalFees += t.fees
		sources = append(sources, SourceBreakdown{
			Source:  src,
			Tickets: t.tickets,
			Gross:   round2(t.gross),
			Fees:    round2(t.fees),
		})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Source < sources[j].Source })

	netAfterFees := gross - totalFees
	venueCost, costDesc := e.venueCost(venueName, venue, netAfterFees)

	return &Breakdown{
		Venue:                venueName,
		ShowDate:             showDate,
		TotalTickets:         totalTickets,
		GrossRevenue:         round2(gross),
		TotalFees:            round2(totalFees),
		VenueCost:            round2(venueCost),
		VenueCostDescription: costDesc,
		NetRevenue:           round2(netAfterFees - venueCost),
		Sources:              sources,
	}, nil
}

// contactRevenue values one contact's purchase. A nonzero recorded total
// wins. A zero or absent total is trusted only when the record shows why the
// ticket was free (a discount code or a comp ticket type); otherwise the zero
// is missing data and the venue's assumed per-ticket price substitutes.
func (e *Engine) contactRevenue(venueName string, venue *guest.Venue, source string, c guest.Contact) float64 {
	if e.cfg.FreeSources[source] {
		return 0
	}

	price := 0.0
	if c.Extra.TotalPrice != nil {
		price = *c.Extra.TotalPrice
	}
	if price != 0 {
		return price
	}
	if intentionallyFree(c) {
		return 0
	}
	return float64(c.Tickets) * e.defaultPrice(venueName, venue)
}

func intentionallyFree(c guest.Contact) bool {
	if c.Extra.DiscountCode != nil && strings.TrimSpace(*c.Extra.DiscountCode) != "" {
		return true
	}
	switch strings.ToLower(c.TicketType) {
	case "free", "comp", "complimentary":
		return true
	}
	return false
}

// contactFee is the processing fee one charge incurs: the source's percentage
// of the charge plus its fixed per-transaction amount. Charges that moved no
// money incur no fee.
func (e *Engine) contactFee(source string, price float64) float64 {
	if price <= 0 {
		return 0
	}
	fee := e.cfg.Fees[source]
	return price*fee.Percent + fee.Fixed
}

func (e *Engine) defaultPrice(venueName string, venue *guest.Venue) float64 {
	if venue != nil && venue.DefaultTicketPrice != nil {
		return *venue.DefaultTicketPrice
	}
	if price, ok := e.cfg.DefaultPrices[venueName]; ok {
		return price
	}
	return e.cfg.GlobalDefaultPrice
}

// venueCost resolves the venue's cut. A configured venue row wins over the
// engine defaults.
func (e *Engine) venueCost(venueName string, venue *guest.Venue, netAfterFees float64) (float64, string) {
	cost := VenueCost{Type: guest.CostNone}
	if vc, ok := e.cfg.VenueCosts[venueName]; ok {
		cost = vc
	}
	if venue != nil && venue.CostType != "" {
		cost = VenueCost{Type: venue.CostType, Rate: venue.CostRate}
	}

	switch cost.Type {
	case guest.CostPercentage:
		amount := netAfterFees * cost.Rate
		if amount < 0 {
			amount = 0
		}
		return amount, fmt.Sprintf("%.0f%% of net after fees", cost.Rate*100)
	case guest.CostFlat:
		return cost.Rate, fmt.Sprintf("$%.0f flat", cost.Rate)
	default:
		return 0, "none"
	}
}

// round2 rounds to cents, half away from zero. The epsilon absorbs binary
// representation error so exact half-cent amounts do not round down.
func round2(x float64) float64 {
	if x < 0 {
		return -round2(-x)
	}
	return math.Round(x*100+1e-9) / 100
}
