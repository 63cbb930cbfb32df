// Package guest defines the record shapes shared by the ingestion pipeline:
// the transient per-row Record emitted by source adapters and the persisted,
// deduplicated Contact.
package guest

import (
	"fmt"
	"strings"
	"time"
)

// Known canonical source labels. Adapters tag records with these verbatim;
// analytics and mailing-list routing key off them.
const (
	SourceSquarespace = "Squarespace"
	SourceEventbrite  = "Eventbrite"
	SourceBucketlist  = "Bucketlist"
	SourceFever       = "Fever"
	SourceDoMore      = "DoMORE"
	SourceGoldstar    = "Goldstar"
	SourceManual      = "Manual"
)

// CanonicalSource collapses the short codes and casing variants providers
// have used over time into one canonical label. Without this the same
// provider's revenue splits across two buckets in the breakdown.
func CanonicalSource(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return SourceManual
	case "ss", "squarespace":
		return SourceSquarespace
	case "eb", "eventbrite":
		return SourceEventbrite
	case "bl", "bucketlist":
		return SourceBucketlist
	case "fever":
		return SourceFever
	case "domore", "do more":
		return SourceDoMore
	case "gs", "goldstar":
		return SourceGoldstar
	default:
		return capitalize(strings.TrimSpace(raw))
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// Extra is the bag of provider-specific enhanced fields. All fields are
// optional; nil means "this provider did not supply the value", which the
// upsert merge treats differently from an explicit empty value.
type Extra struct {
	DiscountCode  *string  `json:"discount_code,omitempty"`
	TotalPrice    *float64 `json:"total_price,omitempty"`
	OrderID       *string  `json:"order_id,omitempty"`
	TransactionID *string  `json:"transaction_id,omitempty"`
	CustomerID    *string  `json:"customer_id,omitempty"`
	PaymentMethod *string  `json:"payment_method,omitempty"`
	EntryCode     *string  `json:"entry_code,omitempty"`
	Notes         *string  `json:"notes,omitempty"`
}

// Merge overlays non-nil fields from in, keeping existing values where the
// incoming record carries nothing. Later syncs of the same purchase sometimes
// carry less detail than the original, so absent fields never blank out
// stored ones.
func (e Extra) Merge(in Extra) Extra {
	if in.DiscountCode != nil {
		e.DiscountCode = in.DiscountCode
	}
	if in.TotalPrice != nil {
		e.TotalPrice = in.TotalPrice
	}
	if in.OrderID != nil {
		e.OrderID = in.OrderID
	}
	if in.TransactionID != nil {
		e.TransactionID = in.TransactionID
	}
	if in.CustomerID != nil {
		e.CustomerID = in.CustomerID
	}
	if in.PaymentMethod != nil {
		e.PaymentMethod = in.PaymentMethod
	}
	if in.EntryCode != nil {
		e.EntryCode = in.EntryCode
	}
	if in.Notes != nil {
		e.Notes = in.Notes
	}
	return e
}

// Record is the transient adapter output for one attendee row. Venue and
// ShowDate are free text until the normalizer has run; adapters are expected
// to normalize before emitting, but the dedup engine re-derives the show
// timestamp either way.
type Record struct {
	Venue      string
	ShowDate   string
	ShowTime   string
	Email      string
	Source     string
	TicketType string
	FirstName  string
	LastName   string
	Tickets    int
	Phone      string
	Extra      Extra
}

// Validate reports whether the record carries enough to persist. Email may
// legitimately be empty (the reservation-email provider never supplies one),
// so it is not required here.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Venue) == "" {
		return fmt.Errorf("record missing venue")
	}
	if strings.TrimSpace(r.ShowDate) == "" {
		return fmt.Errorf("record missing show date")
	}
	if strings.TrimSpace(r.Source) == "" {
		return fmt.Errorf("record missing source")
	}
	if r.Tickets < 0 {
		return fmt.Errorf("record has negative ticket count %d", r.Tickets)
	}
	return nil
}

// Contact is the persisted, deduplicated guest entry tied to a venue and
// show. Written exclusively by the dedup engine.
type Contact struct {
	ID          int64
	IdentityKey string

	Venue        string
	ShowDate     string
	ShowDateTime *time.Time // nil when the show date never parsed
	Email        string
	Source       string
	ShowTime     string
	TicketType   string
	FirstName    string
	LastName     string
	Tickets      int
	Phone        string
	Extra        Extra

	AddedToMailingList  bool
	MailingListSyncedAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Venue is a known performance venue with its cost configuration.
type Venue struct {
	ID     int64
	Name   string
	City   string
	Active bool

	// Pricing/cost overrides; nil or "none" falls back to the analytics
	// engine's defaults.
	DefaultTicketPrice *float64
	CostType           string // "percentage", "flat" or "none"
	CostRate           float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Venue cost types.
const (
	CostPercentage = "percentage"
	CostFlat       = "flat"
	CostNone       = "none"
)

// Show is a (venue, timestamp) pair derived by grouping contacts; it is not
// stored as its own entity.
type Show struct {
	Venue        string
	ShowDateTime time.Time
	ShowDate     string // original stored display string
}

// SyncJob statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// SyncJob tracks one long-running batch sync for operational visibility.
type SyncJob struct {
	ID              string
	JobType         string
	Status          string
	VenuesProcessed []string
	RecordsSynced   int
	Errors          []string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
}

// String helpers for building Extra values without intermediate variables.

// Str returns a pointer to s, or nil when s is empty.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Float returns a pointer to f. Zero is a meaningful price, so no nil
// collapsing happens here.
func Float(f float64) *float64 {
	return &f
}
