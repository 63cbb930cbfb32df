// Package dedup turns transient adapter records into persisted contacts,
// collapsing repeated syncs of the same purchase into one row.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"guestlist/internal/guest"
	"guestlist/internal/showdate"
	"guestlist/internal/store"
)

// ContactStore is the slice of the persistence layer the engine writes
// through.
type ContactStore interface {
	ContactByIdentity(ctx context.Context, identityKey string) (*guest.Contact, error)
	InsertContact(ctx context.Context, c *guest.Contact) error
	UpdateContact(ctx context.Context, c *guest.Contact) error
}

// Result tallies one batch upsert.
type Result struct {
	Created int
	Updated int
	Skipped int
}

const lockStripes = 64

// Engine deduplicates incoming records against stored contacts. Writes for
// the same identity key are serialized through striped locks so concurrent
// adapters cannot interleave a read-merge-write.
type Engine struct {
	store      ContactStore
	normalizer *showdate.Normalizer
	logger     zerolog.Logger

	locks [lockStripes]sync.Mutex
}

// New builds an Engine.
func New(contacts ContactStore, normalizer *showdate.Normalizer, logger zerolog.Logger) *Engine {
	return &Engine{
		store:      contacts,
		normalizer: normalizer,
		logger:     logger.With().Str("component", "dedup").Logger(),
	}
}

// IdentityKey derives the stable identity for a record. A provider
// transaction id beats an order id, which beats the composite purchase tuple.
// The strongest available identifier wins so the same purchase seen with and
// without its transaction id still lands on one key once the id appears.
func IdentityKey(r guest.Record) string {
	if r.Extra.TransactionID != nil && *r.Extra.TransactionID != "" {
		return "txn:" + *r.Extra.TransactionID
	}
	if r.Extra.OrderID != nil && *r.Extra.OrderID != "" {
		return "order:" + *r.Extra.OrderID
	}
	return "show:" + strings.ToLower(strings.Join([]string{
		r.Email, r.ShowDate, r.Venue, r.FirstName, r.LastName,
	}, "|"))
}

// Upsert persists one record, creating a contact or folding the record into
// the existing one. It reports whether a new contact was created.
func (e *Engine) Upsert(ctx context.Context, r guest.Record) (bool, error) {
	if err := r.Validate(); err != nil {
		return false, err
	}

	key := IdentityKey(r)
	if strings.HasPrefix(key, "show:") {
		e.logger.Debug().Str("identity_key", key).Msg("no provider id, using composite identity")
	}

	lock := e.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.store.ContactByIdentity(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("lookup contact: %w", err)
	}

	if existing == nil {
		contact := e.newContact(key, r)
		if err := e.store.InsertContact(ctx, contact); err != nil {
			return false, fmt.Errorf("create contact: %w", err)
		}
		return true, nil
	}

	merge(existing, r)
	if err := e.store.UpdateContact(ctx, existing); err != nil {
		return false, fmt.Errorf("update contact: %w", err)
	}
	return false, nil
}

// UpsertBatch persists a batch of records. Individual record failures are
// logged and counted as skips; one bad row never aborts a sync.
func (e *Engine) UpsertBatch(ctx context.Context, records []guest.Record) Result {
	var result Result
	for _, r := range records {
		created, err := e.Upsert(ctx, r)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("venue", r.Venue).
				Str("source", r.Source).
				Str("email", r.Email).
				Msg("skipping record")
			result.Skipped++
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}
	return result
}

func (e *Engine) newContact(key string, r guest.Record) *guest.Contact {
	contact := &guest.Contact{
		IdentityKey: key,
		Venue:       r.Venue,
		ShowDate:    r.ShowDate,
		Email:       r.Email,
		Source:      guest.CanonicalSource(r.Source),
		ShowTime:    r.ShowTime,
		TicketType:  r.TicketType,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Tickets:     r.Tickets,
		Phone:       r.Phone,
		Extra:       r.Extra,
	}
	contact.ShowDateTime = e.deriveShowDateTime(r)
	return contact
}

// deriveShowDateTime parses the display date (plus the separate time field
// when the date itself carries none) into a sortable timestamp. Unparseable
// dates leave it nil; the contact still persists under its raw date string.
func (e *Engine) deriveShowDateTime(r guest.Record) *time.Time {
	text := r.ShowDate
	if r.ShowTime != "" {
		// A time token inside the date string wins over the separate field.
		text = text + " " + r.ShowTime
	}
	ts, err := e.normalizer.Parse(text)
	if err != nil {
		e.logger.Warn().Str("show_date", r.ShowDate).Str("venue", r.Venue).
			Msg("show date did not parse, contact stored unscheduled")
		return nil
	}
	return &ts
}

// merge folds an incoming record into a stored contact. Non-empty incoming
// fields win; absent ones never blank stored values. Ticket counts follow the
// provider's latest total.
func merge(c *guest.Contact, r guest.Record) {
	if r.Source != "" {
		c.Source = guest.CanonicalSource(r.Source)
	}
	if r.Email != "" {
		c.Email = r.Email
	}
	if r.Phone != "" {
		c.Phone = r.Phone
	}
	if r.FirstName != "" {
		c.FirstName = r.FirstName
	}
	if r.LastName != "" {
		c.LastName = r.LastName
	}
	if r.TicketType != "" {
		c.TicketType = r.TicketType
	}
	if r.ShowTime != "" {
		c.ShowTime = r.ShowTime
	}
	if r.Tickets > 0 {
		c.Tickets = r.Tickets
	}
	c.Extra = c.Extra.Merge(r.Extra)
}

func (e *Engine) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &e.locks[h.Sum32()%lockStripes]
}
