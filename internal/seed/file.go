package seed

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/evpool/evpool-backend/pkg/enums"
)

// Event types understood by the seeder.
const (
	EventPayment = "payment"
	EventBuy     = "buy"
	EventSell    = "sell"
	EventCancel  = "cancel"
	EventUnsell  = "unsell"
	EventRestore = "restore"
)

// File is a historical backfill: users first, then ledger events replayed in
// time order. Users and vehicles are referenced by file-local keys.
type File struct {
	Users  []UserRecord  `json:"users"`
	Events []EventRecord `json:"events"`
}

type UserRecord struct {
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type EventRecord struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`

	// payment
	User        string `json:"user,omitempty"`
	Operation   string `json:"operation,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Pending     bool   `json:"pending,omitempty"`

	// buy, sell, cancel, unsell, restore
	Vehicle       string  `json:"vehicle,omitempty"`
	Brand         string  `json:"brand,omitempty"`
	Model         string  `json:"model,omitempty"`
	Year          int     `json:"year,omitempty"`
	VIN           *string `json:"vin,omitempty"`
	CostCents     int64   `json:"cost_cents,omitempty"`
	PlanSaleCents int64   `json:"plan_sale_cents,omitempty"`
	PriceCents    int64   `json:"price_cents,omitempty"`
	Leasing       bool    `json:"leasing,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// Load decodes and validates a backfill file.
func Load(r io.Reader) (*File, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	var file File
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate reports every malformed row at once.
func (f *File) Validate() error {
	var errs error
	users := map[string]struct{}{}
	for i, u := range f.Users {
		if strings.TrimSpace(u.Key) == "" {
			errs = multierr.Append(errs, fmt.Errorf("users[%d]: key is required", i))
		} else if _, dup := users[u.Key]; dup {
			errs = multierr.Append(errs, fmt.Errorf("users[%d]: duplicate key %q", i, u.Key))
		}
		users[u.Key] = struct{}{}
		if _, err := enums.ParseUserRole(u.Role); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("users[%d]: %w", i, err))
		}
	}

	vehicles := map[string]struct{}{}
	for _, e := range f.Events {
		if e.Type == EventBuy {
			vehicles[e.Vehicle] = struct{}{}
		}
	}

	for i, e := range f.Events {
		if e.At.IsZero() {
			errs = multierr.Append(errs, fmt.Errorf("events[%d]: at is required", i))
		}
		switch e.Type {
		case EventPayment:
			if _, ok := users[e.User]; !ok {
				errs = multierr.Append(errs, fmt.Errorf("events[%d]: unknown user %q", i, e.User))
			}
			if _, err := enums.ParseOperationType(e.Operation); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("events[%d]: %w", i, err))
			}
		case EventBuy:
			if strings.TrimSpace(e.Vehicle) == "" {
				errs = multierr.Append(errs, fmt.Errorf("events[%d]: vehicle key is required", i))
			}
		case EventSell, EventCancel, EventUnsell, EventRestore:
			if _, ok := vehicles[e.Vehicle]; !ok {
				errs = multierr.Append(errs, fmt.Errorf("events[%d]: unknown vehicle %q", i, e.Vehicle))
			}
		default:
			errs = multierr.Append(errs, fmt.Errorf("events[%d]: unknown type %q", i, e.Type))
		}
	}
	return errs
}

// ordered returns the events sorted by time, keeping file order for ties.
func (f *File) ordered() []EventRecord {
	events := append([]EventRecord(nil), f.Events...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })
	return events
}
