// Package numbering generates human-readable document numbers (patient ids,
// prescription serials, bill numbers) that restart at 1 in every scope.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/onclinic/clinic/internal/platform/store"
)

const defaultMaxRetries = 5

// NextSerial returns format(max+1) where max is the highest serial among
// records whose scope equals scopeKey, or format(1) when there is none.
// Records extract cannot parse are ignored.
func NextSerial[T any](scopeKey string, records []T, extract func(T) (scope string, serial int, ok bool), format func(serial int) string) string {
	highest := 0
	for _, r := range records {
		scope, n, ok := extract(r)
		if !ok || scope != scopeKey {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return format(highest + 1)
}

// Counter hands out atomically increasing serials per key. seed supplies the
// starting value when the key does not exist yet.
type Counter interface {
	Next(ctx context.Context, key string, seed func(ctx context.Context) (int, error), ttl time.Duration) (int, error)
}

// Generator computes the next number of a scheme, either by scanning the
// store or, when a Counter is configured, by atomic increment.
type Generator struct {
	store      store.Store
	counter    Counter
	loc        *time.Location
	now        func() time.Time
	maxRetries int
	logger     zerolog.Logger
}

type Option func(*Generator)

// WithCounter takes numbers from c instead of scanning. A number handed out
// for an insert that then fails is not reused, so a scope can have gaps.
func WithCounter(c Counter) Option {
	return func(g *Generator) { g.counter = c }
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func WithMaxRetries(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxRetries = n
		}
	}
}

func NewGenerator(s store.Store, loc *time.Location, logger zerolog.Logger, opts ...Option) *Generator {
	if loc == nil {
		loc = time.Local
	}
	g := &Generator{
		store:      s,
		loc:        loc,
		now:        time.Now,
		maxRetries: defaultMaxRetries,
		logger:     logger,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Next returns the next number for scheme in the current scope. Without a
// Counter, two concurrent callers may receive the same number; Assign guards
// against that through the store's unique constraints.
func (g *Generator) Next(ctx context.Context, scheme Scheme) (string, error) {
	scope := scheme.ScopeKey(g.now().In(g.loc))

	if g.counter != nil {
		n, err := g.counter.Next(ctx, scheme.Name+":"+scope, func(ctx context.Context) (int, error) {
			return g.maxSerial(ctx, scheme, scope)
		}, scheme.ttl)
		if err != nil {
			return "", fmt.Errorf("next %s: %w", scheme.Name, err)
		}
		return scheme.Format(scope, n), nil
	}

	recs, err := g.records(ctx, scheme)
	if err != nil {
		return "", err
	}
	return NextSerial(scope, recs, func(r store.Record) (string, int, bool) {
		return scheme.Parse(r.String(scheme.Field))
	}, func(n int) string {
		return scheme.Format(scope, n)
	}), nil
}

// Assign generates a number and passes it to insert, generating a fresh one
// whenever insert fails with store.ErrConflict. Each attempt runs in its own
// nested transaction so a rejected insert does not poison an enclosing one.
func (g *Generator) Assign(ctx context.Context, scheme Scheme, insert func(ctx context.Context, number string) error) (string, error) {
	for attempt := 1; ; attempt++ {
		number, err := g.Next(ctx, scheme)
		if err != nil {
			return "", err
		}
		_, err = store.RunInTx(ctx, g.store, func(ctx context.Context) error {
			return insert(ctx, number)
		})
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= g.maxRetries {
			return "", err
		}
		g.logger.Warn().
			Str("scheme", scheme.Name).
			Str("number", number).
			Int("attempt", attempt).
			Msg("number already taken, retrying")
	}
}

func (g *Generator) GeneratePatientID(ctx context.Context) (string, error) {
	return g.Next(ctx, PatientID)
}

func (g *Generator) GeneratePrescriptionSerialNumber(ctx context.Context) (string, error) {
	return g.Next(ctx, PrescriptionSerial)
}

func (g *Generator) GenerateBillNumber(ctx context.Context) (string, error) {
	return g.Next(ctx, ClinicBill)
}

func (g *Generator) GeneratePharmacyBillNumber(ctx context.Context) (string, error) {
	return g.Next(ctx, PharmacyBill)
}

func (g *Generator) records(ctx context.Context, scheme Scheme) ([]store.Record, error) {
	recs, err := g.store.List(ctx, scheme.Collection, nil)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", scheme.Collection, err)
	}
	out := recs[:0]
	for _, r := range recs {
		if scheme.Includes(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (g *Generator) maxSerial(ctx context.Context, scheme Scheme, scope string) (int, error) {
	recs, err := g.records(ctx, scheme)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, r := range recs {
		s, n, ok := scheme.Parse(r.String(scheme.Field))
		if ok && s == scope && n > highest {
			highest = n
		}
	}
	return highest, nil
}
