// Package memory is an in-process repository.Store for tests and single-node dev runs.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/jmehdipour/aigen-gateway/internal/repository"
)

// Faults makes individual operations fail; zero value means none do.
type Faults struct {
	FindLicense error
	SaveLicense error
	FindWindow  error
	SaveWindow  error
	Outbox      error

	// SaveLicenseFor fails Save for the listed license ids only.
	SaveLicenseFor map[string]error
}

// Store keeps copies of every record; callers never share pointers with it.
// Writes made inside WithLicense are staged and applied only when fn succeeds.
type Store struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	licenses map[string]model.License
	windows  map[string]model.UsageWindow
	outbox   []model.OutboxEvent
	faults   Faults
}

func New() *Store {
	return &Store{
		locks:    make(map[string]*sync.Mutex),
		licenses: make(map[string]model.License),
		windows:  make(map[string]model.UsageWindow),
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) SetFaults(f Faults) {
	s.mu.Lock()
	s.faults = f
	s.mu.Unlock()
}

func (s *Store) fault(pick func(Faults) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pick(s.faults)
}

// Put inserts or replaces a license without going through a unit of work.
func (s *Store) Put(l model.License) {
	s.mu.Lock()
	s.licenses[l.ID] = l
	s.mu.Unlock()
}

// Get returns a copy of the stored license.
func (s *Store) Get(id string) (model.License, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.licenses[id]
	return l, ok
}

// Window returns a copy of the stored window.
func (s *Store) Window(licenseID string) (model.UsageWindow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[licenseID]
	return w, ok
}

// Outbox returns a copy of every committed outbox row.
func (s *Store) Outbox() []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OutboxEvent(nil), s.outbox...)
}

func (s *Store) Licenses() repository.LicensesRepository   { return &licenses{s: s} }
func (s *Store) Windows() repository.UsageWindowsRepository { return &windows{s: s} }

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

func (s *Store) WithLicense(ctx context.Context, licenseID string, fn func(ctx context.Context, u repository.Unit) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := s.lockFor(licenseID)
	m.Lock()
	defer m.Unlock()

	u := &unit{s: s, licenses: map[string]model.License{}}
	if err := fn(ctx, u); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range u.licenses {
		s.licenses[id] = l
	}
	s.outbox = append(s.outbox, u.outbox...)
	return nil
}

type unit struct {
	s        *Store
	licenses map[string]model.License
	outbox   []model.OutboxEvent
}

func (u *unit) Licenses() repository.LicensesRepository   { return &licenses{s: u.s, u: u} }
func (u *unit) Windows() repository.UsageWindowsRepository { return &windows{s: u.s} }
func (u *unit) Outbox() repository.OutboxRepository        { return &outbox{s: u.s, u: u} }

type licenses struct {
	s *Store
	u *unit // nil outside a unit of work
}

func (r *licenses) FindByID(_ context.Context, id string) (*model.License, error) {
	if err := r.s.fault(func(f Faults) error { return f.FindLicense }); err != nil {
		return nil, err
	}
	if r.u != nil {
		if l, ok := r.u.licenses[id]; ok {
			return &l, nil
		}
	}
	l, ok := r.s.Get(id)
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (r *licenses) FindByAPIKey(_ context.Context, apiKey string) (*model.License, error) {
	if err := r.s.fault(func(f Faults) error { return f.FindLicense }); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range r.s.licenses {
		if l.APIKey == apiKey {
			return &l, nil
		}
	}
	return nil, nil
}

func (r *licenses) Create(_ context.Context, l *model.License) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, dup := r.s.licenses[l.ID]; dup {
		return errors.New("duplicate license id")
	}
	r.s.licenses[l.ID] = *l
	return nil
}

func (r *licenses) Save(_ context.Context, l *model.License) error {
	err := r.s.fault(func(f Faults) error {
		if err, ok := f.SaveLicenseFor[l.ID]; ok {
			return err
		}
		return f.SaveLicense
	})
	if err != nil {
		return err
	}
	if r.u != nil {
		r.u.licenses[l.ID] = *l
		return nil
	}
	r.s.Put(*l)
	return nil
}

func (r *licenses) list(afterID string, limit int, match func(model.License) bool) []string {
	r.s.mu.Lock()
	ids := make([]string, 0)
	for id, l := range r.s.licenses {
		if id > afterID && match(l) {
			ids = append(ids, id)
		}
	}
	r.s.mu.Unlock()

	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func (r *licenses) ListDueForReset(_ context.Context, monthStart time.Time, afterID string, limit int) ([]string, error) {
	if err := r.s.fault(func(f Faults) error { return f.FindLicense }); err != nil {
		return nil, err
	}
	return r.list(afterID, limit, func(l model.License) bool { return l.LastResetAt.Before(monthStart) }), nil
}

func (r *licenses) ListExpired(_ context.Context, now time.Time, afterID string, limit int) ([]string, error) {
	if err := r.s.fault(func(f Faults) error { return f.FindLicense }); err != nil {
		return nil, err
	}
	return r.list(afterID, limit, func(l model.License) bool { return l.IsExpired(now) }), nil
}

type windows struct {
	s *Store
}

func (r *windows) FindByLicenseID(_ context.Context, licenseID string) (*model.UsageWindow, error) {
	if err := r.s.fault(func(f Faults) error { return f.FindWindow }); err != nil {
		return nil, err
	}
	w, ok := r.s.Window(licenseID)
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r *windows) Create(ctx context.Context, w *model.UsageWindow) error {
	return r.Save(ctx, w)
}

// Save writes straight through, like the Redis repository, which is not
// part of the license transaction either.
func (r *windows) Save(_ context.Context, w *model.UsageWindow) error {
	if err := r.s.fault(func(f Faults) error { return f.SaveWindow }); err != nil {
		return err
	}
	r.s.mu.Lock()
	r.s.windows[w.LicenseID] = *w
	r.s.mu.Unlock()
	return nil
}

type outbox struct {
	s *Store
	u *unit
}

func (r *outbox) Insert(_ context.Context, aggregate, aggregateID, topic string, payload []byte) error {
	if err := r.s.fault(func(f Faults) error { return f.Outbox }); err != nil {
		return err
	}
	r.u.outbox = append(r.u.outbox, model.OutboxEvent{
		Aggregate:   aggregate,
		AggregateID: aggregateID,
		Topic:       topic,
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   time.Now(),
	})
	return nil
}
