package store

import (
	"fmt"
	"sync"

	"bloodhub/pkg/domain"
)

type state struct {
	users        map[string]domain.User
	userOrder    []string
	requests     map[int64]domain.Request
	requestOrder []int64
	units        []domain.InventoryUnit
	counter      int64
	redAlert     bool
}

func newState() *state {
	return &state{
		users:    make(map[string]domain.User),
		requests: make(map[int64]domain.Request),
	}
}

func (s *state) clone() *state {
	out := &state{
		users:        make(map[string]domain.User, len(s.users)),
		userOrder:    append([]string(nil), s.userOrder...),
		requests:     make(map[int64]domain.Request, len(s.requests)),
		requestOrder: append([]int64(nil), s.requestOrder...),
		units:        cloneUnits(s.units),
		counter:      s.counter,
		redAlert:     s.redAlert,
	}
	for k, u := range s.users {
		out.users[k] = u.Clone()
	}
	for k, r := range s.requests {
		out.requests[k] = r.Clone()
	}
	return out
}

func cloneUnits(units []domain.InventoryUnit) []domain.InventoryUnit {
	out := make([]domain.InventoryUnit, len(units))
	for i, u := range units {
		out[i] = u
		if u.RequestID != nil {
			id := *u.RequestID
			out[i].RequestID = &id
		}
	}
	return out
}

// MemoryStore keeps all records in-process. Writers are serialized and work on
// a private copy of the state that is swapped in only after the optional
// persist hook succeeds, so a failed flush never leaves a partial write behind.
type MemoryStore struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	st      *state
	persist func(*state) error
	inTx    bool
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newState()}
}

func (m *MemoryStore) update(fn func(*state) error) error {
	if m.inTx {
		return fn(m.st)
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.RLock()
	next := m.st.clone()
	m.mu.RUnlock()
	if err := fn(next); err != nil {
		return err
	}
	return m.commit(next)
}

func (m *MemoryStore) commit(next *state) error {
	if m.persist != nil {
		if err := m.persist(next); err != nil {
			return fmt.Errorf("persist: %w", err)
		}
	}
	m.mu.Lock()
	m.st = next
	m.mu.Unlock()
	return nil
}

// WithTx runs fn against a private copy of the state and commits it on success.
func (m *MemoryStore) WithTx(fn func(tx Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.RLock()
	tx := &MemoryStore{st: m.st.clone(), inTx: true}
	m.mu.RUnlock()
	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx.st)
}

// GetUser looks up a user by phone.
func (m *MemoryStore) GetUser(phone string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.st.users[phone]
	if !ok {
		return domain.User{}, false, nil
	}
	return u.Clone(), true, nil
}

// PutUser inserts or replaces a user record.
func (m *MemoryStore) PutUser(u domain.User) error {
	if u.Phone == "" {
		return fmt.Errorf("user phone required")
	}
	return m.update(func(st *state) error {
		if _, exists := st.users[u.Phone]; !exists {
			st.userOrder = append(st.userOrder, u.Phone)
		}
		st.users[u.Phone] = u.Clone()
		return nil
	})
}

// ListUsers returns users in insertion order.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.st.userOrder))
	for _, phone := range m.st.userOrder {
		if u, ok := m.st.users[phone]; ok {
			res = append(res, u.Clone())
		}
	}
	return res, nil
}

// NextRequestID advances the process-wide request counter.
func (m *MemoryStore) NextRequestID() (int64, error) {
	var id int64
	err := m.update(func(st *state) error {
		st.counter++
		id = st.counter
		return nil
	})
	return id, err
}

// AppendRequest stores a new request; ids are never reused.
func (m *MemoryStore) AppendRequest(r domain.Request) error {
	return m.update(func(st *state) error {
		if _, exists := st.requests[r.ID]; exists {
			return fmt.Errorf("request %d: %w", r.ID, ErrConflict)
		}
		if r.ID > st.counter {
			st.counter = r.ID
		}
		st.requests[r.ID] = r.Clone()
		st.requestOrder = append(st.requestOrder, r.ID)
		return nil
	})
}

// GetRequest retrieves a request by id.
func (m *MemoryStore) GetRequest(id int64) (domain.Request, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.st.requests[id]
	if !ok {
		return domain.Request{}, false, nil
	}
	return r.Clone(), true, nil
}

// FindRequests returns requests accepted by match in creation order; a nil
// match returns every request.
func (m *MemoryStore) FindRequests(match func(domain.Request) bool) ([]domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Request, 0)
	for _, id := range m.st.requestOrder {
		r, ok := m.st.requests[id]
		if !ok {
			continue
		}
		if match == nil || match(r) {
			res = append(res, r.Clone())
		}
	}
	return res, nil
}

// SaveRequest replaces an existing request.
func (m *MemoryStore) SaveRequest(r domain.Request) error {
	return m.update(func(st *state) error {
		if _, exists := st.requests[r.ID]; !exists {
			return fmt.Errorf("request %d not found", r.ID)
		}
		st.requests[r.ID] = r.Clone()
		return nil
	})
}

// AppendUnits adds units at the end of the inventory list.
func (m *MemoryStore) AppendUnits(units ...domain.InventoryUnit) error {
	return m.update(func(st *state) error {
		for _, u := range units {
			for _, existing := range st.units {
				if existing.ID == u.ID {
					return fmt.Errorf("unit %s: %w", u.ID, ErrConflict)
				}
			}
		}
		st.units = append(st.units, cloneUnits(units)...)
		return nil
	})
}

// GetUnit looks up one inventory entry.
func (m *MemoryStore) GetUnit(id string) (domain.InventoryUnit, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.st.units {
		if u.ID == id {
			return cloneUnits([]domain.InventoryUnit{u})[0], true, nil
		}
	}
	return domain.InventoryUnit{}, false, nil
}

// ListUnits returns inventory in list order.
func (m *MemoryStore) ListUnits() ([]domain.InventoryUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneUnits(m.st.units), nil
}

// ReplaceUnits swaps the whole inventory list.
func (m *MemoryStore) ReplaceUnits(units []domain.InventoryUnit) error {
	return m.update(func(st *state) error {
		st.units = cloneUnits(units)
		return nil
	})
}

// RedAlert reports the process-wide red alert flag.
func (m *MemoryStore) RedAlert() (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.redAlert, nil
}

// SetRedAlert persists the red alert flag.
func (m *MemoryStore) SetRedAlert(active bool) error {
	return m.update(func(st *state) error {
		st.redAlert = active
		return nil
	})
}
