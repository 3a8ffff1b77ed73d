package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"bloodhub/pkg/domain"
	"bloodhub/pkg/events"
	"bloodhub/pkg/queue"
	"bloodhub/pkg/storage"
	"bloodhub/pkg/store"
)

const (
	hospitalPhone   = "9000000001"
	bankPhone       = "9000000002"
	orgPhone        = "9000000003"
	pendingHospital = "9000000005"
	adminPhone      = "9000000009"

	villageDonor   = "9100000001" // O+, same village as the hospital
	districtDonor  = "9100000002" // O+, same district, other taluk
	remoteDonor    = "9100000003" // O+, other district
	otherTypeDonor = "9100000004" // A+, same village
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingQueue struct {
	mu         sync.Mutex
	deliveries []queue.Delivery
}

func (q *recordingQueue) Enqueue(_ context.Context, d queue.Delivery) (queue.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d.ID = fmt.Sprintf("d-%d", len(q.deliveries)+1)
	q.deliveries = append(q.deliveries, d)
	return d, nil
}

func (q *recordingQueue) all() []queue.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Delivery(nil), q.deliveries...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = data
	return nil
}

func (m *memoryObjects) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memoryObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://reports.test/" + key, nil
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(m.objects, key)
	return nil
}

// failingStore fails every transaction once broken is set.
type failingStore struct {
	store.Store
	broken bool
}

func (f *failingStore) WithTx(fn func(tx store.Store) error) error {
	if f.broken {
		return errors.New("disk unavailable")
	}
	return f.Store.WithTx(fn)
}

type fixture struct {
	app     *App
	store   *store.MemoryStore
	clock   *testClock
	queue   *recordingQueue
	events  *recordingPublisher
	objects *memoryObjects
}

var (
	edappally   = domain.Location{District: "Ernakulam", Taluk: "Kanayannur", Village: "Edappally"}
	kalamassery = domain.Location{District: "Ernakulam", Taluk: "Aluva", Village: "Kalamassery"}
	fortKochi   = domain.Location{District: "Ernakulam", Taluk: "Kochi", Village: "Fort Kochi"}
	mayyanad    = domain.Location{District: "Kollam", Taluk: "Kollam", Village: "Mayyanad"}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, func(*Config) {})
}

func newFixtureWith(t *testing.T, adjust func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewMemoryStore(),
		clock:   &testClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		queue:   &recordingQueue{},
		events:  &recordingPublisher{},
		objects: &memoryObjects{},
	}
	users := []domain.User{
		{Phone: hospitalPhone, Name: "General Hospital", Role: domain.RoleHospital, Location: edappally, Approved: true},
		{Phone: bankPhone, Name: "City Blood Bank", Role: domain.RoleBloodBank, Location: fortKochi, Approved: true},
		{Phone: orgPhone, Name: "Relief Trust", Role: domain.RoleOrganization, Location: edappally},
		{Phone: pendingHospital, Name: "New Clinic", Role: domain.RoleHospital, Location: kalamassery},
		{Phone: adminPhone, Name: "Admin", Role: domain.RoleAdmin},
		{Phone: villageDonor, Name: "Anu", Role: domain.RoleDonor, BloodGroup: domain.OPos, Location: edappally},
		{Phone: districtDonor, Name: "Biju", Role: domain.RoleDonor, BloodGroup: domain.OPos, Location: kalamassery},
		{Phone: remoteDonor, Name: "Chitra", Role: domain.RoleDonor, BloodGroup: domain.OPos, Location: mayyanad},
		{Phone: otherTypeDonor, Name: "Deepa", Role: domain.RoleDonor, BloodGroup: domain.APos, Location: edappally},
	}
	for _, u := range users {
		if err := f.store.PutUser(u); err != nil {
			t.Fatalf("seed %s: %v", u.Phone, err)
		}
	}
	cfg := Config{
		Store:      f.store,
		Deliveries: f.queue,
		Events:     f.events,
		Reports:    f.objects,
		Now:        f.clock.Now,
	}
	adjust(&cfg)
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.app = a
	return f
}

func (f *fixture) user(t *testing.T, phone string) domain.User {
	t.Helper()
	u, ok, err := f.store.GetUser(phone)
	if err != nil || !ok {
		t.Fatalf("GetUser(%s) ok=%v err=%v", phone, ok, err)
	}
	return u
}

func (f *fixture) request(t *testing.T, id int64) domain.Request {
	t.Helper()
	r, ok, err := f.store.GetRequest(id)
	if err != nil || !ok {
		t.Fatalf("GetRequest(%d) ok=%v err=%v", id, ok, err)
	}
	return r
}

func (f *fixture) create(t *testing.T, requester string, bt domain.BloodType, units int, urgency domain.Urgency) int64 {
	t.Helper()
	id, err := f.app.CreateRequest(context.Background(), requester, bt, units, urgency)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	return id
}

func (f *fixture) addStock(t *testing.T, bt domain.BloodType, units int) domain.InventoryUnit {
	t.Helper()
	unit, err := f.app.AddStock(context.Background(), bankPhone, StockEntry{BloodType: bt, Units: units})
	if err != nil {
		t.Fatalf("AddStock: %v", err)
	}
	return unit
}

func notificationsOf(t *testing.T, f *fixture, phone string, typ domain.NotificationType) []domain.Notification {
	t.Helper()
	var out []domain.Notification
	for _, n := range f.user(t, phone).Notifications {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

// minimalPDF writes a single-page document with a valid xref table.
func minimalPDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}
