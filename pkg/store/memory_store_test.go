package store

import (
	"errors"
	"testing"
	"time"

	"bloodhub/pkg/domain"
)

func TestMemoryStoreWithTxCommitsOnSuccess(t *testing.T) {
	s := NewMemoryStore()
	err := s.WithTx(func(tx Store) error {
		id, err := tx.NextRequestID()
		if err != nil {
			return err
		}
		return tx.AppendRequest(domain.Request{ID: id, Requester: "9000000001", Status: domain.StatusPending})
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	r, ok, err := s.GetRequest(1)
	if err != nil || !ok {
		t.Fatalf("GetRequest(1) ok=%v err=%v", ok, err)
	}
	if r.Requester != "9000000001" {
		t.Fatalf("requester = %q, want 9000000001", r.Requester)
	}
}

func TestMemoryStoreWithTxRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	boom := errors.New("boom")
	err := s.WithTx(func(tx Store) error {
		if _, err := tx.NextRequestID(); err != nil {
			return err
		}
		if err := tx.SetRedAlert(true); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx err = %v, want boom", err)
	}
	active, _ := s.RedAlert()
	if active {
		t.Fatalf("red alert leaked from rolled back tx")
	}
	id, err := s.NextRequestID()
	if err != nil {
		t.Fatalf("NextRequestID: %v", err)
	}
	if id != 1 {
		t.Fatalf("id after rollback = %d, want 1", id)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	if err := s.PutUser(domain.User{Phone: "9000000002", Role: domain.RoleDonor}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	u, _, _ := s.GetUser("9000000002")
	u.Notifications = append(u.Notifications, domain.Notification{Type: domain.NotifyRedAlert})
	u.Points = 50

	again, _, _ := s.GetUser("9000000002")
	if again.Points != 0 || len(again.Notifications) != 0 {
		t.Fatalf("stored user mutated through returned copy: %+v", again)
	}
}

func TestMemoryStoreFailedPersistKeepsPreviousState(t *testing.T) {
	s := NewMemoryStore()
	s.persist = func(*state) error { return errors.New("disk full") }
	if err := s.SetRedAlert(true); err == nil {
		t.Fatalf("expected persist error")
	}
	active, _ := s.RedAlert()
	if active {
		t.Fatalf("red alert applied despite failed persist")
	}
}

func TestMemoryStoreUnitsKeepListOrder(t *testing.T) {
	s := NewMemoryStore()
	expiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	units := []domain.InventoryUnit{
		{ID: "INV-A", BloodType: domain.APos, Units: 2, Expiry: expiry},
		{ID: "INV-B", BloodType: domain.APos, Units: 1, Expiry: expiry},
	}
	if err := s.AppendUnits(units...); err != nil {
		t.Fatalf("AppendUnits: %v", err)
	}
	if err := s.AppendUnits(domain.InventoryUnit{ID: "INV-A"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate AppendUnits err = %v, want ErrConflict", err)
	}
	if err := s.ReplaceUnits(units[1:]); err != nil {
		t.Fatalf("ReplaceUnits: %v", err)
	}
	got, _ := s.ListUnits()
	if len(got) != 1 || got[0].ID != "INV-B" {
		t.Fatalf("units = %+v, want only INV-B", got)
	}
}

func TestMemoryStoreFindRequestsFilters(t *testing.T) {
	s := NewMemoryStore()
	for i, status := range []domain.RequestStatus{domain.StatusPending, domain.StatusCancelled, domain.StatusPending} {
		if err := s.AppendRequest(domain.Request{ID: int64(i + 1), Status: status}); err != nil {
			t.Fatalf("AppendRequest: %v", err)
		}
	}
	pending, err := s.FindRequests(func(r domain.Request) bool { return r.Status == domain.StatusPending })
	if err != nil {
		t.Fatalf("FindRequests: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != 1 || pending[1].ID != 3 {
		t.Fatalf("pending = %+v, want ids 1 and 3", pending)
	}
	next, _ := s.NextRequestID()
	if next != 4 {
		t.Fatalf("next id = %d, want 4", next)
	}
}
