package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"bloodhub/pkg/domain"
)

func TestFileStoreReloadsCommittedState(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	last := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.PutUser(domain.User{
		Phone:          "9000000003",
		Name:           "Anu",
		Role:           domain.RoleDonor,
		BloodGroup:     domain.ONeg,
		LastDonationAt: &last,
		Location:       domain.Location{District: "Ernakulam", Taluk: "Kochi"},
	}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	err = s.WithTx(func(tx Store) error {
		id, err := tx.NextRequestID()
		if err != nil {
			return err
		}
		if err := tx.AppendRequest(domain.Request{ID: id, Status: domain.StatusPending, BloodType: domain.ONeg, Units: 2}); err != nil {
			return err
		}
		return tx.SetRedAlert(true)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	u, ok, _ := reopened.GetUser("9000000003")
	if !ok || u.BloodGroup != domain.ONeg || u.LastDonationAt == nil || !u.LastDonationAt.Equal(last) {
		t.Fatalf("user after reload = %+v", u)
	}
	if active, _ := reopened.RedAlert(); !active {
		t.Fatalf("red alert lost on reload")
	}
	next, _ := reopened.NextRequestID()
	if next != 2 {
		t.Fatalf("next id after reload = %d, want 2", next)
	}
}

func TestFileStoreFlushFailureDiscardsWrite(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	// A directory where the snapshot should be makes the rename fail.
	if err := os.Mkdir(filepath.Join(dir, snapshotFile), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, snapshotFile, "keep"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.PutUser(domain.User{Phone: "9000000004", Role: domain.RoleDonor}); err == nil {
		t.Fatalf("expected flush error")
	}
	if _, ok, _ := s.GetUser("9000000004"); ok {
		t.Fatalf("user visible after failed flush")
	}
}

func TestFileStoreFailedCommitKeepsDiskAndMemoryInStep(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, snapshotFile)
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	donor := domain.User{Phone: "9000000005", Name: "Biju", Role: domain.RoleDonor, BloodGroup: domain.OPos}
	if err := s.PutUser(donor); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	committed, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	// Block the rename, then run a commit touching users and requests.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove snapshot: %v", err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, "keep"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err = s.WithTx(func(tx Store) error {
		rich := donor
		rich.Points = 20
		if err := tx.PutUser(rich); err != nil {
			return err
		}
		id, err := tx.NextRequestID()
		if err != nil {
			return err
		}
		return tx.AppendRequest(domain.Request{ID: id, Status: domain.StatusPending, BloodType: domain.OPos, Units: 1})
	})
	if err == nil {
		t.Fatalf("expected commit error")
	}
	if u, _, _ := s.GetUser(donor.Phone); u.Points != 0 {
		t.Fatalf("in-memory points after failed commit = %d, want 0", u.Points)
	}
	if leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp")); len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}

	if err := os.RemoveAll(path); err != nil {
		t.Fatalf("remove blocker: %v", err)
	}
	if err := os.WriteFile(path, committed, 0o644); err != nil {
		t.Fatalf("restore snapshot: %v", err)
	}
	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	u, ok, _ := reopened.GetUser(donor.Phone)
	if !ok || u.Points != 0 {
		t.Fatalf("on-disk donor = %+v ok=%v, want 0 points", u, ok)
	}
	requests, err := reopened.FindRequests(func(domain.Request) bool { return true })
	if err != nil || len(requests) != 0 {
		t.Fatalf("on-disk requests = %d err=%v, want 0", len(requests), err)
	}
}

func TestNewFileStoreRequiresDir(t *testing.T) {
	if _, err := NewFileStore("  "); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}
