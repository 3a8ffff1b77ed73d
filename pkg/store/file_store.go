package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bloodhub/pkg/domain"
)

// snapshotFile holds the whole store. A commit replaces it with a single
// rename, so a failed write leaves the previous commit intact.
const snapshotFile = "bloodhub.json"

type snapshot struct {
	Users          []domain.User          `json:"users"`
	Requests       []domain.Request       `json:"requests"`
	Inventory      []domain.InventoryUnit `json:"inventory"`
	RequestCounter int64                  `json:"requestCounter"`
	RedAlert       bool                   `json:"redAlert"`
}

// NewFileStore returns a memory store persisted as one JSON snapshot under
// dir. Every committed write rewrites the snapshot before it becomes visible.
func NewFileStore(dir string) (*MemoryStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, snapshotFile)
	st, err := loadState(path)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{
		st: st,
		persist: func(next *state) error {
			return writeTable(path, snapshotOf(next))
		},
	}, nil
}

func loadState(path string) (*state, error) {
	st := newState()
	var snap snapshot
	if err := readTable(path, &snap); err != nil {
		return nil, err
	}
	for _, u := range snap.Users {
		if _, dup := st.users[u.Phone]; !dup {
			st.userOrder = append(st.userOrder, u.Phone)
		}
		st.users[u.Phone] = u
	}
	for _, r := range snap.Requests {
		if _, dup := st.requests[r.ID]; !dup {
			st.requestOrder = append(st.requestOrder, r.ID)
		}
		st.requests[r.ID] = r
		if r.ID > st.counter {
			st.counter = r.ID
		}
	}
	st.units = snap.Inventory
	if snap.RequestCounter > st.counter {
		st.counter = snap.RequestCounter
	}
	st.redAlert = snap.RedAlert
	return st, nil
}

func readTable(path string, out any) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func snapshotOf(st *state) snapshot {
	snap := snapshot{
		Users:          make([]domain.User, 0, len(st.userOrder)),
		Requests:       make([]domain.Request, 0, len(st.requestOrder)),
		Inventory:      st.units,
		RequestCounter: st.counter,
		RedAlert:       st.redAlert,
	}
	for _, phone := range st.userOrder {
		snap.Users = append(snap.Users, st.users[phone])
	}
	for _, id := range st.requestOrder {
		snap.Requests = append(snap.Requests, st.requests[id])
	}
	if snap.Inventory == nil {
		snap.Inventory = []domain.InventoryUnit{}
	}
	return snap
}

// writeTable replaces path atomically through a temp file in the same directory.
func writeTable(path string, data any) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
