package app

import (
	"fmt"
	"sync"

	"bloodhub/pkg/domain"
)

// keyedLocks hands out one mutex per key and drops it when the last holder leaves.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

// lock acquires keys in the order given and returns a func releasing them in
// reverse. Callers pass keys in the global order requester, request, stock, user.
func (k *keyedLocks) lock(keys ...string) func() {
	held := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		k.acquire(key)
		held = append(held, key)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			k.release(held[i])
		}
	}
}

func (k *keyedLocks) acquire(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.mu.Lock()
}

func (k *keyedLocks) release(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	l.mu.Unlock()
}

func requesterKey(phone string) string { return "requester:" + phone }
func requestKey(id int64) string       { return fmt.Sprintf("request:%d", id) }
func stockKey(bt domain.BloodType) string {
	return "stock:" + string(bt)
}
func userKey(phone string) string { return "user:" + phone }

// allStockKeys covers every blood type, for operations that purge or scan the whole inventory.
func allStockKeys() []string {
	keys := make([]string, 0, len(domain.BloodTypes))
	for _, bt := range domain.BloodTypes {
		keys = append(keys, stockKey(bt))
	}
	return keys
}

const redAlertKey = "flag:red-alert"
