// Package stockalert rate-limits low-stock notifications per blood type.
package stockalert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bloodhub/pkg/domain"
	"github.com/redis/go-redis/v9"
)

// Throttle lets one low-stock alert per blood type through per window.
// A nil Throttle lets every alert through.
type Throttle struct {
	redisClient *redis.Client
	prefix      string
	window      time.Duration
}

// NewThrottle creates a throttle backed by Redis SETNX keys. Empty addr disables throttling.
func NewThrottle(addr, password, prefix string, window time.Duration) *Throttle {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bloodhub:stockalert"
	}
	if window <= 0 {
		window = time.Hour
	}
	return &Throttle{
		redisClient: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
		window: window,
	}
}

// ShouldAlert claims the alert slot for bt. It returns false while a previous
// alert for the same type is still inside its window.
func (t *Throttle) ShouldAlert(ctx context.Context, bt domain.BloodType) (bool, error) {
	if t == nil || t.redisClient == nil {
		return true, nil
	}
	key := t.key(bt)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok, err := t.redisClient.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), t.window).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Reset clears the window for bt once stock recovers, so the next shortage alerts immediately.
func (t *Throttle) Reset(ctx context.Context, bt domain.BloodType) error {
	if t == nil || t.redisClient == nil {
		return nil
	}
	return t.redisClient.Del(ctx, t.key(bt)).Err()
}

var keyReplacer = strings.NewReplacer("+", "pos", "-", "neg")

func (t *Throttle) key(bt domain.BloodType) string {
	return fmt.Sprintf("%s:%s", t.prefix, keyReplacer.Replace(string(bt)))
}

func (t *Throttle) Close() error {
	if t == nil || t.redisClient == nil {
		return nil
	}
	return t.redisClient.Close()
}
