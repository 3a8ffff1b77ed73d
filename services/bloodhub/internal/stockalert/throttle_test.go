package stockalert

import (
	"context"
	"testing"
	"time"

	"bloodhub/pkg/domain"
	"github.com/alicebob/miniredis/v2"
)

func TestThrottleOnePerWindow(t *testing.T) {
	redis := miniredis.RunT(t)
	throttle := NewThrottle(redis.Addr(), "", "test:stock", time.Minute)
	ctx := context.Background()

	first, err := throttle.ShouldAlert(ctx, domain.ONeg)
	if err != nil || !first {
		t.Fatalf("first alert = %v err=%v, want true", first, err)
	}
	second, err := throttle.ShouldAlert(ctx, domain.ONeg)
	if err != nil || second {
		t.Fatalf("second alert = %v err=%v, want false", second, err)
	}
	other, _ := throttle.ShouldAlert(ctx, domain.OPos)
	if !other {
		t.Fatalf("O+ should not share the O- window")
	}

	redis.FastForward(2 * time.Minute)
	again, _ := throttle.ShouldAlert(ctx, domain.ONeg)
	if !again {
		t.Fatalf("alert should pass after the window elapses")
	}
}

func TestThrottleReset(t *testing.T) {
	redis := miniredis.RunT(t)
	throttle := NewThrottle(redis.Addr(), "", "test:stock", time.Hour)
	ctx := context.Background()
	_, _ = throttle.ShouldAlert(ctx, domain.ABNeg)
	if err := throttle.Reset(ctx, domain.ABNeg); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if ok, _ := throttle.ShouldAlert(ctx, domain.ABNeg); !ok {
		t.Fatalf("alert should pass after reset")
	}
}

func TestNilThrottleAlwaysAlerts(t *testing.T) {
	throttle := NewThrottle("", "", "", 0)
	if throttle != nil {
		t.Fatalf("expected nil throttle for empty addr")
	}
	ok, err := throttle.ShouldAlert(context.Background(), domain.APos)
	if err != nil || !ok {
		t.Fatalf("nil throttle = %v err=%v, want true", ok, err)
	}
}
