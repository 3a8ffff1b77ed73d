package policy

import (
	"testing"
	"time"

	"bloodhub/pkg/domain"
)

func donorDonatedAgo(ago time.Duration, now time.Time) domain.User {
	last := now.Add(-ago)
	return domain.User{Phone: "9000000001", Role: domain.RoleDonor, LastDonationAt: &last}
}

func TestInCooldownBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	cases := []struct {
		name     string
		user     domain.User
		redAlert bool
		want     bool
	}{
		{"89 days ago", donorDonatedAgo(89*day, now), false, true},
		{"90 days ago", donorDonatedAgo(90*day, now), false, false},
		{"120 days ago", donorDonatedAgo(120*day, now), false, false},
		{"never donated", domain.User{Phone: "9000000002", Role: domain.RoleDonor}, false, false},
		{"red alert", donorDonatedAgo(day, now), true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := InCooldown(tc.user, tc.redAlert, now); got != tc.want {
				t.Fatalf("InCooldown() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCooldownOverride(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	u := donorDonatedAgo(24*time.Hour, now)
	u.CooldownOverride = true
	if InCooldown(u, false, now) {
		t.Fatalf("override should suspend cooldown")
	}
	u.CooldownOverride = false
	if !InCooldown(u, false, now) {
		t.Fatalf("expected cooldown without override")
	}
	if InCooldown(u, true, now) {
		t.Fatalf("red alert should suspend cooldown regardless of override flag")
	}
}

func TestStatusOfRoundsDaysUp(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	u := donorDonatedAgo(89*24*time.Hour+time.Hour, now)
	status := StatusOf(u, false, now)
	if !status.InCooldown {
		t.Fatalf("expected donor in cooldown")
	}
	if status.DaysRemaining != 1 {
		t.Fatalf("daysRemaining = %d, want 1", status.DaysRemaining)
	}
	if status.EligibleAt == nil || !status.EligibleAt.Equal(u.LastDonationAt.Add(CooldownPeriod)) {
		t.Fatalf("eligibleAt = %v", status.EligibleAt)
	}

	status = StatusOf(u, true, now)
	if status.InCooldown || status.DaysRemaining != 0 || status.EligibleAt != nil {
		t.Fatalf("red alert status = %+v", status)
	}
}

func TestBadgeFor(t *testing.T) {
	cases := []struct {
		points int
		want   BadgeLevel
	}{
		{0, BadgeNew},
		{9, BadgeNew},
		{10, BadgeBronze},
		{49, BadgeBronze},
		{50, BadgeSilver},
		{99, BadgeSilver},
		{100, BadgeGold},
		{250, BadgeGold},
	}
	for _, tc := range cases {
		if got := BadgeFor(tc.points); got.Level != tc.want {
			t.Fatalf("BadgeFor(%d) = %q, want %q", tc.points, got.Level, tc.want)
		}
	}
	if got := BadgeFor(70).LivesSaved; got != 7 {
		t.Fatalf("livesSaved = %d, want 7", got)
	}
}
