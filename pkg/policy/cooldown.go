package policy

import (
	"time"

	"bloodhub/pkg/domain"
)

// CooldownPeriod is the minimum interval between two donations.
const CooldownPeriod = 90 * 24 * time.Hour

// InCooldown reports whether the donor is still inside the inter-donation
// interval. An active red alert suspends cooldown for every donor.
func InCooldown(u domain.User, redAlert bool, now time.Time) bool {
	return CooldownRemaining(u, redAlert, now) > 0
}

// CooldownRemaining is the time left before the donor becomes eligible again,
// zero when eligible.
func CooldownRemaining(u domain.User, redAlert bool, now time.Time) time.Duration {
	if redAlert || u.CooldownOverride || u.LastDonationAt == nil {
		return 0
	}
	elapsed := now.Sub(*u.LastDonationAt)
	if elapsed >= CooldownPeriod {
		return 0
	}
	return CooldownPeriod - elapsed
}

// CooldownStatus is the donor-facing eligibility summary.
type CooldownStatus struct {
	Phone          string     `json:"phone"`
	InCooldown     bool       `json:"inCooldown"`
	DaysRemaining  int        `json:"daysRemaining"`
	EligibleAt     *time.Time `json:"eligibleAt,omitempty"`
	RedAlertActive bool       `json:"redAlertActive"`
	LastDonationAt *time.Time `json:"lastDonationAt,omitempty"`
}

// StatusOf builds the cooldown summary; days are rounded up so a donor with
// any cooldown left never sees zero.
func StatusOf(u domain.User, redAlert bool, now time.Time) CooldownStatus {
	remaining := CooldownRemaining(u, redAlert, now)
	status := CooldownStatus{
		Phone:          u.Phone,
		InCooldown:     remaining > 0,
		RedAlertActive: redAlert,
		LastDonationAt: u.LastDonationAt,
	}
	if remaining > 0 {
		day := 24 * time.Hour
		status.DaysRemaining = int((remaining + day - 1) / day)
		at := now.Add(remaining)
		status.EligibleAt = &at
	}
	return status
}
