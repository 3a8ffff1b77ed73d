package app

import (
	"context"
	"fmt"

	"bloodhub/internal/util"
	"bloodhub/pkg/domain"
	"bloodhub/pkg/events"
	"bloodhub/pkg/policy"
	"bloodhub/pkg/store"
)

// ToggleRedAlert flips the red alert flag and returns the new value.
// Activating it tells every donor that cooldowns are suspended.
func (a *App) ToggleRedAlert(ctx context.Context, adminPhone string) (bool, error) {
	unlock := a.locks.lock(redAlertKey)
	var active bool
	err := a.withTx("toggle red alert", func(tx store.Store) error {
		if _, err := loadActor(tx, adminPhone, domain.Role.CanAdminister); err != nil {
			return err
		}
		current, err := tx.RedAlert()
		if err != nil {
			return err
		}
		active = !current
		return tx.SetRedAlert(active)
	})
	unlock()
	if err != nil {
		return false, err
	}

	util.LoggerFromContext(ctx).Info("red alert toggled", "active", active, "admin", adminPhone)
	a.publish(ctx, events.Event{Type: events.RedAlertToggled, Actor: adminPhone, RedAlert: &active})
	if active {
		donors, err := a.phonesWhere(func(u domain.User) bool { return u.Role.CanDonate() })
		if err != nil {
			util.LoggerFromContext(ctx).Warn("list donors failed", "err", err)
			return active, nil
		}
		a.deliverInbox(ctx, donors, domain.Notification{
			Type:      domain.NotifyRedAlert,
			Message:   redAlertMessage,
			Timestamp: a.now(),
		})
		a.enqueueDelivery(ctx, DeliveryRedAlert, 0, donors, redAlertMessage)
	}
	return active, nil
}

func (a *App) loadDonor(phone string) (domain.User, bool, error) {
	u, ok, err := a.store.GetUser(phone)
	if err != nil {
		return domain.User{}, false, storageErr("get user", err)
	}
	if !ok {
		return domain.User{}, false, fmt.Errorf("%w: user %s", ErrNotFound, phone)
	}
	if !u.Role.CanDonate() {
		return domain.User{}, false, fmt.Errorf("%w: %s is not a donor", ErrInvalidInput, phone)
	}
	redAlert, err := a.store.RedAlert()
	if err != nil {
		return domain.User{}, false, storageErr("read red alert", err)
	}
	return u, redAlert, nil
}

// CooldownStatus reports whether the donor may pledge now and when they next can.
func (a *App) CooldownStatus(ctx context.Context, phone string) (policy.CooldownStatus, error) {
	u, redAlert, err := a.loadDonor(phone)
	if err != nil {
		return policy.CooldownStatus{}, err
	}
	return policy.StatusOf(u, redAlert, a.now()), nil
}

// BadgeOf derives the donor's badge from accumulated points.
func (a *App) BadgeOf(ctx context.Context, phone string) (policy.Badge, error) {
	u, _, err := a.loadDonor(phone)
	if err != nil {
		return policy.Badge{}, err
	}
	return policy.BadgeFor(u.Points), nil
}

// DonorProfile is the donor's own dashboard.
type DonorProfile struct {
	User     domain.User           `json:"user"`
	Cooldown policy.CooldownStatus `json:"cooldown"`
	Badge    policy.Badge          `json:"badge"`
}

func (a *App) DonorProfile(ctx context.Context, phone string) (DonorProfile, error) {
	u, redAlert, err := a.loadDonor(phone)
	if err != nil {
		return DonorProfile{}, err
	}
	u.Notifications = nil
	return DonorProfile{
		User:     u,
		Cooldown: policy.StatusOf(u, redAlert, a.now()),
		Badge:    policy.BadgeFor(u.Points),
	}, nil
}
