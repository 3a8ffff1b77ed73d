package app

import (
	"context"
	"fmt"
	"strings"

	"bloodhub/internal/util"
	"bloodhub/pkg/domain"
	"bloodhub/pkg/store"
)

// ValidPhone accepts exactly ten digits.
func ValidPhone(phone string) bool {
	if len(phone) != 10 {
		return false
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (a *App) normalizeUser(u domain.User) (domain.User, error) {
	u.Phone = strings.TrimSpace(u.Phone)
	u.Name = strings.TrimSpace(u.Name)
	if !ValidPhone(u.Phone) {
		return domain.User{}, fmt.Errorf("%w: phone must be 10 digits", ErrInvalidInput)
	}
	role, ok := domain.ParseRole(string(u.Role))
	if !ok {
		return domain.User{}, fmt.Errorf("%w: role %q", ErrInvalidInput, u.Role)
	}
	u.Role = role
	if u.Name == "" {
		return domain.User{}, fmt.Errorf("%w: name required", ErrInvalidInput)
	}
	if u.BloodGroup != "" {
		bt, ok := domain.ParseBloodType(string(u.BloodGroup))
		if !ok {
			return domain.User{}, fmt.Errorf("%w: blood group %q", ErrInvalidInput, u.BloodGroup)
		}
		u.BloodGroup = bt
	}
	if role.CanDonate() && u.BloodGroup == "" {
		return domain.User{}, fmt.Errorf("%w: donors need a blood group", ErrInvalidInput)
	}
	if !role.CanAdminister() {
		if err := a.locations.Validate(u.Location); err != nil {
			return domain.User{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	return u, nil
}

// UpsertUser creates or updates a directory entry on behalf of an admin.
// Profile fields are replaced; the role of an existing user never changes, and
// points, donation history, approval and inbox are kept.
func (a *App) UpsertUser(ctx context.Context, adminPhone string, u domain.User) (domain.User, error) {
	u, err := a.normalizeUser(u)
	if err != nil {
		return domain.User{}, err
	}
	unlock := a.locks.lock(userKey(u.Phone))
	defer unlock()

	var saved domain.User
	err = a.withTx("upsert user", func(tx store.Store) error {
		if _, err := loadActor(tx, adminPhone, domain.Role.CanAdminister); err != nil {
			return err
		}
		var err error
		saved, err = upsertTx(tx, u)
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	util.LoggerFromContext(ctx).Info("user upserted", "phone", saved.Phone, "role", saved.Role, "admin", adminPhone)
	return saved, nil
}

func upsertTx(tx store.Store, u domain.User) (domain.User, error) {
	existing, ok, err := tx.GetUser(u.Phone)
	if err != nil {
		return domain.User{}, err
	}
	if ok {
		if existing.Role != u.Role {
			return domain.User{}, fmt.Errorf("%w: role of %s is %s and cannot change", ErrInvalidInput, u.Phone, existing.Role)
		}
		u.Points = existing.Points
		u.LastDonationAt = existing.LastDonationAt
		u.Approved = existing.Approved
		u.Notifications = existing.Notifications
	}
	if !u.Role.RequiresApproval() {
		u.Approved = false
	}
	if err := tx.PutUser(u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// SeedUsers loads directory entries at startup without an acting admin.
// Existing users keep their role and history.
func (a *App) SeedUsers(ctx context.Context, users []domain.User) error {
	normalized := make([]domain.User, 0, len(users))
	for _, u := range users {
		n, err := a.normalizeUser(u)
		if err != nil {
			return fmt.Errorf("seed user %q: %w", u.Phone, err)
		}
		normalized = append(normalized, n)
	}
	err := a.withTx("seed users", func(tx store.Store) error {
		for _, u := range normalized {
			if _, err := upsertTx(tx, u); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	util.LoggerFromContext(ctx).Info("directory seeded", "users", len(normalized))
	return nil
}

// SetApproval approves or suspends a hospital or blood bank.
func (a *App) SetApproval(ctx context.Context, adminPhone, phone string, approved bool) (domain.User, error) {
	unlock := a.locks.lock(userKey(phone))
	defer unlock()

	var target domain.User
	err := a.withTx("set approval", func(tx store.Store) error {
		if _, err := loadActor(tx, adminPhone, domain.Role.CanAdminister); err != nil {
			return err
		}
		var ok bool
		var err error
		target, ok, err = tx.GetUser(phone)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: user %s", ErrNotFound, phone)
		}
		if !target.Role.RequiresApproval() {
			return fmt.Errorf("%w: %s accounts need no approval", ErrInvalidInput, target.Role)
		}
		target.Approved = approved
		return tx.PutUser(target)
	})
	if err != nil {
		return domain.User{}, err
	}
	util.LoggerFromContext(ctx).Info("approval changed", "phone", phone, "approved", approved, "admin", adminPhone)
	return target, nil
}

// GetUser returns a directory entry.
func (a *App) GetUser(ctx context.Context, phone string) (domain.User, error) {
	u, ok, err := a.store.GetUser(phone)
	if err != nil {
		return domain.User{}, storageErr("get user", err)
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: user %s", ErrNotFound, phone)
	}
	return u, nil
}
