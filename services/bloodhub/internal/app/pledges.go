package app

import (
	"context"
	"fmt"

	"bloodhub/pkg/domain"
	"bloodhub/pkg/events"
	"bloodhub/pkg/policy"
	"bloodhub/pkg/store"
)

func pledgeable(req domain.Request) error {
	if req.Status != domain.StatusPending && req.Status != domain.StatusAccepted {
		return fmt.Errorf("%w: request %d is %s", ErrInvalidTransition, req.ID, req.Status)
	}
	return nil
}

// Pledge records a donor's commitment. Once pledges cover the requested units
// a pending request becomes Accepted in the same write.
func (a *App) Pledge(ctx context.Context, requestID int64, donorPhone string) (domain.Request, error) {
	unlock := a.locks.lock(requestKey(requestID))

	now := a.now()
	var (
		req      domain.Request
		accepted bool
	)
	err := a.withTx("pledge", func(tx store.Store) error {
		var err error
		req, err = loadRequest(tx, requestID)
		if err != nil {
			return err
		}
		if err := pledgeable(req); err != nil {
			return err
		}
		if req.Status == domain.StatusPending && req.Expired(now) {
			return fmt.Errorf("%w: request %d has expired", ErrInvalidTransition, req.ID)
		}
		donor, err := loadActor(tx, donorPhone, domain.Role.CanDonate)
		if err != nil {
			return err
		}
		if req.HasPledge(donor.Phone) {
			return ErrAlreadyPledged
		}
		redAlert, err := tx.RedAlert()
		if err != nil {
			return err
		}
		if policy.InCooldown(donor, redAlert, now) {
			return fmt.Errorf("%w: %d days remaining", ErrCooldown, policy.StatusOf(donor, redAlert, now).DaysRemaining)
		}
		req.PledgedDonors = append(req.PledgedDonors, domain.Pledge{
			Phone:     donor.Phone,
			Name:      donor.Name,
			PledgedAt: now,
		})
		if req.Status == domain.StatusPending && len(req.PledgedDonors) >= req.Units {
			req.Status = domain.StatusAccepted
			accepted = true
		}
		return tx.SaveRequest(req)
	})
	unlock()
	if err != nil {
		return domain.Request{}, err
	}
	if accepted {
		a.publish(ctx, events.Event{
			Type:      events.RequestAccepted,
			RequestID: req.ID,
			BloodType: req.BloodType,
			Units:     req.Units,
			Status:    req.Status,
			District:  req.Location.District,
			Actor:     donorPhone,
		})
	}
	return req, nil
}

// Unpledge withdraws a donor's pledge. Removing a pledge that does not exist is
// a no-op, and an Accepted request stays Accepted.
func (a *App) Unpledge(ctx context.Context, requestID int64, donorPhone string) (domain.Request, error) {
	unlock := a.locks.lock(requestKey(requestID))
	defer unlock()

	var req domain.Request
	err := a.withTx("unpledge", func(tx store.Store) error {
		var err error
		req, err = loadRequest(tx, requestID)
		if err != nil {
			return err
		}
		if err := pledgeable(req); err != nil {
			return err
		}
		kept := make([]domain.Pledge, 0, len(req.PledgedDonors))
		for _, p := range req.PledgedDonors {
			if p.Phone != donorPhone {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(req.PledgedDonors) {
			return nil
		}
		req.PledgedDonors = kept
		return tx.SaveRequest(req)
	})
	if err != nil {
		return domain.Request{}, err
	}
	return req, nil
}
