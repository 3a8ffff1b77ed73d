package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"bloodhub/internal/util"
	"bloodhub/pkg/domain"
	"bloodhub/pkg/events"
	"bloodhub/pkg/policy"
	"bloodhub/pkg/reports"
	"bloodhub/pkg/storage"
	"bloodhub/pkg/store"
)

// AllocationResult describes one stock allocation. A positive Shortfall is a
// normal outcome, not an error.
type AllocationResult struct {
	Request   domain.Request `json:"request"`
	Allocated int            `json:"allocated"`
	Shortfall int            `json:"shortfall"`
	UnitIDs   []string       `json:"unitIds"`
	Purged    int            `json:"purged"`
}

func fulfillable(req domain.Request) error {
	switch req.Status {
	case domain.StatusPending, domain.StatusAccepted, domain.StatusPartiallyFulfilled:
		return nil
	default:
		return fmt.Errorf("%w: request %d is %s", ErrInvalidTransition, req.ID, req.Status)
	}
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// FulfillFromDonation records units a donor gave directly against a request.
// Each unit becomes an inventory entry held by the fulfilling institution, the
// donor earns points and restarts cooldown, and the request is Fulfilled once
// the recorded units cover it. An optional PDF test report is stored against
// the last unit created.
func (a *App) FulfillFromDonation(ctx context.Context, actorPhone string, requestID int64, donorPhone string, units int, report []byte) (domain.Request, error) {
	if units < 1 {
		return domain.Request{}, fmt.Errorf("%w: units must be at least 1", ErrInvalidInput)
	}
	if len(report) > 0 {
		if a.reports == nil {
			return domain.Request{}, fmt.Errorf("%w: report storage is not configured", ErrInvalidInput)
		}
		if _, err := reports.Inspect(report); err != nil {
			return domain.Request{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}

	donor, err := loadActor(a.store, donorPhone, domain.Role.CanDonate)
	if err != nil {
		return domain.Request{}, classify("get donor", err)
	}
	if donor.BloodGroup == "" {
		return domain.Request{}, fmt.Errorf("%w: donor %s has no blood group", ErrInvalidInput, donorPhone)
	}

	ids := make([]string, units)
	for i := range ids {
		ids[i] = domain.NewUnitID()
	}
	// The upload runs before any lock is taken; a failed commit removes it again.
	reportKey := ""
	if len(report) > 0 {
		reportKey = storage.ReportKey(requestID, ids[len(ids)-1])
		if err := a.reports.Put(ctx, reportKey, bytes.NewReader(report), int64(len(report)), "application/pdf"); err != nil {
			return domain.Request{}, fmt.Errorf("%w: upload test report: %w", ErrStorageUnavailable, err)
		}
	}

	unlock := a.locks.lock(requestKey(requestID), stockKey(donor.BloodGroup), userKey(donorPhone))

	now := a.now()
	var (
		req       domain.Request
		fulfilled bool
	)
	err = a.withTx("fulfill from donation", func(tx store.Store) error {
		actor, err := loadActor(tx, actorPhone, domain.Role.CanFulfill)
		if err != nil {
			return err
		}
		req, err = loadRequest(tx, requestID)
		if err != nil {
			return err
		}
		if err := fulfillable(req); err != nil {
			return err
		}
		current, err := loadActor(tx, donorPhone, domain.Role.CanDonate)
		if err != nil {
			return err
		}
		if current.BloodGroup != req.BloodType {
			return fmt.Errorf("%w: donor group %s does not match requested %s", ErrInvalidInput, current.BloodGroup, req.BloodType)
		}

		expiry := now.Add(ShelfLife)
		entries := make([]domain.InventoryUnit, 0, units)
		for _, id := range ids {
			reqID := req.ID
			entries = append(entries, domain.InventoryUnit{
				ID:         id,
				BloodType:  req.BloodType,
				Units:      1,
				Expiry:     expiry,
				DonorPhone: current.Phone,
				RequestID:  &reqID,
				TestReport: reportKey,
				Custodian:  actor.Phone,
				AddedAt:    now,
			})
			req.InventoryIDs = appendUnique(req.InventoryIDs, id)
		}
		if err := tx.AppendUnits(entries...); err != nil {
			return err
		}
		if reportKey != "" {
			if req.TestResults == nil {
				req.TestResults = map[string]string{}
			}
			req.TestResults[ids[len(ids)-1]] = reportKey
		}
		req.FulfilledUnits += units
		if req.FulfilledUnits >= req.Units {
			req.Status = domain.StatusFulfilled
			at := now
			req.FulfilledBy = actor.Phone
			req.FulfilledAt = &at
			fulfilled = true
		}
		if err := tx.SaveRequest(req); err != nil {
			return err
		}

		current.Points += policy.PointsPerUnit * units
		last := now
		current.LastDonationAt = &last
		return tx.PutUser(current)
	})
	unlock()
	if err != nil {
		if reportKey != "" {
			a.discardReport(ctx, reportKey)
		}
		return domain.Request{}, err
	}

	if fulfilled {
		a.publish(ctx, events.Event{
			Type:      events.RequestFulfilled,
			RequestID: req.ID,
			BloodType: req.BloodType,
			Units:     units,
			Status:    req.Status,
			District:  req.Location.District,
			Actor:     actorPhone,
		})
	}
	a.checkLowStock(ctx)
	return req, nil
}

func (a *App) discardReport(ctx context.Context, key string) {
	if err := a.reports.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		util.LoggerFromContext(ctx).Warn("orphan test report not removed", "key", key, "err", err)
	}
}

// AllocateFromStock covers a request's outstanding units from inventory of the
// requested type. Expired entries are purged first, then entries are consumed
// oldest first; a partly used entry keeps its remainder. The request ends
// Fulfilled when covered, otherwise Partially Fulfilled. When nothing can be
// allocated the request is left untouched and the whole need is reported as Shortfall.
func (a *App) AllocateFromStock(ctx context.Context, actorPhone string, requestID int64) (AllocationResult, error) {
	keys := append([]string{requestKey(requestID)}, allStockKeys()...)
	unlock := a.locks.lock(keys...)

	now := a.now()
	var res AllocationResult
	err := a.withTx("allocate from stock", func(tx store.Store) error {
		actor, err := loadActor(tx, actorPhone, domain.Role.CanFulfill)
		if err != nil {
			return err
		}
		req, err := loadRequest(tx, requestID)
		if err != nil {
			return err
		}
		if err := fulfillable(req); err != nil {
			return err
		}
		need := req.Units - req.FulfilledUnits
		if need <= 0 {
			return fmt.Errorf("%w: request %d has no outstanding units", ErrInvalidTransition, req.ID)
		}

		stock, err := tx.ListUnits()
		if err != nil {
			return err
		}
		remaining := need
		kept := make([]domain.InventoryUnit, 0, len(stock))
		for _, u := range stock {
			if u.ExpiredOn(now) {
				res.Purged++
				continue
			}
			if remaining == 0 || u.BloodType != req.BloodType || u.Reserved() || u.Units <= 0 {
				kept = append(kept, u)
				continue
			}
			take := min(u.Units, remaining)
			remaining -= take
			res.UnitIDs = append(res.UnitIDs, u.ID)
			req.InventoryIDs = appendUnique(req.InventoryIDs, u.ID)
			if u.Units > take {
				u.Units -= take
				kept = append(kept, u)
			}
		}
		res.Allocated = need - remaining
		res.Shortfall = remaining

		if res.Allocated > 0 || res.Purged > 0 {
			if err := tx.ReplaceUnits(kept); err != nil {
				return err
			}
		}
		if res.Allocated == 0 {
			res.Request = req
			return nil
		}

		req.FulfilledUnits += res.Allocated
		if req.FulfilledUnits >= req.Units {
			req.Status = domain.StatusFulfilled
		} else {
			req.Status = domain.StatusPartiallyFulfilled
		}
		at := now
		req.FulfilledBy = actor.Phone
		req.FulfilledAt = &at
		res.Request = req
		return tx.SaveRequest(req)
	})
	unlock()
	if err != nil {
		return AllocationResult{}, err
	}

	if res.Allocated > 0 {
		typ := events.RequestFulfilled
		if res.Request.Status == domain.StatusPartiallyFulfilled {
			typ = events.RequestPartiallyFulfilled
		}
		a.publish(ctx, events.Event{
			Type:      typ,
			RequestID: res.Request.ID,
			BloodType: res.Request.BloodType,
			Units:     res.Allocated,
			Status:    res.Request.Status,
			District:  res.Request.Location.District,
			Actor:     actorPhone,
		})
	}
	if res.Allocated > 0 || res.Purged > 0 {
		a.checkLowStock(ctx)
	}
	return res, nil
}
