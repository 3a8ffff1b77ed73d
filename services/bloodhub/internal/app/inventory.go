package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bloodhub/internal/util"
	"bloodhub/pkg/domain"
	"bloodhub/pkg/events"
	"bloodhub/pkg/store"
)

// MaxStockEntryUnits bounds a single bulk stock entry.
const MaxStockEntryUnits = 100

// StockEntry is a bulk addition to an institution's inventory.
type StockEntry struct {
	BloodType  domain.BloodType
	Units      int
	Expiry     time.Time // zero means today plus ShelfLife
	DonorPhone string
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AddStock records a bulk stock entry held by the acting hospital or blood bank.
func (a *App) AddStock(ctx context.Context, actorPhone string, entry StockEntry) (domain.InventoryUnit, error) {
	if _, ok := domain.ParseBloodType(string(entry.BloodType)); !ok {
		return domain.InventoryUnit{}, fmt.Errorf("%w: blood type %q", ErrInvalidInput, entry.BloodType)
	}
	if entry.Units < 1 || entry.Units > MaxStockEntryUnits {
		return domain.InventoryUnit{}, fmt.Errorf("%w: units must be between 1 and %d", ErrInvalidInput, MaxStockEntryUnits)
	}
	now := a.now()
	expiry := entry.Expiry
	if expiry.IsZero() {
		expiry = startOfDay(now).Add(ShelfLife)
	}
	if startOfDay(expiry).Before(startOfDay(now.In(expiry.Location()))) {
		return domain.InventoryUnit{}, fmt.Errorf("%w: expiry date is in the past", ErrInvalidInput)
	}

	unlock := a.locks.lock(stockKey(entry.BloodType))

	unit := domain.InventoryUnit{
		ID:         domain.NewUnitID(),
		BloodType:  entry.BloodType,
		Units:      entry.Units,
		Expiry:     expiry,
		DonorPhone: entry.DonorPhone,
		AddedAt:    now,
	}
	err := a.withTx("add stock", func(tx store.Store) error {
		actor, err := loadActor(tx, actorPhone, domain.Role.CanFulfill)
		if err != nil {
			return err
		}
		unit.Custodian = actor.Phone
		return tx.AppendUnits(unit)
	})
	unlock()
	if err != nil {
		return domain.InventoryUnit{}, err
	}
	util.LoggerFromContext(ctx).Info("stock added", "unit_id", unit.ID, "blood_type", unit.BloodType, "units", unit.Units, "custodian", unit.Custodian)
	a.checkLowStock(ctx)
	return unit, nil
}

// PurgeExpired removes every unit whose expiry date is before today and
// returns how many entries were dropped.
func (a *App) PurgeExpired(ctx context.Context) (int, error) {
	unlock := a.locks.lock(allStockKeys()...)

	purged := 0
	err := a.withTx("purge expired", func(tx store.Store) error {
		var err error
		purged, err = purgeTx(tx, a.now())
		return err
	})
	unlock()
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		util.LoggerFromContext(ctx).Info("expired stock purged", "entries", purged)
		a.checkLowStock(ctx)
	}
	return purged, nil
}

func purgeTx(tx store.Store, now time.Time) (int, error) {
	units, err := tx.ListUnits()
	if err != nil {
		return 0, err
	}
	kept := make([]domain.InventoryUnit, 0, len(units))
	for _, u := range units {
		if !u.ExpiredOn(now) {
			kept = append(kept, u)
		}
	}
	purged := len(units) - len(kept)
	if purged == 0 {
		return 0, nil
	}
	return purged, tx.ReplaceUnits(kept)
}

// InventorySummary purges expired stock and returns available units per blood
// type. Units collected against a request are not counted.
func (a *App) InventorySummary(ctx context.Context) (map[domain.BloodType]int, error) {
	units, err := a.purgedUnits(ctx)
	if err != nil {
		return nil, err
	}
	return availableByType(units), nil
}

// ListInventory purges expired stock and lists what remains, by blood type then expiry.
func (a *App) ListInventory(ctx context.Context, actorPhone string) ([]domain.InventoryUnit, error) {
	if err := a.requireStockViewer(actorPhone); err != nil {
		return nil, err
	}
	units, err := a.purgedUnits(ctx)
	if err != nil {
		return nil, err
	}
	order := make(map[domain.BloodType]int, len(domain.BloodTypes))
	for i, bt := range domain.BloodTypes {
		order[bt] = i
	}
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].BloodType != units[j].BloodType {
			return order[units[i].BloodType] < order[units[j].BloodType]
		}
		return units[i].Expiry.Before(units[j].Expiry)
	})
	return units, nil
}

// GetInventoryUnit returns a single inventory entry.
func (a *App) GetInventoryUnit(ctx context.Context, actorPhone, id string) (domain.InventoryUnit, error) {
	if err := a.requireStockViewer(actorPhone); err != nil {
		return domain.InventoryUnit{}, err
	}
	unit, ok, err := a.store.GetUnit(id)
	if err != nil {
		return domain.InventoryUnit{}, storageErr("get unit", err)
	}
	if !ok {
		return domain.InventoryUnit{}, fmt.Errorf("%w: unit %s", ErrNotFound, id)
	}
	return unit, nil
}

// ReportURL returns a short-lived download link for a unit's test report.
func (a *App) ReportURL(ctx context.Context, actorPhone, unitID string) (string, error) {
	unit, err := a.GetInventoryUnit(ctx, actorPhone, unitID)
	if err != nil {
		return "", err
	}
	if unit.TestReport == "" || a.reports == nil {
		return "", fmt.Errorf("%w: unit %s has no test report", ErrNotFound, unitID)
	}
	url, err := a.reports.PresignGet(ctx, unit.TestReport, a.reportURLTTL)
	if err != nil {
		return "", fmt.Errorf("%w: presign report: %w", ErrStorageUnavailable, err)
	}
	return url, nil
}

func (a *App) requireStockViewer(actorPhone string) error {
	_, err := loadActor(a.store, actorPhone, func(r domain.Role) bool {
		return r.CanFulfill() || r.CanAdminister()
	})
	return classify("get user", err)
}

func (a *App) purgedUnits(ctx context.Context) ([]domain.InventoryUnit, error) {
	if _, err := a.PurgeExpired(ctx); err != nil {
		return nil, err
	}
	units, err := a.store.ListUnits()
	if err != nil {
		return nil, storageErr("list units", err)
	}
	return units, nil
}

func availableByType(units []domain.InventoryUnit) map[domain.BloodType]int {
	totals := make(map[domain.BloodType]int)
	for _, u := range units {
		if u.Reserved() {
			continue
		}
		totals[u.BloodType] += u.Units
	}
	return totals
}

// checkLowStock alerts admins about every blood type present in stock below
// the threshold. Alerts are throttled per type; a type back above the
// threshold re-arms its alert.
func (a *App) checkLowStock(ctx context.Context) {
	logger := util.LoggerFromContext(ctx)
	units, err := a.store.ListUnits()
	if err != nil {
		logger.Warn("low stock check failed", "err", err)
		return
	}
	now := a.now()
	live := make([]domain.InventoryUnit, 0, len(units))
	for _, u := range units {
		if !u.ExpiredOn(now) {
			live = append(live, u)
		}
	}
	totals := availableByType(live)

	for _, bt := range domain.BloodTypes {
		total, present := totals[bt]
		if !present {
			continue
		}
		if total >= a.lowStockThreshold {
			if a.stockAlerts != nil {
				if err := a.stockAlerts.Reset(ctx, bt); err != nil {
					logger.Warn("low stock throttle reset failed", "blood_type", bt, "err", err)
				}
			}
			continue
		}
		if a.stockAlerts != nil {
			fire, err := a.stockAlerts.ShouldAlert(ctx, bt)
			if err != nil {
				logger.Warn("low stock throttle failed, alerting anyway", "blood_type", bt, "err", err)
				fire = true
			}
			if !fire {
				continue
			}
		}
		admins, err := a.phonesWhere(func(u domain.User) bool { return u.Role.CanAdminister() })
		if err != nil {
			logger.Warn("list admins failed", "err", err)
			return
		}
		a.deliverInbox(ctx, admins, domain.Notification{
			Type:      domain.NotifyLowStock,
			BloodType: bt,
			Units:     total,
			Message:   lowStockMessage(bt, total),
			Timestamp: now,
		})
		a.publish(ctx, events.Event{Type: events.InventoryLowStock, BloodType: bt, Units: total})
		logger.Info("low stock alert", "blood_type", bt, "units", total, "admins", len(admins))
	}
}
