package app

import (
	"context"
	"fmt"
	"time"

	"bloodhub/internal/util"
	"bloodhub/pkg/domain"
	"bloodhub/pkg/events"
	"bloodhub/pkg/location"
	"bloodhub/pkg/queue"
	"bloodhub/pkg/storage"
	"bloodhub/pkg/store"
)

const (
	// DedupWindow is how long a pending request blocks a same-type request from the same requester.
	DedupWindow = time.Hour
	// ShelfLife is the default expiry of freshly collected units.
	ShelfLife = 42 * 24 * time.Hour

	defaultLowStockThreshold = 5
	defaultReportURLTTL      = 15 * time.Minute
)

// DeliveryQueue hands external notifications to the notifier worker.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, d queue.Delivery) (queue.Delivery, error)
}

// StockAlertThrottle decides whether a low-stock alert for a blood type may fire now.
type StockAlertThrottle interface {
	ShouldAlert(ctx context.Context, bt domain.BloodType) (bool, error)
	Reset(ctx context.Context, bt domain.BloodType) error
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL       string
	Store             store.Store
	Locations         *location.Hierarchy
	Deliveries        DeliveryQueue
	Events            events.Publisher
	Reports           storage.ObjectStore
	ReportURLTTL      time.Duration
	StockAlerts       StockAlertThrottle
	LowStockThreshold int
	Now               func() time.Time
}

// App owns the request lifecycle, allocation and inventory rules on top of a Store.
type App struct {
	store             store.Store
	locations         *location.Hierarchy
	deliveries        DeliveryQueue
	events            events.Publisher
	reports           storage.ObjectStore
	reportURLTTL      time.Duration
	stockAlerts       StockAlertThrottle
	lowStockThreshold int
	now               func() time.Time
	locks             *keyedLocks
}

// New constructs the application. Without an explicit Store it opens Postgres via DatabaseURL.
func New(cfg Config) (*App, error) {
	if cfg.LowStockThreshold <= 0 {
		cfg.LowStockThreshold = defaultLowStockThreshold
	}
	if cfg.ReportURLTTL <= 0 {
		cfg.ReportURLTTL = defaultReportURLTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Locations == nil {
		cfg.Locations = location.Default()
	}
	if cfg.Events == nil {
		cfg.Events = events.NopPublisher{}
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	return &App{
		store:             dataStore,
		locations:         cfg.Locations,
		deliveries:        cfg.Deliveries,
		events:            cfg.Events,
		reports:           cfg.Reports,
		reportURLTTL:      cfg.ReportURLTTL,
		stockAlerts:       cfg.StockAlerts,
		lowStockThreshold: cfg.LowStockThreshold,
		now:               cfg.Now,
		locks:             newKeyedLocks(),
	}, nil
}

// Locations exposes the hierarchy used to validate directory entries.
func (a *App) Locations() *location.Hierarchy {
	return a.locations
}

// RedAlert reports whether the red alert flag is currently set.
func (a *App) RedAlert(ctx context.Context) (bool, error) {
	active, err := a.store.RedAlert()
	if err != nil {
		return false, storageErr("read red alert", err)
	}
	return active, nil
}

// withTx runs fn in a store transaction. Domain errors pass through; anything
// else is reported as ErrStorageUnavailable.
func (a *App) withTx(op string, fn func(tx store.Store) error) error {
	return classify(op, a.store.WithTx(fn))
}

// classify keeps domain errors as they are and wraps everything else as a storage failure.
func classify(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return storageErr(op, err)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// loadActor fetches phone and checks it passes allowed.
func loadActor(s store.Store, phone string, allowed func(domain.Role) bool) (domain.User, error) {
	if phone == "" {
		return domain.User{}, fmt.Errorf("%w: actor required", ErrForbidden)
	}
	u, ok, err := s.GetUser(phone)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: user %s", ErrNotFound, phone)
	}
	if allowed != nil && !allowed(u.Role) {
		return domain.User{}, fmt.Errorf("%w: role %s", ErrForbidden, u.Role)
	}
	if !u.Active() {
		return domain.User{}, ErrNotApproved
	}
	return u, nil
}

func loadRequest(s store.Store, id int64) (domain.Request, error) {
	req, ok, err := s.GetRequest(id)
	if err != nil {
		return domain.Request{}, err
	}
	if !ok {
		return domain.Request{}, fmt.Errorf("%w: request %d", ErrNotFound, id)
	}
	return req, nil
}

// publish emits a lifecycle event. Failures are logged and swallowed.
func (a *App) publish(ctx context.Context, e events.Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = a.now().UTC()
	}
	if err := a.events.Publish(ctx, e); err != nil {
		util.LoggerFromContext(ctx).Warn("event publish failed", "type", e.Type, "request_id", e.RequestID, "err", err)
	}
}
