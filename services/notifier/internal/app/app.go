// Package app delivers queued notification fan-outs to recipients.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bloodhub/internal/util"
	"bloodhub/pkg/queue"
	"golang.org/x/sync/errgroup"
)

// Sender delivers one message to one phone number.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// Consumer feeds deliveries to a handler until ctx is cancelled.
type Consumer interface {
	Start(ctx context.Context, concurrency int, handler func(context.Context, queue.Delivery) error)
}

// Config wires the notifier worker.
type Config struct {
	Consumer        Consumer
	Sender          Sender
	Concurrency     int
	SendConcurrency int
	// SentRetention bounds how long partial progress of a failing delivery is
	// remembered. Defaults to one hour.
	SentRetention time.Duration
	Now           func() time.Time
}

// App consumes deliveries and fans each one out to its recipients.
type App struct {
	consumer        Consumer
	sender          Sender
	concurrency     int
	sendConcurrency int
	retention       time.Duration
	now             func() time.Time

	mu sync.Mutex
	// sent tracks recipients already reached for deliveries still being retried.
	sent map[string]*sentSet
}

type sentSet struct {
	phones  map[string]struct{}
	touched time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Consumer == nil {
		return nil, errors.New("notifier: consumer is required")
	}
	sender := cfg.Sender
	if sender == nil {
		sender = LogSender{}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sendConcurrency := cfg.SendConcurrency
	if sendConcurrency <= 0 {
		sendConcurrency = 8
	}
	retention := cfg.SentRetention
	if retention <= 0 {
		retention = time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &App{
		consumer:        cfg.Consumer,
		sender:          sender,
		concurrency:     concurrency,
		sendConcurrency: sendConcurrency,
		retention:       retention,
		now:             now,
		sent:            make(map[string]*sentSet),
	}, nil
}

// Run starts the consumers and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	a.consumer.Start(ctx, a.concurrency, a.Handle)
	<-ctx.Done()
}

// Handle sends d to every recipient. Recipients that already succeeded on an
// earlier attempt are skipped, so a retry only reaches the ones that failed.
func (a *App) Handle(ctx context.Context, d queue.Delivery) error {
	logger := util.LoggerFromContext(ctx).With("delivery_id", d.ID, "kind", d.Kind)
	a.sweep()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.sendConcurrency)

	var (
		mu     sync.Mutex
		failed int
	)
	for _, phone := range d.Recipients {
		if a.alreadySent(d.ID, phone) {
			continue
		}
		g.Go(func() error {
			if err := a.sender.Send(gctx, phone, d.Message); err != nil {
				logger.Warn("notification send failed", "phone", phone, "err", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			a.markSent(d.ID, phone)
			return nil
		})
	}
	_ = g.Wait()
	if failed > 0 {
		return fmt.Errorf("delivery %s: %d of %d recipients failed", d.ID, failed, len(d.Recipients))
	}
	a.forget(d.ID)
	logger.Info("delivery sent", "recipients", len(d.Recipients))
	return nil
}

func (a *App) alreadySent(id, phone string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.sent[id]
	if !ok {
		return false
	}
	set.touched = a.now()
	_, ok = set.phones[phone]
	return ok
}

func (a *App) markSent(id, phone string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.sent[id]
	if !ok {
		set = &sentSet{phones: make(map[string]struct{})}
		a.sent[id] = set
	}
	set.phones[phone] = struct{}{}
	set.touched = a.now()
}

// sweep drops deliveries that stopped being retried, such as ones the queue
// gave up on after its last attempt.
func (a *App) sweep() {
	cutoff := a.now().Add(-a.retention)
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, set := range a.sent {
		if set.touched.Before(cutoff) {
			delete(a.sent, id)
		}
	}
}

func (a *App) forget(id string) {
	a.mu.Lock()
	delete(a.sent, id)
	a.mu.Unlock()
}

// LogSender writes messages to the log instead of an external transport.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, phone, message string) error {
	logger := s.Logger
	if logger == nil {
		logger = util.LoggerFromContext(ctx)
	}
	logger.Info("notification", "to", phone, "message", message)
	return nil
}
