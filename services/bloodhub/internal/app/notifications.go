package app

import (
	"context"
	"fmt"
	"sort"

	"bloodhub/internal/util"
	"bloodhub/pkg/domain"
	"bloodhub/pkg/queue"
	"bloodhub/pkg/store"
)

// Delivery kinds understood by the notifier.
const (
	DeliveryCriticalRequest = "critical_request"
	DeliveryRedAlert        = "red_alert"
)

func criticalRequestMessage(req domain.Request) string {
	return fmt.Sprintf("URGENT: Blood request for %s at %s. %d units needed. Please check the Kerala Blood Hub app to pledge.",
		req.BloodType, req.Location, req.Units)
}

func hospitalRequestMessage(req domain.Request) string {
	return fmt.Sprintf("Hospital request #%d: %d units of %s needed at %s", req.ID, req.Units, req.BloodType, req.Location)
}

func lowStockMessage(bt domain.BloodType, units int) string {
	return fmt.Sprintf("Low inventory for %s - only %d units left", bt, units)
}

const redAlertMessage = "RED ALERT: emergency blood shortage declared. Donation cooldowns are suspended, please check the Kerala Blood Hub app."

// Notifications returns the inbox of phone, oldest first.
func (a *App) Notifications(ctx context.Context, phone string) ([]domain.Notification, error) {
	u, ok, err := a.store.GetUser(phone)
	if err != nil {
		return nil, storageErr("get user", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, phone)
	}
	if u.Notifications == nil {
		return []domain.Notification{}, nil
	}
	return u.Notifications, nil
}

// MarkNotificationsRead flags one inbox entry read, or all of them when index
// is negative. Entries are never removed. It returns the number of entries changed.
func (a *App) MarkNotificationsRead(ctx context.Context, phone string, index int) (int, error) {
	unlock := a.locks.lock(userKey(phone))
	defer unlock()

	changed := 0
	err := a.withTx("mark notifications read", func(tx store.Store) error {
		u, ok, err := tx.GetUser(phone)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: user %s", ErrNotFound, phone)
		}
		if index >= len(u.Notifications) {
			return fmt.Errorf("%w: notification %d", ErrNotFound, index)
		}
		for i := range u.Notifications {
			if index >= 0 && i != index {
				continue
			}
			if !u.Notifications[i].Read {
				u.Notifications[i].Read = true
				changed++
			}
		}
		if changed == 0 {
			return nil
		}
		return tx.PutUser(u)
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// deliverInbox appends n to the inbox of every phone. It runs after the
// triggering operation committed, so failures are only logged.
func (a *App) deliverInbox(ctx context.Context, phones []string, n domain.Notification) {
	if len(phones) == 0 {
		return
	}
	sorted := append([]string(nil), phones...)
	sort.Strings(sorted)
	keys := make([]string, 0, len(sorted))
	for _, phone := range sorted {
		keys = append(keys, userKey(phone))
	}
	unlock := a.locks.lock(keys...)
	defer unlock()

	err := a.withTx("append notifications", func(tx store.Store) error {
		for _, phone := range sorted {
			u, ok, err := tx.GetUser(phone)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			u.Notifications = append(u.Notifications, n)
			if err := tx.PutUser(u); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		util.LoggerFromContext(ctx).Warn("inbox delivery failed", "type", n.Type, "request_id", n.RequestID, "recipients", len(sorted), "err", err)
	}
}

// enqueueDelivery hands an external message to the notifier. Missing queue
// configuration means inbox-only delivery.
func (a *App) enqueueDelivery(ctx context.Context, kind string, requestID int64, recipients []string, message string) {
	if a.deliveries == nil || len(recipients) == 0 {
		return
	}
	d, err := a.deliveries.Enqueue(ctx, queue.Delivery{
		Kind:       kind,
		RequestID:  requestID,
		Recipients: recipients,
		Message:    message,
		CreatedAt:  a.now().UTC(),
	})
	if err != nil {
		util.LoggerFromContext(ctx).Warn("delivery enqueue failed", "kind", kind, "request_id", requestID, "err", err)
		return
	}
	util.LoggerFromContext(ctx).Info("delivery queued", "delivery_id", d.ID, "kind", kind, "request_id", requestID, "recipients", len(recipients))
}

// phonesWhere lists directory members satisfying keep, in directory order.
func (a *App) phonesWhere(keep func(domain.User) bool) ([]string, error) {
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, err
	}
	var phones []string
	for _, u := range users {
		if keep(u) {
			phones = append(phones, u.Phone)
		}
	}
	return phones, nil
}
