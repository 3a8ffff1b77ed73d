// Package events publishes request lifecycle and inventory events to a broker.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"bloodhub/pkg/domain"
)

type Type string

const (
	RequestCreated            Type = "request.created"
	RequestAccepted           Type = "request.accepted"
	RequestCancelled          Type = "request.cancelled"
	RequestFulfilled          Type = "request.fulfilled"
	RequestPartiallyFulfilled Type = "request.partially_fulfilled"
	InventoryLowStock         Type = "inventory.low_stock"
	RedAlertToggled           Type = "red_alert.toggled"
)

// Event is the broker payload. Phone numbers other than the actor are never included.
type Event struct {
	Type       Type                 `json:"type"`
	RequestID  int64                `json:"requestId,omitempty"`
	BloodType  domain.BloodType     `json:"bloodType,omitempty"`
	Units      int                  `json:"units,omitempty"`
	Status     domain.RequestStatus `json:"status,omitempty"`
	District   string               `json:"district,omitempty"`
	Actor      string               `json:"actor,omitempty"`
	RedAlert   *bool                `json:"redAlert,omitempty"`
	OccurredAt time.Time            `json:"occurredAt"`
}

// Key groups events of one request onto the same partition.
func (e Event) Key() string {
	if e.RequestID > 0 {
		return "request-" + strconv.FormatInt(e.RequestID, 10)
	}
	if e.BloodType != "" {
		return "stock-" + string(e.BloodType)
	}
	return string(e.Type)
}

func (e Event) encode() ([]byte, error) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return json.Marshal(e)
}

// Publisher delivers events. Publish must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error {
	return nil
}

func (NopPublisher) Close() error {
	return nil
}
