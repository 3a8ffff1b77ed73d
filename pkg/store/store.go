package store

import (
	"errors"

	"bloodhub/pkg/domain"
)

// ErrConflict is returned by a store when a write collides with an existing record.
var ErrConflict = errors.New("store conflict")

// Store defines persistence for the directory, requests, inventory and the
// process-wide flags. Every write is durable by the time the call returns.
type Store interface {
	// users
	GetUser(phone string) (domain.User, bool, error)
	PutUser(domain.User) error
	ListUsers() ([]domain.User, error)

	// requests
	NextRequestID() (int64, error)
	AppendRequest(domain.Request) error
	GetRequest(id int64) (domain.Request, bool, error)
	FindRequests(match func(domain.Request) bool) ([]domain.Request, error)
	SaveRequest(domain.Request) error

	// inventory
	AppendUnits(units ...domain.InventoryUnit) error
	GetUnit(id string) (domain.InventoryUnit, bool, error)
	ListUnits() ([]domain.InventoryUnit, error)
	ReplaceUnits(units []domain.InventoryUnit) error

	// flags
	RedAlert() (bool, error)
	SetRedAlert(active bool) error

	// WithTx runs fn against a transactional view of the store. Writes made
	// through tx become visible only if fn returns nil and the commit succeeds.
	WithTx(fn func(tx Store) error) error
}
