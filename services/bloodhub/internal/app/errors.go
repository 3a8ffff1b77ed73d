package app

import "errors"

var (
	// ErrDuplicateRequest is returned when the requester already has a pending
	// request for the same blood type inside the dedup window. Nothing is written.
	ErrDuplicateRequest = errors.New("duplicate pending request")

	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCooldown is returned when a donor inside the inter-donation interval
	// tries to pledge while no red alert is active.
	ErrCooldown = errors.New("donor in cooldown")

	ErrAlreadyPledged = errors.New("donor already pledged")
	ErrForbidden      = errors.New("forbidden")
	ErrNotApproved    = errors.New("account not approved")
	ErrInvalidInput   = errors.New("invalid input")

	// ErrStorageUnavailable wraps every store failure. The operation's writes
	// were discarded when it is returned.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

var domainErrors = []error{
	ErrDuplicateRequest,
	ErrNotFound,
	ErrInvalidTransition,
	ErrCooldown,
	ErrAlreadyPledged,
	ErrForbidden,
	ErrNotApproved,
	ErrInvalidInput,
	ErrStorageUnavailable,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
