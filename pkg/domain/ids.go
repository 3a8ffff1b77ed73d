package domain

import (
	"strings"

	"github.com/google/uuid"
)

// NewUnitID returns an inventory unit id of the form INV-<uuid>.
func NewUnitID() string {
	return "INV-" + strings.ToUpper(uuid.NewString())
}
