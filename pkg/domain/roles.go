package domain

import "strings"

// Role is the closed set of directory roles. Behaviour that depends on the
// role is expressed through the capability methods below.
type Role string

const (
	RoleHospital     Role = "Hospital"
	RoleBloodBank    Role = "Blood Bank"
	RoleDonor        Role = "Donor"
	RoleOrganization Role = "Organization"
	RoleAdmin        Role = "Admin"
)

// ParseRole accepts "Blood Bank", "bloodbank" and "blood_bank" alike.
func ParseRole(raw string) (Role, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
	switch key {
	case "hospital":
		return RoleHospital, true
	case "bloodbank":
		return RoleBloodBank, true
	case "donor":
		return RoleDonor, true
	case "organization", "organisation":
		return RoleOrganization, true
	case "admin":
		return RoleAdmin, true
	default:
		return "", false
	}
}

func (r Role) Valid() bool {
	parsed, ok := ParseRole(string(r))
	return ok && parsed == r
}

func (r Role) CanOriginateRequest() bool {
	return r == RoleHospital || r == RoleBloodBank || r == RoleOrganization
}

// CanFulfill covers both the direct-donation and the stock allocation paths.
func (r Role) CanFulfill() bool {
	return r == RoleHospital || r == RoleBloodBank
}

func (r Role) CanDonate() bool {
	return r == RoleDonor
}

func (r Role) CanAdminister() bool {
	return r == RoleAdmin
}

func (r Role) RequiresApproval() bool {
	return r == RoleHospital || r == RoleBloodBank
}
