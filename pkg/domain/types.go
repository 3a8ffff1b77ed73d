package domain

import (
	"fmt"
	"strings"
	"time"
)

type BloodType string

const (
	APos  BloodType = "A+"
	ANeg  BloodType = "A-"
	BPos  BloodType = "B+"
	BNeg  BloodType = "B-"
	OPos  BloodType = "O+"
	ONeg  BloodType = "O-"
	ABPos BloodType = "AB+"
	ABNeg BloodType = "AB-"
)

// BloodTypes lists every supported group in display order.
var BloodTypes = []BloodType{APos, ANeg, BPos, BNeg, OPos, ONeg, ABPos, ABNeg}

// ParseBloodType normalizes and validates a blood group label.
func ParseBloodType(raw string) (BloodType, bool) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	for _, bt := range BloodTypes {
		if string(bt) == raw {
			return bt, true
		}
	}
	return "", false
}

type Urgency string

const (
	UrgencyNormal   Urgency = "Normal"
	UrgencyUrgent   Urgency = "Urgent"
	UrgencyCritical Urgency = "Critical"
)

// SearchScope is the geographic breadth within which donors are considered.
type SearchScope string

const (
	ScopeTaluk     SearchScope = "Taluk"
	ScopeDistrict  SearchScope = "District"
	ScopeFullState SearchScope = "FullState"
)

// ParseUrgency accepts the urgency label case-insensitively.
func ParseUrgency(raw string) (Urgency, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "normal":
		return UrgencyNormal, true
	case "urgent":
		return UrgencyUrgent, true
	case "critical":
		return UrgencyCritical, true
	default:
		return "", false
	}
}

// Timeout is how long a request of this urgency stays open.
func (u Urgency) Timeout() time.Duration {
	switch u {
	case UrgencyCritical:
		return 15 * time.Minute
	case UrgencyUrgent:
		return 45 * time.Minute
	default:
		return 120 * time.Minute
	}
}

// Scope is the donor search radius for this urgency.
func (u Urgency) Scope() SearchScope {
	switch u {
	case UrgencyCritical:
		return ScopeFullState
	case UrgencyUrgent:
		return ScopeDistrict
	default:
		return ScopeTaluk
	}
}

type RequestStatus string

const (
	StatusPending            RequestStatus = "Pending"
	StatusAccepted           RequestStatus = "Accepted"
	StatusFulfilled          RequestStatus = "Fulfilled"
	StatusPartiallyFulfilled RequestStatus = "Partially Fulfilled"
	StatusCancelled          RequestStatus = "Cancelled"
)

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	return s == StatusFulfilled || s == StatusCancelled
}

type Location struct {
	District string `json:"district"`
	Taluk    string `json:"taluk"`
	Village  string `json:"village,omitempty"`
}

// String renders "village, taluk, district", omitting an empty village.
func (l Location) String() string {
	if l.Village != "" {
		return fmt.Sprintf("%s, %s, %s", l.Village, l.Taluk, l.District)
	}
	return fmt.Sprintf("%s, %s", l.Taluk, l.District)
}

type NotificationType string

const (
	NotifyCriticalRequest NotificationType = "critical_request"
	NotifyHospitalRequest NotificationType = "hospital_request"
	NotifyLowStock        NotificationType = "low_stock"
	NotifyRedAlert        NotificationType = "red_alert"
)

type Notification struct {
	Type      NotificationType `json:"type"`
	RequestID int64            `json:"requestId,omitempty"`
	BloodType BloodType        `json:"bloodType,omitempty"`
	Units     int              `json:"units,omitempty"`
	Location  string           `json:"location,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Read      bool             `json:"read"`
}

type User struct {
	Phone            string         `json:"phone"`
	Name             string         `json:"name"`
	Role             Role           `json:"role"`
	Location         Location       `json:"location"`
	BloodGroup       BloodType      `json:"bloodGroup,omitempty"`
	CooldownOverride bool           `json:"cooldownOverride"`
	LastDonationAt   *time.Time     `json:"lastDonationAt,omitempty"`
	Points           int            `json:"points"`
	Approved         bool           `json:"approved"`
	Notifications    []Notification `json:"notifications,omitempty"`
}

// Active reports whether the user may act in its role. Hospitals and blood
// banks stay inactive until an admin approves them.
func (u User) Active() bool {
	if u.Role.RequiresApproval() {
		return u.Approved
	}
	return true
}

// MatchedDonor is one entry of the candidate snapshot taken at request creation.
type MatchedDonor struct {
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Distance string `json:"distance"`
	Priority int    `json:"priority"`
}

type Pledge struct {
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	PledgedAt time.Time `json:"pledgedAt"`
}

type Request struct {
	ID             int64             `json:"id"`
	Requester      string            `json:"requester"`
	BloodType      BloodType         `json:"bloodType"`
	Units          int               `json:"units"`
	Urgency        Urgency           `json:"urgency"`
	Status         RequestStatus     `json:"status"`
	Location       Location          `json:"location"`
	CreatedAt      time.Time         `json:"createdAt"`
	ExpiresAt      time.Time         `json:"expiresAt"`
	MatchedDonors  []MatchedDonor    `json:"matchedDonors"`
	PledgedDonors  []Pledge          `json:"pledgedDonors"`
	InventoryIDs   []string          `json:"inventoryIds"`
	TestResults    map[string]string `json:"testResults"`
	FulfilledUnits int               `json:"fulfilledUnits,omitempty"`
	FulfilledBy    string            `json:"fulfilledBy,omitempty"`
	FulfilledAt    *time.Time        `json:"fulfilledAt,omitempty"`
}

// Expired is derived from ExpiresAt; requests are never moved to an expired state.
func (r Request) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// HasPledge reports whether phone already pledged against the request.
func (r Request) HasPledge(phone string) bool {
	for _, p := range r.PledgedDonors {
		if p.Phone == phone {
			return true
		}
	}
	return false
}

// Redacted drops the matched donor snapshot and every pledge except viewer's own.
func (r Request) Redacted(viewer string) Request {
	out := r.Clone()
	out.MatchedDonors = []MatchedDonor{}
	out.PledgedDonors = []Pledge{}
	for _, p := range r.PledgedDonors {
		if p.Phone == viewer {
			out.PledgedDonors = append(out.PledgedDonors, p)
		}
	}
	return out
}

// Clone deep-copies slices and maps so callers can mutate the copy freely.
func (r Request) Clone() Request {
	out := r
	out.MatchedDonors = append([]MatchedDonor(nil), r.MatchedDonors...)
	out.PledgedDonors = append([]Pledge(nil), r.PledgedDonors...)
	out.InventoryIDs = append([]string(nil), r.InventoryIDs...)
	out.TestResults = make(map[string]string, len(r.TestResults))
	for k, v := range r.TestResults {
		out.TestResults[k] = v
	}
	if r.FulfilledAt != nil {
		at := *r.FulfilledAt
		out.FulfilledAt = &at
	}
	return out
}

// Clone deep-copies the user record including its inbox.
func (u User) Clone() User {
	out := u
	out.Notifications = append([]Notification(nil), u.Notifications...)
	if u.LastDonationAt != nil {
		at := *u.LastDonationAt
		out.LastDonationAt = &at
	}
	return out
}

type InventoryUnit struct {
	ID         string    `json:"id"`
	BloodType  BloodType `json:"bloodType"`
	Units      int       `json:"units"`
	Expiry     time.Time `json:"expiry"`
	DonorPhone string    `json:"donorPhone,omitempty"`
	RequestID  *int64    `json:"requestId,omitempty"`
	TestReport string    `json:"testReport,omitempty"`
	Custodian  string    `json:"custodian"`
	AddedAt    time.Time `json:"addedAt"`
}

// ExpiredOn reports whether the unit's expiry date falls before the calendar day of now.
func (u InventoryUnit) ExpiredOn(now time.Time) bool {
	loc := u.Expiry.Location()
	y, m, d := now.In(loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	ey, em, ed := u.Expiry.Date()
	return time.Date(ey, em, ed, 0, 0, 0, 0, loc).Before(today)
}

// Reserved reports whether the unit was collected against a specific request
// and so is not available for general allocation.
func (u InventoryUnit) Reserved() bool {
	return u.RequestID != nil
}
