package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bloodhub/internal/util"
	"bloodhub/pkg/domain"
	"bloodhub/pkg/events"
	"bloodhub/pkg/location"
	"bloodhub/pkg/matching"
	"bloodhub/pkg/policy"
	"bloodhub/pkg/store"
)

// RequestView is a request as shown to callers, with its derived expiry state.
type RequestView struct {
	domain.Request
	Expired          bool  `json:"expired"`
	SecondsRemaining int64 `json:"secondsRemaining"`
}

// NearbyRequest is one entry of a donor's feed.
type NearbyRequest struct {
	RequestView
	Distance string `json:"distance"`
	Pledged  bool   `json:"pledged"`
}

// RequestFilter narrows ListRequests. Zero fields match everything.
type RequestFilter struct {
	Requester string
	Status    domain.RequestStatus
	BloodType domain.BloodType
}

func (a *App) view(req domain.Request) RequestView {
	now := a.now()
	v := RequestView{Request: req, Expired: req.Status == domain.StatusPending && req.Expired(now)}
	if req.Status == domain.StatusPending && !v.Expired {
		v.SecondsRemaining = int64(req.ExpiresAt.Sub(now) / time.Second)
	}
	return v
}

// CreateRequest opens a request on behalf of an approved hospital, blood bank
// or organization and returns its id. A critical request notifies every
// matched donor; a hospital request notifies the approved blood banks of its district.
func (a *App) CreateRequest(ctx context.Context, requesterPhone string, bloodType domain.BloodType, units int, urgency domain.Urgency) (int64, error) {
	if _, ok := domain.ParseBloodType(string(bloodType)); !ok {
		return 0, fmt.Errorf("%w: blood type %q", ErrInvalidInput, bloodType)
	}
	if _, ok := domain.ParseUrgency(string(urgency)); !ok {
		return 0, fmt.Errorf("%w: urgency %q", ErrInvalidInput, urgency)
	}
	if units < 1 {
		return 0, fmt.Errorf("%w: units must be at least 1", ErrInvalidInput)
	}

	unlock := a.locks.lock(requesterKey(requesterPhone))

	now := a.now()
	var (
		created   domain.Request
		requester domain.User
	)
	err := a.withTx("create request", func(tx store.Store) error {
		var err error
		requester, err = loadActor(tx, requesterPhone, domain.Role.CanOriginateRequest)
		if err != nil {
			return err
		}
		dups, err := tx.FindRequests(func(r domain.Request) bool {
			return r.Requester == requesterPhone &&
				r.BloodType == bloodType &&
				r.Status == domain.StatusPending &&
				now.Sub(r.CreatedAt) < DedupWindow
		})
		if err != nil {
			return err
		}
		if len(dups) > 0 {
			return fmt.Errorf("%w: request %d is still pending", ErrDuplicateRequest, dups[0].ID)
		}
		redAlert, err := tx.RedAlert()
		if err != nil {
			return err
		}
		directory, err := tx.ListUsers()
		if err != nil {
			return err
		}
		id, err := tx.NextRequestID()
		if err != nil {
			return err
		}
		created = domain.Request{
			ID:            id,
			Requester:     requesterPhone,
			BloodType:     bloodType,
			Units:         units,
			Urgency:       urgency,
			Status:        domain.StatusPending,
			Location:      requester.Location,
			CreatedAt:     now,
			ExpiresAt:     now.Add(urgency.Timeout()),
			PledgedDonors: []domain.Pledge{},
			InventoryIDs:  []string{},
			TestResults:   map[string]string{},
		}
		created.MatchedDonors = matching.Match(created, directory, func(u domain.User) bool {
			return !policy.InCooldown(u, redAlert, now)
		})
		return tx.AppendRequest(created)
	})
	unlock()
	if err != nil {
		return 0, err
	}

	a.afterCreate(ctx, created, requester)
	return created.ID, nil
}

func (a *App) afterCreate(ctx context.Context, req domain.Request, requester domain.User) {
	a.publish(ctx, events.Event{
		Type:      events.RequestCreated,
		RequestID: req.ID,
		BloodType: req.BloodType,
		Units:     req.Units,
		Status:    req.Status,
		District:  req.Location.District,
		Actor:     requester.Phone,
	})

	if req.Urgency == domain.UrgencyCritical && len(req.MatchedDonors) > 0 {
		phones := make([]string, 0, len(req.MatchedDonors))
		for _, m := range req.MatchedDonors {
			phones = append(phones, m.Phone)
		}
		msg := criticalRequestMessage(req)
		a.deliverInbox(ctx, phones, domain.Notification{
			Type:      domain.NotifyCriticalRequest,
			RequestID: req.ID,
			BloodType: req.BloodType,
			Units:     req.Units,
			Location:  req.Location.String(),
			Message:   msg,
			Timestamp: req.CreatedAt,
		})
		a.enqueueDelivery(ctx, DeliveryCriticalRequest, req.ID, phones, msg)
	}

	if requester.Role == domain.RoleHospital {
		banks, err := a.phonesWhere(func(u domain.User) bool {
			return u.Role == domain.RoleBloodBank && u.Active() &&
				strings.EqualFold(strings.TrimSpace(u.Location.District), strings.TrimSpace(req.Location.District))
		})
		if err != nil {
			util.LoggerFromContext(ctx).Warn("list blood banks failed", "request_id", req.ID, "err", err)
			return
		}
		a.deliverInbox(ctx, banks, domain.Notification{
			Type:      domain.NotifyHospitalRequest,
			RequestID: req.ID,
			BloodType: req.BloodType,
			Units:     req.Units,
			Location:  req.Location.String(),
			Message:   hospitalRequestMessage(req),
			Timestamp: req.CreatedAt,
		})
	}
}

// CancelRequest moves a pending request to Cancelled. Only the requester or an admin may cancel.
func (a *App) CancelRequest(ctx context.Context, actorPhone string, requestID int64) (domain.Request, error) {
	unlock := a.locks.lock(requestKey(requestID))

	var req domain.Request
	err := a.withTx("cancel request", func(tx store.Store) error {
		actor, err := loadActor(tx, actorPhone, nil)
		if err != nil {
			return err
		}
		req, err = loadRequest(tx, requestID)
		if err != nil {
			return err
		}
		if req.Requester != actor.Phone && !actor.Role.CanAdminister() {
			return fmt.Errorf("%w: only the requester or an admin may cancel", ErrForbidden)
		}
		if req.Status != domain.StatusPending {
			return fmt.Errorf("%w: cannot cancel a %s request", ErrInvalidTransition, req.Status)
		}
		req.Status = domain.StatusCancelled
		return tx.SaveRequest(req)
	})
	unlock()
	if err != nil {
		return domain.Request{}, err
	}
	a.publish(ctx, events.Event{
		Type:      events.RequestCancelled,
		RequestID: req.ID,
		BloodType: req.BloodType,
		Status:    req.Status,
		District:  req.Location.District,
		Actor:     actorPhone,
	})
	return req, nil
}

// GetRequest returns one request with its derived expiry state. Donor contacts
// are only shown to the requester, fulfilling institutions and admins.
func (a *App) GetRequest(ctx context.Context, actorPhone string, id int64) (RequestView, error) {
	actor, err := loadActor(a.store, actorPhone, nil)
	if err != nil {
		return RequestView{}, classify("get user", err)
	}
	req, err := loadRequest(a.store, id)
	if err != nil {
		return RequestView{}, classify("get request", err)
	}
	if !canSeeDonors(actor, req) {
		req = req.Redacted(actor.Phone)
	}
	return a.view(req), nil
}

func canSeeDonors(actor domain.User, req domain.Request) bool {
	return actor.Phone == req.Requester || actor.Role.CanFulfill() || actor.Role.CanAdminister()
}

// ListRequests returns requests visible to the actor. Hospitals, blood banks and
// admins see every request, organizations only their own. Donors use NearbyRequests.
func (a *App) ListRequests(ctx context.Context, actorPhone string, filter RequestFilter) ([]RequestView, error) {
	actor, err := loadActor(a.store, actorPhone, nil)
	if err != nil {
		return nil, classify("get user", err)
	}
	switch {
	case actor.Role.CanFulfill(), actor.Role.CanAdminister():
	case actor.Role.CanOriginateRequest():
		filter.Requester = actor.Phone
	default:
		return nil, fmt.Errorf("%w: role %s cannot list requests", ErrForbidden, actor.Role)
	}

	found, err := a.store.FindRequests(func(r domain.Request) bool {
		if filter.Requester != "" && r.Requester != filter.Requester {
			return false
		}
		if filter.Status != "" && r.Status != filter.Status {
			return false
		}
		if filter.BloodType != "" && r.BloodType != filter.BloodType {
			return false
		}
		return true
	})
	if err != nil {
		return nil, storageErr("find requests", err)
	}
	out := make([]RequestView, 0, len(found))
	for _, r := range found {
		out = append(out, a.view(r))
	}
	return out, nil
}

// NearbyRequests is the donor feed: pending, unexpired requests for the donor's
// blood group in the donor's district, each labelled with its distance band.
func (a *App) NearbyRequests(ctx context.Context, donorPhone string) ([]NearbyRequest, error) {
	donor, err := loadActor(a.store, donorPhone, domain.Role.CanDonate)
	if err != nil {
		return nil, classify("get user", err)
	}
	if donor.BloodGroup == "" {
		return []NearbyRequest{}, nil
	}
	now := a.now()
	found, err := a.store.FindRequests(func(r domain.Request) bool {
		return r.Status == domain.StatusPending &&
			r.BloodType == donor.BloodGroup &&
			!r.Expired(now) &&
			location.Proximity(r.Location, donor.Location) != location.OtherDistrict
	})
	if err != nil {
		return nil, storageErr("find requests", err)
	}
	out := make([]NearbyRequest, 0, len(found))
	for _, r := range found {
		out = append(out, NearbyRequest{
			RequestView: a.view(r.Redacted(donor.Phone)),
			Distance:    location.Proximity(r.Location, donor.Location).Distance(),
			Pledged:     r.HasPledge(donor.Phone),
		})
	}
	return out, nil
}

// MatchedDonorsOf returns the candidate snapshot taken when the request was created.
func (a *App) MatchedDonorsOf(ctx context.Context, id int64) ([]domain.MatchedDonor, error) {
	req, err := loadRequest(a.store, id)
	if err != nil {
		return nil, classify("get request", err)
	}
	if req.MatchedDonors == nil {
		return []domain.MatchedDonor{}, nil
	}
	return req.MatchedDonors, nil
}
