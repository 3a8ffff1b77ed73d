package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bloodhub/internal/actortoken"
	"bloodhub/internal/ratelimit"
	"bloodhub/internal/util"
	"bloodhub/pkg/domain"
	"bloodhub/pkg/reports"
	"bloodhub/services/bloodhub/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	Verifier                 *actortoken.Verifier
	RedisAddr                string
	RedisPassword            string
	CreateRateLimitPerMinute int
	MaxReportBytes           int64
	EnableCORS               bool
	TrustedProxies           []string
}

// Server exposes the blood hub HTTP API.
type Server struct {
	app            *app.App
	verifier       *actortoken.Verifier
	createLimiter  *ratelimit.FixedWindowLimiter
	mux            *http.ServeMux
	maxReportBytes int64
	cors           bool
	trustedProxies *util.TrustedProxies
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("server: actor token verifier is required")
	}
	maxReportBytes := cfg.MaxReportBytes
	if maxReportBytes <= 0 {
		maxReportBytes = reports.MaxReportBytes
	}
	s := &Server{
		app:            cfg.App,
		verifier:       cfg.Verifier,
		mux:            http.NewServeMux(),
		maxReportBytes: maxReportBytes,
		cors:           cfg.EnableCORS,
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s.trustedProxies = trusted
	if cfg.CreateRateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword,
			"bloodhub:ratelimit:create-request", cfg.CreateRateLimitPerMinute, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init create-request limiter: %w", err)
		}
		s.createLimiter = limiter
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	if s.cors {
		h = util.WithCORS(h)
	}
	return util.WithRequestID(util.WithRequestLog("bloodhub", util.WithSecurityHeaders(h)))
}

// Close releases the rate limiter connection.
func (s *Server) Close() error {
	if s.createLimiter == nil {
		return nil
	}
	return s.createLimiter.Close()
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// requests
	s.mux.Handle("/api/requests", s.withActor(s.handleRequests))
	s.mux.Handle("/api/requests/", s.withActor(s.handleRequestByID))

	// donors and inbox
	s.mux.Handle("/api/donors/me", s.withActor(s.handleDonorMe))
	s.mux.Handle("/api/notifications", s.withActor(s.handleNotifications))
	s.mux.Handle("/api/notifications/read", s.withActor(s.handleNotificationsRead))

	// inventory
	s.mux.Handle("/api/inventory", s.withActor(s.handleInventory))
	s.mux.Handle("/api/inventory/", s.withActor(s.handleInventoryUnit))

	// admin
	s.mux.Handle("/api/admin/red-alert", s.withActor(s.handleRedAlert))
	s.mux.Handle("/api/admin/users", s.withActor(s.handleUpsertUser))
	s.mux.Handle("/api/admin/users/", s.withActor(s.handleApproval))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type actorHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withActor(next actorHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := actortoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		phone, err := s.verifier.Verify(token)
		if err != nil {
			s.audit(r, "actor_token", "rejected", "error", err.Error())
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("actor", phone))
		next(w, r.WithContext(ctx), phone)
	})
}

type createRequestBody struct {
	BloodType string `json:"bloodType"`
	Units     int    `json:"units"`
	Urgency   string `json:"urgency"`
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request, actor string) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRequest(w, r, actor)
	case http.MethodGet:
		s.handleListRequests(w, r, actor)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request, actor string) {
	if !s.allowCreate(w, r, actor) {
		return
	}
	var body createRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}
	bt, ok := domain.ParseBloodType(body.BloodType)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid blood type")
		return
	}
	urgency, ok := domain.ParseUrgency(body.Urgency)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid urgency")
		return
	}
	id, err := s.app.CreateRequest(r.Context(), actor, bt, body.Units, urgency)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	view, err := s.app.GetRequest(r.Context(), actor, id)
	if err != nil {
		writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request, actor string) {
	q := r.URL.Query()
	filter := app.RequestFilter{
		Requester: strings.TrimSpace(q.Get("requester")),
		Status:    domain.RequestStatus(strings.TrimSpace(q.Get("status"))),
	}
	if raw := strings.TrimSpace(q.Get("bloodType")); raw != "" {
		bt, ok := domain.ParseBloodType(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid blood type")
			return
		}
		filter.BloodType = bt
	}
	items, err := s.app.ListRequests(r.Context(), actor, filter)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// /api/requests/nearby, /api/requests/{id} or /api/requests/{id}/{action}
func (s *Server) handleRequestByID(w http.ResponseWriter, r *http.Request, actor string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/requests/")
	parts := strings.SplitN(path, "/", 2)
	if parts[0] == "nearby" && len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleNearby(w, r, actor)
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		view, err := s.app.GetRequest(r.Context(), actor, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	switch parts[1] {
	case "pledge":
		s.handlePledge(w, r, actor, id)
	case "cancel":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		req, err := s.app.CancelRequest(r.Context(), actor, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	case "donations":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleDonation(w, r, actor, id)
	case "allocate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		result, err := s.app.AllocateFromStock(r.Context(), actor, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "matches":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleMatches(w, r, actor, id)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request, actor string) {
	items, err := s.app.NearbyRequests(r.Context(), actor)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handlePledge(w http.ResponseWriter, r *http.Request, actor string, id int64) {
	var (
		req domain.Request
		err error
	)
	switch r.Method {
	case http.MethodPost:
		req, err = s.app.Pledge(r.Context(), id, actor)
	case http.MethodDelete:
		req, err = s.app.Unpledge(r.Context(), id, actor)
	default:
		methodNotAllowed(w)
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req.Redacted(actor))
}

type donationBody struct {
	DonorPhone string `json:"donorPhone"`
	Units      int    `json:"units"`
}

// handleDonation accepts JSON, or multipart with donorPhone, units and an
// optional "report" PDF file.
func (s *Server) handleDonation(w http.ResponseWriter, r *http.Request, actor string, id int64) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxReportBytes+(1<<20))
	var (
		body   donationBody
		report []byte
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		body.DonorPhone = strings.TrimSpace(r.FormValue("donorPhone"))
		units, err := strconv.Atoi(strings.TrimSpace(r.FormValue("units")))
		if err != nil {
			writeError(w, http.StatusBadRequest, "units must be a number")
			return
		}
		body.Units = units
		file, header, err := r.FormFile("report")
		if err == nil {
			defer file.Close()
			if header.Size > s.maxReportBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "report too large")
				return
			}
			var buf bytes.Buffer
			if _, err := io.Copy(&buf, io.LimitReader(file, s.maxReportBytes+1)); err != nil {
				writeError(w, http.StatusBadRequest, "invalid report upload")
				return
			}
			if int64(buf.Len()) > s.maxReportBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "report too large")
				return
			}
			report = buf.Bytes()
		} else if !errors.Is(err, http.ErrMissingFile) {
			writeError(w, http.StatusBadRequest, "invalid report upload")
			return
		}
	} else if !decodeJSON(w, r, &body) {
		return
	}
	req, err := s.app.FulfillFromDonation(r.Context(), actor, id, body.DonorPhone, body.Units, report)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request, actor string, id int64) {
	view, err := s.app.GetRequest(r.Context(), actor, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if view.Requester != actor {
		u, err := s.app.GetUser(r.Context(), actor)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if !u.Role.CanFulfill() && !u.Role.CanAdminister() {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	}
	donors, err := s.app.MatchedDonorsOf(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": donors,
		"count": len(donors),
	})
}

func (s *Server) handleDonorMe(w http.ResponseWriter, r *http.Request, actor string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	profile, err := s.app.DonorProfile(r.Context(), actor)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, actor string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.Notifications(r.Context(), actor)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"count":  len(items),
		"unread": unread,
	})
}

type markReadBody struct {
	// Index is the inbox position to mark; omitted marks everything.
	Index *int `json:"index"`
}

func (s *Server) handleNotificationsRead(w http.ResponseWriter, r *http.Request, actor string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body markReadBody
	if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
		return
	}
	index := -1
	if body.Index != nil {
		if *body.Index < 0 {
			writeError(w, http.StatusBadRequest, "index must not be negative")
			return
		}
		index = *body.Index
	}
	changed, err := s.app.MarkNotificationsRead(r.Context(), actor, index)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"changed": changed})
}

type stockBody struct {
	BloodType  string `json:"bloodType"`
	Units      int    `json:"units"`
	Expiry     string `json:"expiry"` // YYYY-MM-DD
	DonorPhone string `json:"donorPhone"`
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request, actor string) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListInventory(r.Context(), actor)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		summary, err := s.app.InventorySummary(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":   items,
			"count":   len(items),
			"summary": summary,
		})
	case http.MethodPost:
		var body stockBody
		if !decodeJSON(w, r, &body) {
			return
		}
		bt, ok := domain.ParseBloodType(body.BloodType)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid blood type")
			return
		}
		entry := app.StockEntry{BloodType: bt, Units: body.Units, DonorPhone: strings.TrimSpace(body.DonorPhone)}
		if raw := strings.TrimSpace(body.Expiry); raw != "" {
			expiry, err := time.Parse(time.DateOnly, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "expiry must be YYYY-MM-DD")
				return
			}
			entry.Expiry = expiry
		}
		unit, err := s.app.AddStock(r.Context(), actor, entry)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, unit)
	default:
		methodNotAllowed(w)
	}
}

// /api/inventory/{id}
func (s *Server) handleInventoryUnit(w http.ResponseWriter, r *http.Request, actor string) {
	id := strings.TrimPrefix(r.URL.Path, "/api/inventory/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	unit, err := s.app.GetInventoryUnit(r.Context(), actor, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	resp := map[string]any{"unit": unit}
	if unit.TestReport != "" {
		url, err := s.app.ReportURL(r.Context(), actor, id)
		switch {
		case err == nil:
			resp["reportUrl"] = url
		case errors.Is(err, app.ErrNotFound):
		default:
			writeAppError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRedAlert(w http.ResponseWriter, r *http.Request, actor string) {
	switch r.Method {
	case http.MethodGet:
		active, err := s.app.RedAlert(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"active": active})
	case http.MethodPost:
		active, err := s.app.ToggleRedAlert(r.Context(), actor)
		if err != nil {
			s.audit(r, "red_alert_toggle", "failed", "actor", actor, "error", err.Error())
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "red_alert_toggle", "success", "actor", actor, "active", active)
		writeJSON(w, http.StatusOK, map[string]bool{"active": active})
	default:
		methodNotAllowed(w)
	}
}

type userBody struct {
	Phone            string          `json:"phone"`
	Name             string          `json:"name"`
	Role             string          `json:"role"`
	BloodGroup       string          `json:"bloodGroup"`
	Location         domain.Location `json:"location"`
	CooldownOverride bool            `json:"cooldownOverride"`
}

func (s *Server) handleUpsertUser(w http.ResponseWriter, r *http.Request, actor string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body userBody
	if !decodeJSON(w, r, &body) {
		return
	}
	u, err := s.app.UpsertUser(r.Context(), actor, domain.User{
		Phone:            strings.TrimSpace(body.Phone),
		Name:             body.Name,
		Role:             domain.Role(body.Role),
		BloodGroup:       domain.BloodType(body.BloodGroup),
		Location:         body.Location,
		CooldownOverride: body.CooldownOverride,
	})
	if err != nil {
		s.audit(r, "user_upsert", "failed", "actor", actor, "phone", body.Phone, "error", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "user_upsert", "success", "actor", actor, "phone", u.Phone, "role", string(u.Role))
	writeJSON(w, http.StatusOK, u)
}

type approvalBody struct {
	Approved bool `json:"approved"`
}

// /api/admin/users/{phone}/approval
func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request, actor string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "approval" {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body approvalBody
	if !decodeJSON(w, r, &body) {
		return
	}
	u, err := s.app.SetApproval(r.Context(), actor, parts[0], body.Approved)
	if err != nil {
		s.audit(r, "user_approval", "failed", "actor", actor, "phone", parts[0], "error", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "user_approval", "success", "actor", actor, "phone", u.Phone, "approved", u.Approved)
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) allowCreate(w http.ResponseWriter, r *http.Request, actor string) bool {
	decision, err := s.createLimiter.Allow(r.Context(), actor)
	if err != nil {
		slog.Error("create-request rate limiter unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
		return false
	}
	if decision.Allowed {
		return true
	}
	s.audit(r, "create_request", "rate_limited", "actor", actor)
	retry := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, codeForStatus(status), msg)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

var appErrors = []struct {
	err    error
	status int
	code   string
}{
	{app.ErrStorageUnavailable, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
	{app.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{app.ErrDuplicateRequest, http.StatusConflict, "REQUEST_DUPLICATE"},
	{app.ErrInvalidTransition, http.StatusConflict, "REQUEST_INVALID_TRANSITION"},
	{app.ErrAlreadyPledged, http.StatusConflict, "PLEDGE_DUPLICATE"},
	{app.ErrCooldown, http.StatusUnprocessableEntity, "DONOR_IN_COOLDOWN"},
	{app.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{app.ErrNotApproved, http.StatusForbidden, "ACCOUNT_NOT_APPROVED"},
	{app.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
}

// writeAppError maps app sentinel errors to HTTP responses. Storage failures
// hide the underlying error from the caller.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range appErrors {
		if !errors.Is(err, m.err) {
			continue
		}
		msg := err.Error()
		if m.status >= http.StatusInternalServerError {
			util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
			msg = "storage unavailable"
		}
		writeErrorCode(w, m.status, m.code, msg)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "REPORT_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusServiceUnavailable:
		return "SYSTEM_UNAVAILABLE"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
