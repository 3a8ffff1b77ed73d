package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bloodhub/internal/actortoken"
	"bloodhub/pkg/domain"
	"bloodhub/pkg/store"
	"bloodhub/services/bloodhub/internal/app"
	"github.com/alicebob/miniredis/v2"
)

const (
	testSecret    = "0123456789abcdef0123456789abcdef"
	hospitalPhone = "9000000001"
	bankPhone     = "9000000002"
	adminPhone    = "9000000009"
	donorPhone    = "9100000001"
)

type harness struct {
	srv    *httptest.Server
	signer *actortoken.Signer
	app    *app.App
}

func newHarness(t *testing.T, adjust func(*Config)) *harness {
	t.Helper()
	a, err := app.New(app.Config{Store: store.NewMemoryStore()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	edappally := domain.Location{District: "Ernakulam", Taluk: "Kanayannur", Village: "Edappally"}
	err = a.SeedUsers(context.Background(), []domain.User{
		{Phone: hospitalPhone, Name: "General Hospital", Role: domain.RoleHospital, Location: edappally, Approved: true},
		{Phone: bankPhone, Name: "City Blood Bank", Role: domain.RoleBloodBank, Location: edappally, Approved: true},
		{Phone: adminPhone, Name: "Admin", Role: domain.RoleAdmin},
		{Phone: donorPhone, Name: "Anu", Role: domain.RoleDonor, BloodGroup: domain.OPos, Location: edappally},
	})
	if err != nil {
		t.Fatalf("seed users: %v", err)
	}
	opts := actortoken.Options{Secret: testSecret, Issuer: "bloodhub"}
	signer, err := actortoken.NewSigner(opts)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := actortoken.NewVerifier(opts)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	cfg := Config{App: a, Verifier: verifier}
	if adjust != nil {
		adjust(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, signer: signer, app: a}
}

func (h *harness) do(t *testing.T, method, path, actor string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		token, err := h.signer.Sign(actor)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthAndAuth(t *testing.T) {
	h := newHarness(t, nil)
	resp, _ := h.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", resp.StatusCode)
	}
	resp, body := h.do(t, http.MethodGet, "/api/requests", "", nil)
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "AUTH_INVALID_TOKEN" {
		t.Fatalf("no token = %d %v, want 401 AUTH_INVALID_TOKEN", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	create := map[string]any{"bloodType": "O+", "units": 1, "urgency": "Normal"}

	resp, body := h.do(t, http.MethodPost, "/api/requests", hospitalPhone, create)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d %v, want 201", resp.StatusCode, body)
	}
	id := int64(body["id"].(float64))
	if body["status"] != string(domain.StatusPending) {
		t.Fatalf("status = %v, want Pending", body["status"])
	}

	resp, body = h.do(t, http.MethodPost, "/api/requests", hospitalPhone, create)
	if resp.StatusCode != http.StatusConflict || body["code"] != "REQUEST_DUPLICATE" {
		t.Fatalf("duplicate = %d %v, want 409 REQUEST_DUPLICATE", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodPost, "/api/requests", donorPhone, map[string]any{"bloodType": "A+", "units": 1, "urgency": "Normal"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("donor create = %d %v, want 403", resp.StatusCode, body)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/requests", hospitalPhone, map[string]any{"bloodType": "Z+", "units": 1, "urgency": "Normal"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad blood type = %d, want 400", resp.StatusCode)
	}

	path := "/api/requests/" + jsonID(id)
	resp, body = h.do(t, http.MethodPost, path+"/pledge", donorPhone, nil)
	if resp.StatusCode != http.StatusOK || body["status"] != string(domain.StatusAccepted) {
		t.Fatalf("pledge = %d %v, want 200 Accepted", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodPost, path+"/pledge", donorPhone, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second pledge = %d %v, want 409", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodPost, path+"/cancel", hospitalPhone, nil)
	if resp.StatusCode != http.StatusConflict || body["code"] != "REQUEST_INVALID_TRANSITION" {
		t.Fatalf("cancel accepted = %d %v, want 409", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodPost, path+"/donations", bankPhone, map[string]any{"donorPhone": donorPhone, "units": 1})
	if resp.StatusCode != http.StatusOK || body["status"] != string(domain.StatusFulfilled) {
		t.Fatalf("donation = %d %v, want 200 Fulfilled", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodGet, "/api/donors/me", donorPhone, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("donor profile = %d %v", resp.StatusCode, body)
	}
	cooldown := body["cooldown"].(map[string]any)
	if cooldown["inCooldown"] != true {
		t.Fatalf("cooldown = %v, want inCooldown after donation", cooldown)
	}

	resp, _ = h.do(t, http.MethodGet, "/api/requests/999", hospitalPhone, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing request = %d, want 404", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodGet, path+"/matches", donorPhone, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("donor matches = %d, want 403", resp.StatusCode)
	}
}

func TestRequestHidesDonorContactsFromOtherDonors(t *testing.T) {
	h := newHarness(t, nil)
	const otherDonor = "9100000002"
	err := h.app.SeedUsers(context.Background(), []domain.User{{
		Phone: otherDonor, Name: "Biju", Role: domain.RoleDonor, BloodGroup: domain.OPos,
		Location: domain.Location{District: "Ernakulam", Taluk: "Kanayannur", Village: "Edappally"},
	}})
	if err != nil {
		t.Fatalf("seed donor: %v", err)
	}

	resp, body := h.do(t, http.MethodPost, "/api/requests", hospitalPhone, map[string]any{"bloodType": "O+", "units": 3, "urgency": "Critical"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d %v, want 201", resp.StatusCode, body)
	}
	path := "/api/requests/" + jsonID(int64(body["id"].(float64)))
	if resp, body = h.do(t, http.MethodPost, path+"/pledge", otherDonor, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("pledge = %d %v", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodPost, path+"/pledge", donorPhone, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pledge = %d %v", resp.StatusCode, body)
	}
	if pledged := body["pledgedDonors"].([]any); len(pledged) != 1 || pledged[0].(map[string]any)["phone"] != donorPhone {
		t.Fatalf("pledge response pledgedDonors = %v, want only the caller", pledged)
	}

	resp, body = h.do(t, http.MethodGet, path, donorPhone, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("donor get = %d %v", resp.StatusCode, body)
	}
	if matched := body["matchedDonors"].([]any); len(matched) != 0 {
		t.Fatalf("donor sees matchedDonors = %v", matched)
	}
	if strings.Contains(jsonString(t, body), otherDonor) {
		t.Fatalf("donor view leaks %s: %v", otherDonor, body)
	}

	resp, body = h.do(t, http.MethodGet, path, hospitalPhone, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("requester get = %d %v", resp.StatusCode, body)
	}
	if matched := body["matchedDonors"].([]any); len(matched) != 2 {
		t.Fatalf("requester matchedDonors = %v, want 2", matched)
	}
	if pledged := body["pledgedDonors"].([]any); len(pledged) != 2 {
		t.Fatalf("requester pledgedDonors = %v, want 2", pledged)
	}
}

func jsonString(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestInventoryAndAllocationOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	resp, body := h.do(t, http.MethodPost, "/api/inventory", bankPhone, map[string]any{"bloodType": "B+", "units": 3})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add stock = %d %v, want 201", resp.StatusCode, body)
	}
	unitID := body["id"].(string)
	resp, _ = h.do(t, http.MethodPost, "/api/inventory", bankPhone, map[string]any{"bloodType": "B+", "units": 1, "expiry": "1/2/2030"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad expiry = %d, want 400", resp.StatusCode)
	}

	resp, body = h.do(t, http.MethodGet, "/api/inventory/"+unitID, hospitalPhone, nil)
	if resp.StatusCode != http.StatusOK || body["reportUrl"] != nil {
		t.Fatalf("get unit = %d %v", resp.StatusCode, body)
	}
	resp, _ = h.do(t, http.MethodGet, "/api/inventory", donorPhone, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("donor inventory = %d, want 403", resp.StatusCode)
	}

	resp, body = h.do(t, http.MethodPost, "/api/requests", hospitalPhone, map[string]any{"bloodType": "B+", "units": 5, "urgency": "Urgent"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d %v", resp.StatusCode, body)
	}
	path := "/api/requests/" + jsonID(int64(body["id"].(float64))) + "/allocate"
	resp, body = h.do(t, http.MethodPost, path, hospitalPhone, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("allocate = %d %v", resp.StatusCode, body)
	}
	if body["allocated"].(float64) != 3 || body["shortfall"].(float64) != 2 {
		t.Fatalf("allocation = %v, want 3 allocated 2 short", body)
	}

	resp, body = h.do(t, http.MethodGet, "/api/inventory", bankPhone, nil)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 0 {
		t.Fatalf("inventory after allocation = %d %v", resp.StatusCode, body)
	}
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t, nil)
	resp, _ := h.do(t, http.MethodPost, "/api/admin/red-alert", hospitalPhone, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("hospital toggle = %d, want 403", resp.StatusCode)
	}
	resp, body := h.do(t, http.MethodPost, "/api/admin/red-alert", adminPhone, nil)
	if resp.StatusCode != http.StatusOK || body["active"] != true {
		t.Fatalf("toggle = %d %v", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodGet, "/api/admin/red-alert", donorPhone, nil)
	if resp.StatusCode != http.StatusOK || body["active"] != true {
		t.Fatalf("red alert state = %d %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodGet, "/api/notifications", donorPhone, nil)
	if resp.StatusCode != http.StatusOK || body["unread"].(float64) != 1 {
		t.Fatalf("inbox = %d %v, want 1 unread", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodPost, "/api/notifications/read", donorPhone, map[string]any{})
	if resp.StatusCode != http.StatusOK || body["changed"].(float64) != 1 {
		t.Fatalf("mark read = %d %v", resp.StatusCode, body)
	}

	newHospital := map[string]any{
		"phone":    "9000000007",
		"name":     "Taluk Hospital",
		"role":     "Hospital",
		"location": map[string]string{"district": "Ernakulam", "taluk": "Aluva", "village": "Kalamassery"},
	}
	resp, body = h.do(t, http.MethodPost, "/api/admin/users", adminPhone, newHospital)
	if resp.StatusCode != http.StatusOK || body["approved"] != false {
		t.Fatalf("upsert = %d %v", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodPost, "/api/requests", "9000000007", map[string]any{"bloodType": "O+", "units": 1, "urgency": "Normal"})
	if resp.StatusCode != http.StatusForbidden || body["code"] != "ACCOUNT_NOT_APPROVED" {
		t.Fatalf("unapproved create = %d %v, want 403 ACCOUNT_NOT_APPROVED", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodPost, "/api/admin/users/9000000007/approval", adminPhone, map[string]any{"approved": true})
	if resp.StatusCode != http.StatusOK || body["approved"] != true {
		t.Fatalf("approve = %d %v", resp.StatusCode, body)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/admin/users/9000000007/unknown", adminPhone, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown admin path = %d, want 404", resp.StatusCode)
	}
}

func TestCreateRequestRateLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	h := newHarness(t, func(cfg *Config) {
		cfg.RedisAddr = redis.Addr()
		cfg.CreateRateLimitPerMinute = 1
	})
	resp, body := h.do(t, http.MethodPost, "/api/requests", hospitalPhone, map[string]any{"bloodType": "O+", "units": 1, "urgency": "Normal"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create = %d %v", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodPost, "/api/requests", hospitalPhone, map[string]any{"bloodType": "A+", "units": 1, "urgency": "Normal"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second create = %d %v, want 429", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("Retry-After header missing")
	}
}

func TestServerRequiresRedisForRateLimit(t *testing.T) {
	a, err := app.New(app.Config{Store: store.NewMemoryStore()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	verifier, _ := actortoken.NewVerifier(actortoken.Options{Secret: testSecret, Issuer: "bloodhub"})
	if _, err := New(Config{App: a, Verifier: verifier, CreateRateLimitPerMinute: 1}); err == nil {
		t.Fatalf("expected limiter initialization to fail without redis addr")
	}
	if _, err := New(Config{App: a}); err == nil || !strings.Contains(err.Error(), "verifier") {
		t.Fatalf("missing verifier err = %v", err)
	}
}

func jsonID(id int64) string {
	data, _ := json.Marshal(id)
	return string(data)
}
