package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"diagcenter/internal/app"
	"diagcenter/internal/domain"
	"diagcenter/internal/payment"
	"diagcenter/internal/store"
)

type testEnv struct {
	store    *store.MemoryStore
	sessions *store.JWTSessionStore
	objects  *memObjectStore
	srv      *httptest.Server
}

// memObjectStore stands in for the bucket so report routes are testable
// without a running MinIO.
type memObjectStore struct {
	objects map[string][]byte
}

func (f *memObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *memObjectStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, ok := f.objects[key]; !ok {
		return "", errors.New("object missing")
	}
	return "https://objects.test/" + key, nil
}

func (f *memObjectStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func newTestEnv(t *testing.T, sessionRateLimit int) *testEnv {
	t.Helper()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "pi_test",
			"client_secret": "pi_test_secret",
		})
	}))
	t.Cleanup(gateway.Close)

	m := store.NewMemoryStore()
	sessions := store.NewJWTSessionStore("test-secret", time.Hour)
	objects := &memObjectStore{objects: make(map[string][]byte)}
	appCore, err := app.New(app.Config{
		Store:    m,
		Sessions: sessions,
		Payments: payment.NewClient("sk_test", gateway.URL),
		Objects:  objects,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	redis := miniredis.RunT(t)
	s, err := New(Config{
		App:                       appCore,
		RedisAddr:                 redis.Addr(),
		SessionRateLimitPerMinute: sessionRateLimit,
		SessionTTL:                time.Hour,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &testEnv{store: m, sessions: sessions, objects: objects, srv: srv}
}

func (e *testEnv) seedUser(t *testing.T, email string, role domain.UserRole) string {
	t.Helper()
	now := time.Now().UTC()
	err := e.store.SaveUser(domain.User{
		ID:        "id-" + email,
		Email:     email,
		Name:      email,
		Role:      role,
		Status:    domain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	token, err := e.sessions.NewSession(email)
	if err != nil {
		t.Fatalf("session for %s: %v", email, err)
	}
	return token
}

// upload posts a multipart file to path under the form field "file".
func (e *testEnv) upload(t *testing.T, path, token, filename, content string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.Copy(part, strings.NewReader(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t, 100)

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/users"},
		{http.MethodPost, "/api/appointments"},
		{http.MethodPost, "/api/payment-authorizations"},
		{http.MethodGet, "/api/appointments/u@example.com"},
	} {
		resp, _ := env.do(t, tc.method, tc.path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s without token expected 401, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestAdminGateRejectsNonAdmin(t *testing.T) {
	env := newTestEnv(t, 100)
	userToken := env.seedUser(t, "user@example.com", domain.RoleUser)

	resp, _ := env.do(t, http.MethodGet, "/api/users", userToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("non-admin on admin route expected 401, got %d", resp.StatusCode)
	}
}

func TestSessionIssueSetsHTTPOnlyCookie(t *testing.T) {
	env := newTestEnv(t, 100)

	resp, _ := env.do(t, http.MethodPost, "/api/session", "", map[string]string{"email": "u@example.com"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session issue expected 200, got %d", resp.StatusCode)
	}
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "token" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatalf("expected token cookie")
	}
	if !cookie.HttpOnly {
		t.Fatalf("token cookie must be http-only")
	}
	if cookie.Value == "" {
		t.Fatalf("token cookie must carry the session token")
	}
	if email, ok, err := env.sessions.EmailFromToken(cookie.Value); err != nil || !ok || email != "u@example.com" {
		t.Fatalf("cookie token did not verify: ok=%v email=%q err=%v", ok, email, err)
	}
}

func TestSessionRateLimit(t *testing.T) {
	env := newTestEnv(t, 2)

	body := map[string]string{"email": "u@example.com"}
	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodPost, "/api/session", "", body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d expected 200, got %d", i+1, resp.StatusCode)
		}
	}
	resp, _ := env.do(t, http.MethodPost, "/api/session", "", body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}
}

func TestBookingEndToEndWithSingleSlot(t *testing.T) {
	env := newTestEnv(t, 100)
	adminToken := env.seedUser(t, "admin@example.com", domain.RoleAdmin)
	aliceToken := env.seedUser(t, "alice@example.com", domain.RoleUser)
	bobToken := env.seedUser(t, "bob@example.com", domain.RoleUser)

	resp, data := env.do(t, http.MethodPost, "/api/listings", adminToken, map[string]any{
		"title": "Complete Blood Count",
		"price": 25.0,
		"date":  "2026-09-15",
		"slots": 1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create listing expected 201, got %d: %s", resp.StatusCode, data)
	}
	var listing domain.Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}

	resp, data = env.do(t, http.MethodPost, "/api/payment-authorizations", aliceToken, map[string]any{"amount": 25.0})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("payment authorization expected 200, got %d: %s", resp.StatusCode, data)
	}
	var payResp map[string]string
	if err := json.Unmarshal(data, &payResp); err != nil {
		t.Fatalf("decode payment response: %v", err)
	}
	if payResp["clientSecret"] == "" {
		t.Fatalf("expected client secret")
	}

	resp, data = env.do(t, http.MethodPost, "/api/appointments", aliceToken, map[string]string{
		"listingId":       listing.ID,
		"paymentIntentId": "pi_test",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("booking expected 201, got %d: %s", resp.StatusCode, data)
	}

	// The single slot is taken; the next booking must be rejected, not queued.
	resp, data = env.do(t, http.MethodPost, "/api/appointments", bobToken, map[string]string{
		"listingId": listing.ID,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second booking expected 409, got %d: %s", resp.StatusCode, data)
	}

	resp, data = env.do(t, http.MethodGet, "/api/appointments/alice@example.com", aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list own appointments expected 200, got %d", resp.StatusCode)
	}
	var appts []domain.Appointment
	if err := json.Unmarshal(data, &appts); err != nil {
		t.Fatalf("decode appointments: %v", err)
	}
	if len(appts) != 1 || appts[0].ListingID != listing.ID {
		t.Fatalf("unexpected appointments: %+v", appts)
	}

	// Alice may not read Bob's bookings.
	resp, _ = env.do(t, http.MethodGet, "/api/appointments/bob@example.com", aliceToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("cross-user read expected 401, got %d", resp.StatusCode)
	}
}

func TestCancelReleasesSlotForRebooking(t *testing.T) {
	env := newTestEnv(t, 100)
	adminToken := env.seedUser(t, "admin@example.com", domain.RoleAdmin)
	aliceToken := env.seedUser(t, "alice@example.com", domain.RoleUser)
	bobToken := env.seedUser(t, "bob@example.com", domain.RoleUser)

	resp, data := env.do(t, http.MethodPost, "/api/listings", adminToken, map[string]any{
		"title": "X-Ray", "price": 40.0, "date": "2026-09-20", "slots": 1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create listing: %d", resp.StatusCode)
	}
	var listing domain.Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}

	resp, data = env.do(t, http.MethodPost, "/api/appointments", aliceToken, map[string]string{"listingId": listing.ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("booking: %d", resp.StatusCode)
	}
	var appt domain.Appointment
	if err := json.Unmarshal(data, &appt); err != nil {
		t.Fatalf("decode appointment: %v", err)
	}

	// Bob cannot cancel Alice's appointment.
	resp, _ = env.do(t, http.MethodDelete, "/api/appointments/"+appt.ID, bobToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("foreign cancel expected 401, got %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/appointments/"+appt.ID, aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner cancel expected 200, got %d", resp.StatusCode)
	}

	// The released slot is bookable again.
	resp, _ = env.do(t, http.MethodPost, "/api/appointments", bobToken, map[string]string{"listingId": listing.ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("rebooking expected 201, got %d", resp.StatusCode)
	}
}

func TestRoleMutationRoundTrip(t *testing.T) {
	env := newTestEnv(t, 100)
	adminToken := env.seedUser(t, "admin@example.com", domain.RoleAdmin)
	userToken := env.seedUser(t, "user@example.com", domain.RoleUser)

	resp, _ := env.do(t, http.MethodGet, "/api/users", userToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("user before promotion expected 401, got %d", resp.StatusCode)
	}

	resp, data := env.do(t, http.MethodPatch, "/api/users/id-user@example.com/role", adminToken, map[string]string{"role": "admin"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("promote expected 200, got %d: %s", resp.StatusCode, data)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/users", userToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("promoted user expected 200, got %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPatch, "/api/users/id-user@example.com/role", adminToken, map[string]string{"role": "superuser"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown role expected 400, got %d", resp.StatusCode)
	}
}

func TestStatusMutationIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 100)
	adminToken := env.seedUser(t, "admin@example.com", domain.RoleAdmin)
	env.seedUser(t, "user@example.com", domain.RoleUser)

	for i := 0; i < 2; i++ {
		resp, data := env.do(t, http.MethodPatch, "/api/users/id-user@example.com/status", adminToken, map[string]string{"status": "Blocked"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("apply %d expected 200, got %d: %s", i+1, resp.StatusCode, data)
		}
	}
	user, ok, err := env.store.GetUserByEmail("user@example.com")
	if err != nil || !ok {
		t.Fatalf("load user: ok=%v err=%v", ok, err)
	}
	if user.Status != domain.StatusBlocked {
		t.Fatalf("expected Blocked status, got %q", user.Status)
	}
}

func TestBannerExclusiveActivationOverHTTP(t *testing.T) {
	env := newTestEnv(t, 100)
	adminToken := env.seedUser(t, "admin@example.com", domain.RoleAdmin)

	var ids []string
	for i := 0; i < 2; i++ {
		resp, data := env.do(t, http.MethodPost, "/api/banners", adminToken, map[string]string{
			"title": fmt.Sprintf("Promo %d", i+1),
			"image": fmt.Sprintf("https://cdn.example.com/p%d.png", i+1),
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create banner expected 201, got %d: %s", resp.StatusCode, data)
		}
		var banner domain.Banner
		if err := json.Unmarshal(data, &banner); err != nil {
			t.Fatalf("decode banner: %v", err)
		}
		ids = append(ids, banner.ID)
	}

	for _, id := range ids {
		resp, _ := env.do(t, http.MethodPatch, "/api/banners/"+id, adminToken, map[string]bool{"isActive": true})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("activate %s expected 200, got %d", id, resp.StatusCode)
		}
	}

	resp, data := env.do(t, http.MethodGet, "/api/banners", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list banners expected 200, got %d", resp.StatusCode)
	}
	var banners []domain.Banner
	if err := json.Unmarshal(data, &banners); err != nil {
		t.Fatalf("decode banners: %v", err)
	}
	activeCount := 0
	for _, b := range banners {
		if b.IsActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly one active banner, got %d", activeCount)
	}

	resp, data = env.do(t, http.MethodGet, "/api/banners/active", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("active banner expected 200, got %d", resp.StatusCode)
	}
	var active domain.Banner
	if err := json.Unmarshal(data, &active); err != nil {
		t.Fatalf("decode active banner: %v", err)
	}
	if active.ID != ids[1] {
		t.Fatalf("expected last activated banner %s, got %s", ids[1], active.ID)
	}
}

func TestLocationEndpointIsPublic(t *testing.T) {
	env := newTestEnv(t, 100)
	env.store.SeedLocation(
		[]domain.District{{ID: "d1", Name: "Dhaka"}},
		[]domain.Upazilla{{ID: "u1", DistrictID: "d1", Name: "Savar"}},
	)

	resp, data := env.do(t, http.MethodGet, "/api/location", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("location expected 200, got %d", resp.StatusCode)
	}
	var loc struct {
		Districts []domain.District `json:"districts"`
		Upazillas []domain.Upazilla `json:"upazillas"`
	}
	if err := json.Unmarshal(data, &loc); err != nil {
		t.Fatalf("decode location: %v", err)
	}
	if len(loc.Districts) != 1 || len(loc.Upazillas) != 1 {
		t.Fatalf("unexpected location payload: %+v", loc)
	}
}

func TestSlotsPatchRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, 100)
	adminToken := env.seedUser(t, "admin@example.com", domain.RoleAdmin)
	userToken := env.seedUser(t, "user@example.com", domain.RoleUser)

	resp, data := env.do(t, http.MethodPost, "/api/listings", adminToken, map[string]any{
		"title": "MRI", "price": 120.0, "date": "2026-10-01", "slots": 2,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create listing expected 201, got %d: %s", resp.StatusCode, data)
	}
	var listing domain.Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}

	resp, _ = env.do(t, http.MethodPatch, "/api/listings/"+listing.ID+"/slots", userToken, map[string]int{"slots": 9})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("non-admin slots patch expected 401, got %d", resp.StatusCode)
	}

	resp, data = env.do(t, http.MethodPatch, "/api/listings/"+listing.ID+"/slots", adminToken, map[string]int{"slots": 9})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("slots patch expected 200, got %d: %s", resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.Slots != 9 {
		t.Fatalf("expected 9 slots, got %d", listing.Slots)
	}

	resp, _ = env.do(t, http.MethodPatch, "/api/listings/"+listing.ID+"/slots", adminToken, map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing slots field expected 400, got %d", resp.StatusCode)
	}
}

func TestReportUploadAndDownloadRoundTrip(t *testing.T) {
	env := newTestEnv(t, 100)
	adminToken := env.seedUser(t, "admin@example.com", domain.RoleAdmin)
	aliceToken := env.seedUser(t, "alice@example.com", domain.RoleUser)
	bobToken := env.seedUser(t, "bob@example.com", domain.RoleUser)

	resp, data := env.do(t, http.MethodPost, "/api/listings", adminToken, map[string]any{
		"title": "CBC", "price": 25.0, "date": "2026-09-15", "slots": 1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create listing expected 201, got %d: %s", resp.StatusCode, data)
	}
	var listing domain.Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	resp, data = env.do(t, http.MethodPost, "/api/appointments", aliceToken, map[string]string{"listingId": listing.ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("booking expected 201, got %d: %s", resp.StatusCode, data)
	}
	var appt domain.Appointment
	if err := json.Unmarshal(data, &appt); err != nil {
		t.Fatalf("decode appointment: %v", err)
	}

	// No report yet.
	resp, _ = env.do(t, http.MethodGet, "/api/appointments/"+appt.ID+"/report", aliceToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("report before upload expected 404, got %d", resp.StatusCode)
	}

	// Only an admin may attach the report file.
	resp, _ = env.upload(t, "/api/appointments/"+appt.ID+"/report", aliceToken, "cbc.pdf", "report-bytes")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("non-admin upload expected 401, got %d", resp.StatusCode)
	}
	resp, data = env.upload(t, "/api/appointments/"+appt.ID+"/report", adminToken, "cbc.pdf", "report-bytes")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin upload expected 200, got %d: %s", resp.StatusCode, data)
	}
	stored, ok, err := env.store.GetAppointment(appt.ID)
	if err != nil || !ok {
		t.Fatalf("load appointment: ok=%v err=%v", ok, err)
	}
	if string(env.objects.objects[stored.ReportKey]) != "report-bytes" {
		t.Fatalf("object not stored under %q", stored.ReportKey)
	}

	// The owner gets a download URL; other users do not.
	resp, data = env.do(t, http.MethodGet, "/api/appointments/"+appt.ID+"/report", aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner report fetch expected 200, got %d: %s", resp.StatusCode, data)
	}
	var urlResp map[string]string
	if err := json.Unmarshal(data, &urlResp); err != nil {
		t.Fatalf("decode report response: %v", err)
	}
	if !strings.Contains(urlResp["url"], stored.ReportKey) {
		t.Fatalf("url does not reference the stored report: %q", urlResp["url"])
	}
	resp, _ = env.do(t, http.MethodGet, "/api/appointments/"+appt.ID+"/report", bobToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("foreign report fetch expected 401, got %d", resp.StatusCode)
	}
}

func TestErrorBodyCarriesMessageField(t *testing.T) {
	env := newTestEnv(t, 100)

	resp, data := env.do(t, http.MethodGet, "/api/users", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["message"] == "" {
		t.Fatalf("expected message field in error body, got %s", data)
	}
}
