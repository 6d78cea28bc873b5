package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"studiobook/internal/auth"
	"studiobook/internal/config"
	"studiobook/internal/database"
	"studiobook/internal/models"
	"studiobook/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type testEnv struct {
	server   *HTTPServer
	ts       *httptest.Server
	db       *database.DB
	verifier *auth.Verifier
}

func newTestEnv(t *testing.T, cfg config.APIConfig) *testEnv {
	t.Helper()

	db, err := database.NewDB(":memory:", nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc := service.NewBookingService(service.Deps{Store: db}, service.Options{}, nil)
	verifier := auth.NewVerifier(config.AuthConfig{JWTSecret: "test-secret", AdminIDs: []string{"admin-1"}})

	server := NewHTTPServer(cfg, svc, verifier, db, nil)
	server.now = func() time.Time { return time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC) }

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: server, ts: ts, db: db, verifier: verifier}
}

func (e *testEnv) token(t *testing.T, userID, name string) string {
	t.Helper()
	token, err := e.verifier.Issue(models.Identity{UserID: userID, DisplayName: name, Email: userID + "@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode body: %v", err)
		}
	}
	return resp, decoded
}

func bookingBody(date, clock, zone string, hours float64) map[string]any {
	return map[string]any{
		"bookingData": map[string]any{
			"date":          date,
			"time":          clock,
			"duration":      hours,
			"userTimeZone":  zone,
			"equipment":     []map[string]any{{"name": "CDJ-3000", "price": 150000}},
			"total":         150000,
			"paymentMethod": "cash",
		},
		"userName": "Rina",
	}
}

func TestConfirmBookingCreateAndEdit(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	token := env.token(t, "u1", "Rina")

	resp, body := env.do(t, http.MethodPost, "/api/confirm-booking", token, bookingBody("2025-07-01", "14:00", "Asia/Jakarta", 2))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%v", resp.StatusCode, body)
	}
	assert.Equal(t, "confirmed", body["status"])
	assert.Equal(t, "Booking and calendar event confirmed successfully!", body["message"])
	assert.Equal(t, false, body["calendarSynced"])
	bookingID, _ := body["bookingId"].(string)
	require.NotEmpty(t, bookingID)

	edit := bookingBody("2025-07-01", "15:00", "Asia/Jakarta", 2)
	edit["editingBookingId"] = bookingID
	resp, body = env.do(t, http.MethodPost, "/api/confirm-booking", token, edit)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status on edit: %d body=%v", resp.StatusCode, body)
	}
	assert.Equal(t, bookingID, body["bookingId"])
	assert.Equal(t, "Booking and calendar event updated successfully!", body["message"])

	stored, err := env.db.GetBooking(context.Background(), bookingID)
	require.NoError(t, err)
	assert.Equal(t, "15:00", stored.Time)
	assert.Equal(t, "u1", stored.UserID)
}

func TestConfirmBookingConflict(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	resp, body := env.do(t, http.MethodPost, "/api/confirm-booking", env.token(t, "u1", "Rina"),
		bookingBody("2025-06-30", "12:00", "Asia/Makassar", 2))
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body=%v", body)

	// 05:59Z..06:59Z overlaps 04:00Z..06:00Z
	resp, body = env.do(t, http.MethodPost, "/api/confirm-booking", env.token(t, "u2", "Budi"),
		bookingBody("2025-06-30", "05:59", "UTC", 1))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%v", resp.StatusCode, body)
	}
	slots, ok := body["conflictingSlots"].([]any)
	require.True(t, ok, "conflictingSlots missing: %v", body)
	require.Len(t, slots, 1)
	slot := slots[0].(map[string]any)
	assert.Equal(t, "12:00", slot["time"])
	assert.Equal(t, "Asia/Makassar", slot["userTimeZone"])
	assert.NotContains(t, slot, "userEmail")
	assert.NotContains(t, slot, "total")

	// touching interval is accepted
	resp, body = env.do(t, http.MethodPost, "/api/confirm-booking", env.token(t, "u2", "Budi"),
		bookingBody("2025-06-30", "06:00", "UTC", 1))
	assert.Equal(t, http.StatusCreated, resp.StatusCode, "body=%v", body)
}

func TestConfirmBookingValidation(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	token := env.token(t, "u1", "Rina")

	tests := []struct {
		name string
		body any
	}{
		{name: "missing booking data", body: map[string]any{"userName": "Rina"}},
		{name: "unknown zone", body: bookingBody("2025-07-01", "10:00", "Mars/Olympus", 1)},
		{name: "zero duration", body: bookingBody("2025-07-01", "10:00", "UTC", 0)},
		{name: "bad date", body: bookingBody("01/07/2025", "10:00", "UTC", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/confirm-booking", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body=%v", body)
			assert.NotEmpty(t, body["error"])
		})
	}

	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/api/confirm-booking", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	resp, body := env.do(t, http.MethodPost, "/api/confirm-booking", "", bookingBody("2025-07-01", "10:00", "UTC", 1))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Authentication required. Please sign in.", body["error"])

	resp, _ = env.do(t, http.MethodGet, "/api/my-bookings", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired, err := env.verifier.Issue(models.Identity{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	resp, _ = env.do(t, http.MethodGet, "/api/my-bookings", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	for _, path := range []string{"/api/status", "/healthz", "/readyz", "/api/booked-slots?date=2025-07-01"} {
		resp, _ := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestRoutingBeforeAuth(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	resp, _ := env.do(t, http.MethodGet, "/api/no-such-route", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/confirm-booking", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, "/api/cancel-booking", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/cancel-booking", "", map[string]string{"bookingId": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBookedSlots(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	token := env.token(t, "u1", "Rina")

	resp, body := env.do(t, http.MethodPost, "/api/confirm-booking", token, bookingBody("2025-07-01", "14:00", "Asia/Jakarta", 1.5))
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body=%v", body)

	resp, body = env.do(t, http.MethodGet, "/api/booked-slots?date=2025-07-01", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	slots := body["slots"].([]any)
	require.Len(t, slots, 1)
	slot := slots[0].(map[string]any)
	assert.Equal(t, "Rina", slot["userName"])
	assert.Equal(t, 1.5, slot["durationHours"])
	assert.Len(t, slot, 6)

	resp, body = env.do(t, http.MethodGet, "/api/booked-slots?date=2025-07-02", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["slots"])

	resp, _ = env.do(t, http.MethodGet, "/api/booked-slots", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/booked-slots?date=tomorrow", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelBooking(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	owner := env.token(t, "u1", "Rina")

	_, body := env.do(t, http.MethodPost, "/api/confirm-booking", owner, bookingBody("2025-07-01", "14:00", "Asia/Jakarta", 2))
	bookingID := body["bookingId"].(string)

	resp, body := env.do(t, http.MethodPost, "/api/cancel-booking", env.token(t, "u2", "Budi"), map[string]string{"bookingId": bookingID})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "body=%v", body)

	resp, body = env.do(t, http.MethodPost, "/api/cancel-booking", env.token(t, "admin-1", "Admin"), map[string]string{"bookingId": bookingID})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "body=%v", body)

	resp, body = env.do(t, http.MethodPost, "/api/cancel-booking", owner, map[string]string{"bookingId": bookingID})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%v", body)
	assert.Equal(t, "cancelled", body["status"])
	assert.Equal(t, false, body["alreadyCancelled"])

	resp, body = env.do(t, http.MethodDelete, "/api/cancel-booking?bookingId="+bookingID, owner, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%v", body)
	assert.Equal(t, true, body["alreadyCancelled"])

	resp, body = env.do(t, http.MethodPost, "/api/cancel-booking", owner, map[string]string{"bookingId": "missing"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["alreadyCancelled"])

	resp, _ = env.do(t, http.MethodPost, "/api/cancel-booking", owner, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// the cancelled slot is free again
	resp, body = env.do(t, http.MethodPost, "/api/confirm-booking", env.token(t, "u2", "Budi"), bookingBody("2025-07-01", "14:00", "Asia/Jakarta", 2))
	assert.Equal(t, http.StatusCreated, resp.StatusCode, "body=%v", body)
}

func TestConfirmPayment(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	owner := env.token(t, "u1", "Rina")

	_, body := env.do(t, http.MethodPost, "/api/confirm-booking", owner, bookingBody("2025-07-01", "14:00", "Asia/Jakarta", 2))
	bookingID := body["bookingId"].(string)

	resp, body := env.do(t, http.MethodPost, "/api/confirm-payment", env.token(t, "admin-1", "Admin"), map[string]string{"bookingId": bookingID})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%v", body)
	assert.Equal(t, "paid", body["status"])
	assert.Equal(t, false, body["alreadyPaid"])
	assert.NotEmpty(t, body["paidAt"])

	resp, body = env.do(t, http.MethodPost, "/api/confirm-payment", owner, map[string]string{"bookingId": bookingID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["alreadyPaid"])

	resp, _ = env.do(t, http.MethodPost, "/api/confirm-payment", owner, map[string]string{"bookingId": "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/cancel-booking", owner, map[string]string{"bookingId": bookingID})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = env.do(t, http.MethodPost, "/api/confirm-booking", owner, bookingBody("2025-07-02", "10:00", "UTC", 1))
	other := body["bookingId"].(string)
	_, _ = env.do(t, http.MethodPost, "/api/cancel-booking", owner, map[string]string{"bookingId": other})
	resp, _ = env.do(t, http.MethodPost, "/api/confirm-payment", owner, map[string]string{"bookingId": other})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMyBookingsAndProfile(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	token := env.token(t, "u1", "Rina")

	resp, body := env.do(t, http.MethodGet, "/api/my-bookings", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["bookings"])

	resp, body = env.do(t, http.MethodPost, "/api/update-profile", token, map[string]string{"displayName": "DJ Rina"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%v", body)
	assert.Equal(t, "Profile updated successfully!", body["message"])

	resp, _ = env.do(t, http.MethodPost, "/api/update-profile", token, map[string]string{"displayName": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	withoutName := bookingBody("2025-07-03", "09:00", "UTC", 1)
	delete(withoutName, "userName")
	_, body = env.do(t, http.MethodPost, "/api/confirm-booking", token, withoutName)
	bookingID := body["bookingId"].(string)

	resp, body = env.do(t, http.MethodGet, "/api/my-bookings", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bookings := body["bookings"].([]any)
	require.Len(t, bookings, 1)
	assert.Equal(t, "DJ Rina", bookings[0].(map[string]any)["userName"])

	resp, body = env.do(t, http.MethodGet, "/api/bookings/"+bookingID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, bookingID, body["id"])

	resp, _ = env.do(t, http.MethodGet, "/api/bookings/"+bookingID, env.token(t, "u2", "Budi"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminExport(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	owner := env.token(t, "u1", "Rina")
	admin := env.token(t, "admin-1", "Admin")

	_, body := env.do(t, http.MethodPost, "/api/confirm-booking", owner, bookingBody("2025-07-01", "14:00", "Asia/Jakarta", 2))
	require.NotEmpty(t, body["bookingId"])

	resp, _ := env.do(t, http.MethodGet, "/api/admin/export", owner, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/admin/export?from=2025-07-10&to=2025-07-01", admin, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/admin/export", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "bookings_2025-06-20_to_2025-07-20.xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetList()[0])
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Rina", rows[2][6])
}

func TestExportRangeDefaults(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	tests := []struct {
		query    string
		from, to string
	}{
		{query: "", from: "2025-06-20", to: "2025-07-20"},
		{query: "from=2025-01-01", from: "2025-01-01", to: "2025-01-31"},
		{query: "to=2025-01-31", from: "2025-01-01", to: "2025-01-31"},
		{query: "from=2025-01-01&to=2025-01-02", from: "2025-01-01", to: "2025-01-02"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/admin/export?"+tt.query, nil)
		from, to := env.server.exportRange(r)
		assert.Equal(t, tt.from, from, tt.query)
		assert.Equal(t, tt.to, to, tt.query)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 2}})

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodGet, "/api/status", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := env.do(t, http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate limit exceeded", body["error"])

	// authenticated callers get their own bucket
	resp, _ = env.do(t, http.MethodGet, "/api/my-bookings", env.token(t, "u1", "Rina"), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSAndRequestID(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{CORSOrigins: []string{"https://studio.example/"}})

	req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+"/api/confirm-booking", nil)
	req.Header.Set("Origin", "https://studio.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://studio.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	req, _ = http.NewRequest(http.MethodGet, env.ts.URL+"/api/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set(requestIDHeader, "req-42")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "req-42", resp2.Header.Get(requestIDHeader))
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("db down") }

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.server.health = failingPinger{}

	resp, body := env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unavailable", body["status"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("wrap: %w", service.ErrValidation), want: http.StatusBadRequest},
		{err: &service.ConflictError{}, want: http.StatusConflict},
		{err: service.ErrBookingCancelled, want: http.StatusConflict},
		{err: auth.ErrInvalidToken, want: http.StatusUnauthorized},
		{err: service.ErrForbidden, want: http.StatusForbidden},
		{err: service.ErrNotFound, want: http.StatusNotFound},
		{err: service.ErrBusy, want: http.StatusServiceUnavailable},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "/api/status", endpointLabel("/api/status"))
	assert.Equal(t, "/api/bookings/{id}", endpointLabel("/api/bookings/abc"))
	assert.Equal(t, "other", endpointLabel("/wp-login.php"))
}
