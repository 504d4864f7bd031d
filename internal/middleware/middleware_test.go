package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
)

func TestParseToken(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	userID := uuid.New()

	valid, err := auth.GenerateAccessToken(userID, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	expired, err := auth.GenerateAccessToken(userID, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := NewJWTAuth("other-secret").GenerateAccessToken(userID, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString(auth.Secret)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"valid", valid, nil},
		{"expired", expired, ErrTokenExpired},
		{"wrong secret", foreign, ErrInvalidToken},
		{"missing user", noUser, ErrInvalidToken},
		{"garbage", "not-a-token", ErrInvalidToken},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := auth.ParseToken(tc.token)
			if err != tc.wantErr {
				t.Fatalf("Expected error %v, got %v", tc.wantErr, err)
			}
			if tc.wantErr == nil && got != userID {
				t.Errorf("Expected user %s, got %s", userID, got)
			}
		})
	}
}

func TestMiddleware_AttachesUser(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	userID := uuid.New()
	token, _ := auth.GenerateAccessToken(userID, time.Minute)

	var seen uuid.UUID
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != userID {
		t.Errorf("Expected user %s in context, got %s", userID, seen)
	}
}

func TestMiddleware_RejectsMissingHeader(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	h := RequestID(auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}
	var body struct {
		Error struct {
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != "UNAUTHORIZED" {
		t.Errorf("Expected UNAUTHORIZED, got %q", body.Error.Code)
	}
	if body.Error.RequestID == "" || body.Error.RequestID != rec.Header().Get(RequestIDHeader) {
		t.Errorf("Expected the generated request id in the body, got %q", body.Error.RequestID)
	}
}

func TestRequestID_KeepsClientValue(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("Expected abc-123, got %q", got)
	}
}

func TestCORS(t *testing.T) {
	h := CORS("http://localhost:5173/")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	preflight := httptest.NewRequest(http.MethodOptions, "/api/v1/notifications", nil)
	preflight.Header.Set("Origin", "http://localhost:5173")
	preflight.Header.Set("Access-Control-Request-Method", "PUT")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, preflight)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Expected allowed origin, got %q", got)
	}

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS header for other origins, got %q", got)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected request to reach the handler, got %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(clk, 2, time.Minute)
	defer rl.Stop()

	for i, want := range []bool{true, true, false} {
		if got := rl.Allow("10.0.0.1"); got != want {
			t.Errorf("request %d: Expected %v, got %v", i+1, want, got)
		}
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("Expected other clients to be unaffected")
	}

	clk.Advance(2 * time.Minute)
	if !rl.Allow("10.0.0.1") {
		t.Error("Expected the window to reset")
	}
}
