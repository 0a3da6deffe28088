package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionID  = "4b8c3f5e-1f7a-4c8e-9a51-2f1f0d7c6b11"
	otherSessionID = "0d6f2a1c-8e3b-4f59-b7d2-6a9c1e4f3b20"
)

func newSessionRouter(auth *SessionAuth) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.With(auth.Middleware).Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetSessionID(r.Context())))
	})
	return r
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body.Error.RequestID == "" {
		t.Errorf("expected request id in error body")
	}
	return body.Error.Code
}

func TestSessionAuth_RoundTrip(t *testing.T) {
	auth := NewSessionAuth("secret", time.Hour)
	token, err := auth.GenerateSessionToken(testSessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := auth.ParseSessionToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != testSessionID {
		t.Errorf("expected %s, got %s", testSessionID, got)
	}

	if _, err := NewSessionAuth("other", time.Hour).ParseSessionToken(token); err == nil {
		t.Errorf("expected token signed with another secret to be rejected")
	}
}

func TestSessionAuth_Middleware(t *testing.T) {
	auth := NewSessionAuth("secret", time.Hour)
	router := newSessionRouter(auth)

	valid, _ := auth.GenerateSessionToken(testSessionID)
	expired, _ := NewSessionAuth("secret", -time.Minute).GenerateSessionToken(testSessionID)

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"missing header", "/sessions/" + testSessionID, "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "/sessions/" + testSessionID, "Token " + valid, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"garbage token", "/sessions/" + testSessionID, "Bearer nope", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"expired", "/sessions/" + testSessionID, "Bearer " + expired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"other session", "/sessions/" + otherSessionID, "Bearer " + valid, http.StatusForbidden, "FORBIDDEN"},
		{"ok", "/sessions/" + testSessionID, "Bearer " + valid, http.StatusOK, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			if tc.wantCode != "" {
				if code := errorCode(t, rec); code != tc.wantCode {
					t.Errorf("expected code %s, got %s", tc.wantCode, code)
				}
				return
			}
			if rec.Body.String() != testSessionID {
				t.Errorf("expected session id in context, got %q", rec.Body.String())
			}
		})
	}
}

func TestSessionAuth_RejectsNonUUIDClaim(t *testing.T) {
	auth := NewSessionAuth("secret", time.Hour)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"session_id": "not-a-uuid",
		"exp":        time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(auth.Secret)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if _, err := auth.ParseSessionToken(signed); err != ErrInvalidSessionToken {
		t.Errorf("expected ErrInvalidSessionToken, got %v", err)
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Stop()

	handler := RequestID(rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/x/messages", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/x/messages", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Errorf("expected Retry-After header")
	}
	if code := errorCode(t, rec); code != "RATE_LIMITED" {
		t.Errorf("expected RATE_LIMITED, got %s", code)
	}

	// Another client is unaffected.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/sessions/x/messages", nil)
	req.RemoteAddr = "10.0.0.2:12345"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for another client, got %d", rec.Code)
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	now := time.Now()
	if ok, _ := rl.allow("k", now); !ok {
		t.Fatal("first request must pass")
	}
	if ok, wait := rl.allow("k", now.Add(time.Second)); ok || wait <= 0 {
		t.Fatalf("second request must be limited with a wait, got ok=%v wait=%v", ok, wait)
	}
	if ok, _ := rl.allow("k", now.Add(2*time.Minute)); !ok {
		t.Fatal("request in a new window must pass")
	}
}

func TestRequestID_KeepsIncomingID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc" {
		t.Errorf("expected incoming id, got %q", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Errorf("expected generated id")
	}
}

func TestCORS_Origins(t *testing.T) {
	opts := CORS("https://doulia.ai, https://www.doulia.ai")
	if len(opts.AllowedOrigins) != 2 || !opts.AllowCredentials {
		t.Errorf("unexpected options %+v", opts)
	}
	if opts := CORS("*"); opts.AllowCredentials {
		t.Errorf("wildcard origin must disable credentials")
	}
	if opts := CORS(""); len(opts.AllowedOrigins) != 1 {
		t.Errorf("expected default origin, got %v", opts.AllowedOrigins)
	}
}
