package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"openlot.org/internal/auth"
	"openlot.org/internal/bidding"
)

func newAuthTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("OPENLOT_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	return New(ReadyProbe{}, "test", bidding.NewInMemory(), nil)
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc.def.ghi", "abc.def.ghi", true},
		{"  Bearer   spaced  ", "spaced", true},
		{"", "", false},
		{"Bearer ", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"abc.def.ghi", "", false},
	}
	for _, tc := range cases {
		token, err := extractBearerToken(tc.header)
		if tc.ok && (err != nil || token != tc.token) {
			t.Errorf("extractBearerToken(%q) = %q, %v", tc.header, token, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("extractBearerToken(%q): expected error", tc.header)
		}
	}
}

func TestWithAuthInjectsPrincipal(t *testing.T) {
	api := newAuthTestAPI(t)

	token, err := auth.GenerateToken("alice", []string{"admin"}, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	var seen auth.Principal
	handler := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			t.Error("principal missing from context")
		}
		seen = p
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/auctions/lot-1/bids", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if seen.UserID != "alice" || !seen.IsAdmin() {
		t.Fatalf("principal: %+v", seen)
	}
}

func TestWithAuthRejectsMissingToken(t *testing.T) {
	api := newAuthTestAPI(t)
	handler := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/auctions/lot-1/bids", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestWithAuthRejectsTamperedToken(t *testing.T) {
	api := newAuthTestAPI(t)

	token, err := auth.GenerateToken("alice", nil, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	handler := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/auctions/lot-1/bids", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestWithAuthAllowsPublicPaths(t *testing.T) {
	api := newAuthTestAPI(t)

	handler := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range publicPaths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("public path %s: got %d", path, rr.Code)
		}
	}

	// CORS preflight passes through regardless of path.
	req := httptest.NewRequest(http.MethodOptions, "/v1/auctions/lot-1/bids", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("preflight: got %d", rr.Code)
	}
}
