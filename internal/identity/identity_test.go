package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var secret = []byte("test-secret")

func echoPrincipal(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("X-Seen-User", p.UserID.String())
		w.Header().Set("X-Seen-Role", string(p.Role))
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestParseRole(t *testing.T) {
	for raw, want := range map[string]Role{"doctor": RoleProvider, "Provider": RoleProvider, "patient": RoleRequester, "requester": RoleRequester} {
		got, err := ParseRole(raw)
		if err != nil || got != want {
			t.Fatalf("ParseRole(%q) = %s, %v", raw, got, err)
		}
	}
	if _, err := ParseRole("admin"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestToken_RoundTrip(t *testing.T) {
	p := Principal{UserID: uuid.New(), Role: RoleProvider}
	tok, err := IssueToken(p, secret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	got, err := ParseToken(tok, secret)
	if err != nil || got != p {
		t.Fatalf("ParseToken = %+v, %v", got, err)
	}

	if _, err := ParseToken(tok, []byte("other")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}

	expired, _ := IssueToken(p, secret, -time.Minute)
	if _, err := ParseToken(expired, secret); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()}, UserRole: "provider"}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken(tok, secret); err == nil {
		t.Fatal("HS512 token should be rejected")
	}
}

func TestMiddleware_Bearer(t *testing.T) {
	h := Middleware(Config{JWTSecret: secret})(echoPrincipal(t))
	p := Principal{UserID: uuid.New(), Role: RoleRequester}
	tok, _ := IssueToken(p, secret, time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := serve(h, req)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Seen-User") != p.UserID.String() {
		t.Fatalf("expected principal, got %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	if rec := serve(h, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}

	// headers are ignored once tokens are enabled
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, p.UserID.String())
	req.Header.Set(HeaderUserRole, "provider")
	if rec := serve(h, req); rec.Code != http.StatusNoContent {
		t.Fatalf("expected anonymous request, got %d", rec.Code)
	}
}

func TestMiddleware_TrustedHeaders(t *testing.T) {
	h := Middleware(Config{})(echoPrincipal(t))
	id := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, id.String())
	req.Header.Set(HeaderUserRole, "doctor")
	rec := serve(h, req)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Seen-Role") != string(RoleProvider) {
		t.Fatalf("expected provider principal, got %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "not-a-uuid")
	if rec := serve(h, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed user id, got %d", rec.Code)
	}
}

func TestRequire(t *testing.T) {
	h := Middleware(Config{})(Require(RoleProvider)(echoPrincipal(t)))

	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without principal, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, uuid.NewString())
	req.Header.Set(HeaderUserRole, "patient")
	if rec := serve(h, req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for requester, got %d", rec.Code)
	}
}
