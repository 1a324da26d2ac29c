package identity

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type Config struct {
	// JWTSecret enables bearer tokens. Without it the trusted headers are read
	// instead, which is only acceptable behind a gateway in development.
	JWTSecret []byte
}

// Middleware attaches the caller's Principal when credentials are present.
// Bad credentials are rejected; missing ones are left to Require.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, found, err := resolve(r, cfg)
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}
			if found {
				r = r.WithContext(WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require rejects requests without a principal, or with a role outside roles.
func Require(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				writeUnauthorized(w, "authentication required")
				return
			}
			if len(roles) > 0 && !hasRole(p, roles) {
				writeJSON(w, http.StatusForbidden, "not_permitted", "role "+string(p.Role)+" may not do this")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func resolve(r *http.Request, cfg Config) (Principal, bool, error) {
	if len(cfg.JWTSecret) > 0 {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			return Principal{}, false, nil
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return Principal{}, false, ErrInvalidToken
		}
		p, err := ParseToken(strings.TrimSpace(parts[1]), cfg.JWTSecret)
		if err != nil {
			return Principal{}, false, err
		}
		return p, true, nil
	}

	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		return Principal{}, false, nil
	}
	p, err := principalFrom(userID, r.Header.Get(HeaderUserRole))
	if err != nil {
		return Principal{}, false, err
	}
	return p, true, nil
}

func hasRole(p Principal, roles []Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

func writeUnauthorized(w http.ResponseWriter, details string) {
	writeJSON(w, http.StatusUnauthorized, "unauthorized", details)
}

func writeJSON(w http.ResponseWriter, status int, code, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "details": details})
}
