// Package server implements the Broker HTTP Surface (§4.5) and SSE Fan-out
// (§4.6): the edge of the broker, routed with gorilla/mux in the style of
// ruaan-deysel-unraid-management-agent's daemon/services/api package.
package server

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/viant/mcp-broker/adapter"
	"github.com/viant/mcp-broker/broker"
)

const (
	authHeaderName = "x-mcp-remote-auth"
)

// originMiddleware implements §4.5 policy item 1. When allowedOrigins is
// empty, every request passes through (no origin enforcement configured).
func originMiddleware(allowedOrigins []string, logger adapter.Logger) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				// same-origin / non-browser request: no Origin header to check.
				next.ServeHTTP(w, r)
				return
			}

			_, ok := allowed[origin]
			if r.Method == http.MethodOptions {
				if !ok {
					writeJSONError(w, broker.NewOriginError("Invalid origin: "+origin))
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+authHeaderName)
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusOK)
				return
			}
			if !ok {
				writeJSONError(w, broker.NewOriginError("Invalid origin: "+origin))
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			next.ServeHTTP(w, r)
		})
	}
}

// authMiddleware implements §4.5 policy item 2. When omitAuth is true,
// bearer checks are skipped entirely but origin validation (applied by
// originMiddleware, earlier in the chain) still runs - the "dangerous"
// override only ever disables auth, never origin, per §9.
func authMiddleware(token string, omitAuth bool) func(http.Handler) http.Handler {
	tokenBytes := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if omitAuth {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get(authHeaderName)
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				writeJSONError(w, broker.NewAuthError("missing or malformed "+authHeaderName+" header"))
				return
			}
			presented := []byte(strings.TrimPrefix(header, prefix))
			if !constantTimeEqual(presented, tokenBytes) {
				writeJSONError(w, broker.NewAuthError("invalid bearer token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// constantTimeEqual branches solely on the comparison of equal-length byte
// buffers, per §8 invariant 5 and §9's "use a platform primitive" note.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// recoveryMiddleware guards the propagation boundary against genuine
// panics (§7: "no exception propagates past the handler boundary"),
// grounded on ruaan-deysel-unraid-management-agent's recoveryMiddleware.
func recoveryMiddleware(logger adapter.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if logger != nil {
						logger.Errorf("panic recovered: %v\n%s", rec, debug.Stack())
					}
					writeJSONError(w, broker.NewInternalError("internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
