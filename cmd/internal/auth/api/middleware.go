package authapi

import (
	"log/slog"
	"net/http"
)

// Identify resolves the session cookie once per request and stores the result
// in the request context. A storage failure ends the request with 503; it is
// never downgraded to an anonymous identity.
func (h *Handler) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.auth.Current(r.Context(), h.sessionToken(r))
		if err != nil {
			h.log.Error("auth.identify.fail", slog.Any("err", err))
			writeError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireAuth rejects requests whose identity is not Authenticated.
// It must run after Identify.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IdentityFrom(r.Context()).IsAuthenticated() {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
