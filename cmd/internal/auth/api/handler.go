package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"latch/cmd/identity"
	"latch/cmd/internal/auth"
	"latch/cmd/internal/auth/session"
)

// Handler wires HTTP auth endpoints to the Authenticator.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	auth     *auth.Authenticator
	throttle *loginThrottle
	now      func() time.Time
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, a *auth.Authenticator, cfg Config) (*Handler, error) {
	if a == nil {
		return nil, errors.New("authapi: nil authenticator")
	}
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.CookieName) == "" {
		return nil, errors.New("authapi: empty cookie name")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	return &Handler{
		log:      log,
		cfg:      cfg,
		auth:     a,
		throttle: newLoginThrottle(cfg),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register wires auth routes onto r.
func (h *Handler) Register(r chi.Router) {
	if h == nil || r == nil {
		return
	}
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.Identify, RequireAuth)
		r.Post("/auth/password", h.handlePasswordChange)
		r.Delete("/auth/account", h.handleAccountDelete)
		r.Get("/me", h.handleMe)
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	acc, err := h.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(w, "auth.register", err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{Account: toAccountResponse(acc)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	user := identity.NormalizeUsername(req.Username)

	if blocked, retryAfter := h.throttle.check(now, ip, user); blocked {
		h.log.Warn("auth.login.throttled", slog.Duration("retry_after", retryAfter))
		writeRateLimited(w, retryAfter)
		return
	}

	res, ok, err := h.auth.Login(r.Context(), auth.LoginInput{
		Username:  req.Username,
		Password:  req.Password,
		Remember:  req.RememberMe,
		UserAgent: r.UserAgent(),
		IP:        ip,
	})
	if err != nil {
		h.writeServiceError(w, "auth.login", err)
		return
	}
	if !ok {
		h.throttle.fail(now, ip, user)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	h.throttle.succeed(user)

	h.setSessionCookie(w, res.Session)
	writeJSON(w, http.StatusOK, loginResponse{
		Account: toAccountResponse(res.Account),
		Session: toSessionResponse(res.Session),
	})
}

// handleLogout is idempotent: a missing, unknown, or already-ended session
// still clears the cookie and answers 204.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), h.sessionToken(r)); err != nil {
		h.writeServiceError(w, "auth.logout", err)
		return
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	accountID, _ := IdentityFrom(r.Context()).AccountID()

	var req passwordChangeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	issued, ok, err := h.auth.ChangePassword(r.Context(), accountID, req.CurrentPassword, req.NewPassword, session.BeginOptions{
		Remember:  req.RememberMe,
		UserAgent: r.UserAgent(),
		IP:        clientIP(r, h.cfg.TrustProxy),
	})
	if err != nil {
		h.writeServiceError(w, "auth.password", err)
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	h.setSessionCookie(w, issued)
	writeJSON(w, http.StatusOK, passwordChangeResponse{Session: toSessionResponse(issued)})
}

func (h *Handler) handleAccountDelete(w http.ResponseWriter, r *http.Request) {
	accountID, _ := IdentityFrom(r.Context()).AccountID()

	if err := h.auth.DeleteAccount(r.Context(), accountID); err != nil && !identity.IsNotFound(err) {
		h.writeServiceError(w, "auth.account.delete", err)
		return
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id := IdentityFrom(r.Context())
	accountID, _ := id.AccountID()

	acc, err := h.auth.Account(r.Context(), accountID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		h.writeServiceError(w, "auth.me", err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{Identity: id.Kind().String(), Account: toAccountResponse(acc)})
}

// writeServiceError maps service errors onto stable API codes. Storage
// failures get a generic 503 with no driver detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case identity.IsStoreUnavailable(err):
		h.log.Error(op+".unavailable", slog.Any("err", err))
		writeError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
	case identity.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", "username already exists")
	case identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
	case identity.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	default:
		h.log.Error(op+".fail", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
