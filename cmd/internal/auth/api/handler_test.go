package authapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"latch/cmd/internal/auth"
	"latch/cmd/internal/auth/session"
	"latch/cmd/internal/credential"
	"latch/cmd/internal/store/memstore"
	"latch/cmd/security/password"
	"latch/cmd/security/token"
)

type fixture struct {
	t     *testing.T
	srv   http.Handler
	store *memstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memstore.New()

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	creds, err := credential.NewService(st, pw, credential.WithLogger(log))
	require.NoError(t, err)
	sessions, err := session.NewResolver(session.DefaultConfig(), st, token.Hasher{}, session.WithLogger(log))
	require.NoError(t, err)
	a, err := auth.New(st, creds, sessions, log)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.LockoutShortThreshold = 3
	h, err := NewHandler(log, a, cfg)
	require.NoError(t, err)

	r := chi.NewRouter()
	h.Register(r)

	return &fixture{t: t, srv: r, store: st}
}

func (f *fixture) do(method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	f.t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "198.51.100.4:5555"
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	f.srv.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) login(username, pw string, remember bool) *http.Cookie {
	f.t.Helper()

	rr := f.do(http.MethodPost, "/auth/login", map[string]any{
		"username": username, "password": pw, "remember_me": remember,
	})
	require.Equal(f.t, http.StatusOK, rr.Code, rr.Body.String())
	for _, c := range rr.Result().Cookies() {
		if c.Name == "latch_session" {
			return c
		}
	}
	f.t.Fatalf("login set no session cookie")
	return nil
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestRegisterLoginMeLogout(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/auth/register", map[string]string{"username": "alice", "password": "s3cret!"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var reg registerResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reg))
	require.NotEmpty(t, reg.Account.ID)

	cookie := f.login("alice", "s3cret!", false)
	require.Zero(t, cookie.MaxAge)

	rr = f.do(http.MethodGet, "/me", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var me meResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	require.Equal(t, reg.Account.ID, me.Account.ID)
	require.Equal(t, "authenticated", me.Identity)

	rr = f.do(http.MethodPost, "/auth/logout", nil, cookie)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(http.MethodGet, "/me", nil, cookie)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	// Logging out again is harmless.
	rr = f.do(http.MethodPost, "/auth/logout", nil, cookie)
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRegister_Errors(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/auth/register", map[string]string{"username": "bob", "password": "pw"})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = f.do(http.MethodPost, "/auth/register", map[string]string{"username": " Bob ", "password": "pw"})
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(http.MethodPost, "/auth/register", map[string]string{"username": "carol", "password": ""})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_request", errorCode(t, rr))

	rr = f.do(http.MethodPost, "/auth/register", map[string]any{"username": "carol", "password": "pw", "admin": true})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_json", errorCode(t, rr))
}

func TestLogin_FailuresAreUniformAndThrottled(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/auth/register", map[string]string{"username": "dave", "password": "right"})

	rr := f.do(http.MethodPost, "/auth/login", map[string]string{"username": "ghost", "password": "right"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	unknown := errorCode(t, rr)

	rr = f.do(http.MethodPost, "/auth/login", map[string]string{"username": "dave", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, unknown, errorCode(t, rr))

	f.do(http.MethodPost, "/auth/login", map[string]string{"username": "dave", "password": "wrong"})
	f.do(http.MethodPost, "/auth/login", map[string]string{"username": "dave", "password": "wrong"})

	rr = f.do(http.MethodPost, "/auth/login", map[string]string{"username": "DAVE", "password": "right"})
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestLogin_ControlBytesAreOrdinaryFailures(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/auth/register", map[string]string{"username": "erin", "password": "right"})

	rr := f.do(http.MethodPost, "/auth/login", map[string]string{"username": "erin\x00", "password": "right"})
	require.Equal(t, http.StatusUnauthorized, rr.Code, rr.Body.String())
	require.Equal(t, "invalid_credentials", errorCode(t, rr))

	body, err := json.Marshal(map[string]string{"username": "erin", "password": "right"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	req.RemoteAddr = "198.51.100.4:5555"
	req.Header.Set("User-Agent", "agent\xff/1.0")
	rr = httptest.NewRecorder()
	f.srv.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestLogin_RememberMeSetsPersistentCookie(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/auth/register", map[string]string{"username": "erin", "password": "pw"})

	cookie := f.login("erin", "pw", true)
	require.Positive(t, cookie.MaxAge)
}

func TestMe_AnonymousAndGarbageCookies(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(http.MethodGet, "/me", nil, &http.Cookie{Name: "latch_session", Value: "not a token"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestPasswordChange_RotatesSessions(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/auth/register", map[string]string{"username": "frank", "password": "old"})

	laptop := f.login("frank", "old", false)
	phone := f.login("frank", "old", false)

	rr := f.do(http.MethodPost, "/auth/password", map[string]string{"current_password": "nope", "new_password": "new"}, laptop)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(http.MethodPost, "/auth/password", map[string]string{"current_password": "old", "new_password": "new"}, laptop)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var fresh *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "latch_session" {
			fresh = c
		}
	}
	require.NotNil(t, fresh)

	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/me", nil, laptop).Code)
	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/me", nil, phone).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/me", nil, fresh).Code)
}

func TestAccountDelete(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/auth/register", map[string]string{"username": "gina", "password": "pw"})
	cookie := f.login("gina", "pw", false)

	rr := f.do(http.MethodDelete, "/auth/account", nil, cookie)
	require.Equal(t, http.StatusNoContent, rr.Code)

	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/me", nil, cookie).Code)
	rr = f.do(http.MethodPost, "/auth/login", map[string]string{"username": "gina", "password": "pw"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestStoreUnavailable_Is503NotAnonymous(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/auth/register", map[string]string{"username": "hank", "password": "pw"})
	cookie := f.login("hank", "pw", false)

	f.store.SetUnavailable(errors.New("connection refused"))

	rr := f.do(http.MethodGet, "/me", nil, cookie)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.NotContains(t, rr.Body.String(), "connection refused")

	rr = f.do(http.MethodPost, "/auth/login", map[string]string{"username": "hank", "password": "pw"})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestIdentityFrom_DefaultsToUnauthenticated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.False(t, IdentityFrom(req.Context()).IsAuthenticated())
	require.Equal(t, "unauthenticated", IdentityFrom(req.Context()).Kind().String())
}
