package httptransport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leihsldap/internal/directory"
	"leihsldap/internal/login"
	"leihsldap/internal/platform/metrics"
	"leihsldap/internal/registration"
	"leihsldap/internal/token"
)

// The tests in this file wire the real codec, orchestrator, registration
// client, and HTTP layer together; only the directory is faked.

type stubDirectory struct {
	password string
	identity directory.Identity
}

func (s *stubDirectory) Authenticate(_ context.Context, username, password string) (*directory.Identity, error) {
	if password != s.password {
		return nil, directory.ErrBindFailed
	}
	return &s.identity, nil
}

type loginFlow struct {
	router http.Handler
	codec  *token.Codec
	key    *ecdsa.PrivateKey
	leihs  *httptest.Server

	created  int
	attached int
}

func newLoginFlow(t *testing.T) *loginFlow {
	t.Helper()
	flow := &loginFlow{}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	flow.key = key
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	privatePEM := string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))

	flow.codec, err = token.NewCodec(privatePEM, "", 3*time.Minute)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users/", func(w http.ResponseWriter, r *http.Request) {
		flow.created++
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "user-1"})
	})
	mux.HandleFunc("PUT /admin/system/authentication-systems/ldap/users/user-1", func(w http.ResponseWriter, r *http.Request) {
		flow.attached++
		w.WriteHeader(http.StatusNoContent)
	})
	flow.leihs = httptest.NewServer(mux)
	t.Cleanup(flow.leihs.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := &stubDirectory{
		password: "hunter2",
		identity: directory.Identity{
			Email:      "jane@x.org",
			FamilyName: "Doe",
			GivenName:  "Jane",
		},
	}
	registrar := registration.NewTokenClient(flow.leihs.URL, "secret", "ldap", logger)
	orch := login.New(
		flow.codec,
		dir,
		registrar,
		login.Policy{EmailFallback: true},
		logger,
		metrics.NewWith(prometheus.NewRegistry()),
	)

	pages, err := NewPages(flow.leihs.URL)
	require.NoError(t, err)

	r := chi.NewRouter()
	New(orch, pages, logger).Register(r)
	flow.router = r
	return flow
}

func (f *loginFlow) signInRequestToken(t *testing.T, loginName string) string {
	t.Helper()
	name := loginName
	claims := token.SignInRequestClaims{
		Login:         &name,
		ServerBaseURL: "https://x",
		Path:          "/return",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	// Sign the way the downstream system would, with the shared keypair.
	raw, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(f.key)
	require.NoError(t, err)
	return raw
}

func (f *loginFlow) postLogin(t *testing.T, rawToken, password string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"token": {rawToken}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestFullLoginFlow(t *testing.T) {
	flow := newLoginFlow(t)
	raw := flow.signInRequestToken(t, "jdoe")

	rr := flow.postLogin(t, raw, "hunter2")
	require.Equal(t, http.StatusFound, rr.Code)

	location := rr.Header().Get("Location")
	parsed, err := url.Parse(location)
	require.NoError(t, err)
	assert.Equal(t, "https", parsed.Scheme)
	assert.Equal(t, "x", parsed.Host)
	assert.Equal(t, "/return", parsed.Path)

	successToken := parsed.Query().Get("token")
	require.NotEmpty(t, successToken)

	claims, err := flow.codec.DecodeSuccess(successToken)
	require.NoError(t, err)
	assert.Equal(t, raw, claims.SignInRequestToken)
	require.NotNil(t, claims.Email)
	assert.Equal(t, "jane@x.org", *claims.Email)
	assert.True(t, claims.Success)

	assert.Equal(t, 1, flow.created)
	assert.Equal(t, 1, flow.attached)
}

func TestFullLoginFlowWrongPassword(t *testing.T) {
	flow := newLoginFlow(t)
	raw := flow.signInRequestToken(t, "jdoe")

	rr := flow.postLogin(t, raw, "wrong")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, 0, flow.created)
}

func TestFullLoginFlowMissingToken(t *testing.T) {
	flow := newLoginFlow(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	flow.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFullLoginFlowGarbageToken(t *testing.T) {
	flow := newLoginFlow(t)

	rr := flow.postLogin(t, "not-a-token", "hunter2")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
