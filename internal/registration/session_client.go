package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
)

const csrfCookie = "leihs-anti-csrf-token"

// SessionClient talks to the downstream admin API through an interactive
// admin session: it obtains an anti-forgery token from the landing page,
// signs in, carries the token on every mutating call, and signs out again.
// Idempotency strategy: query for an existing user by email and skip
// creation on a match.
type SessionClient struct {
	baseURL       string
	adminUser     string
	adminPassword string
	authSystemID  string
	logger        *slog.Logger
}

var _ Client = (*SessionClient)(nil)

// NewSessionClient builds a client signing in with the given admin
// credentials.
func NewSessionClient(baseURL, adminUser, adminPassword, authSystemID string, logger *slog.Logger) *SessionClient {
	return &SessionClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		adminUser:     adminUser,
		adminPassword: adminPassword,
		authSystemID:  authSystemID,
		logger:        logger,
	}
}

// session is one signed-in admin session. Sessions are operation-scoped and
// never shared between requests.
type session struct {
	owner *SessionClient
	http  *http.Client
	csrf  string
}

func (c *SessionClient) signIn(ctx context.Context) (*session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	s := &session{
		owner: c,
		http:  &http.Client{Jar: jar, Timeout: defaultTimeout},
	}

	// The landing page sets the anti-forgery cookie.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("build landing page request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get landing page: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "could not get landing page"); err != nil {
		return nil, err
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == csrfCookie {
			s.csrf = cookie.Value
		}
	}
	if s.csrf == "" {
		return nil, fmt.Errorf("landing page did not set %s cookie", csrfCookie)
	}

	form := url.Values{
		"csrf-token": {s.csrf},
		"user":       {c.adminUser},
		"password":   {c.adminPassword},
	}
	signInReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/sign-in", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build sign-in request: %w", err)
	}
	signInReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	signInResp, err := s.http.Do(signInReq)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	defer signInResp.Body.Close()
	if err := checkStatus(signInResp, "could not sign in"); err != nil {
		return nil, err
	}

	return s, nil
}

// signOut terminates the admin session. Failures only get logged; the
// operation the session served has already completed.
func (s *session) signOut(ctx context.Context) {
	form := url.Values{"csrf-token": {s.csrf}}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.owner.baseURL+"/sign-out", strings.NewReader(form.Encode()))
	if err != nil {
		s.owner.logger.WarnContext(ctx, "could not build sign-out request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.http.Do(req)
	if err != nil {
		s.owner.logger.WarnContext(ctx, "could not sign out", "error", err)
		return
	}
	resp.Body.Close()
}

func (s *session) doJSON(ctx context.Context, method, path string, body any) (*http.Response, error) {
	reader, err := encodeJSON(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, s.owner.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Csrf-Token", s.csrf)
	return s.http.Do(req)
}

// userExists queries the downstream user list for the email. The term search
// matches loosely, so the result is filtered for an exact email match.
func (s *session) userExists(ctx context.Context, email string) (bool, error) {
	resp, err := s.doJSON(ctx, http.MethodGet, usersPath+"?term="+url.QueryEscape(email), nil)
	if err != nil {
		return false, fmt.Errorf("request users: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "could not request users"); err != nil {
		return false, err
	}

	var result struct {
		Users []struct {
			Email string `json:"email"`
		} `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode user list: %w", err)
	}
	for _, user := range result.Users {
		if strings.EqualFold(user.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

// EnsureRegistered checks for an existing user by email and creates one only
// when none is found. Newly created users are attached to this
// authenticator's auth system; a failure there fails the operation.
func (c *SessionClient) EnsureRegistered(ctx context.Context, user User) error {
	s, err := c.signIn(ctx)
	if err != nil {
		return err
	}
	defer s.signOut(ctx)

	exists, err := s.userExists(ctx, user.Email)
	if err != nil {
		return err
	}
	if exists {
		c.logger.DebugContext(ctx, "user already registered", "login", user.Login)
		return nil
	}

	resp, err := s.doJSON(ctx, http.MethodPost, usersPath, newUserPayload(user))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "could not create user"); err != nil {
		return err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return fmt.Errorf("decode created user: %w", err)
	}

	path := fmt.Sprintf("%s%s/users/%s", authSystemsPath, c.authSystemID, created.ID)
	attachResp, err := s.doJSON(ctx, http.MethodPut, path, nil)
	if err != nil {
		return fmt.Errorf("add user to authentication system: %w", err)
	}
	defer attachResp.Body.Close()
	return checkStatus(attachResp, "could not add user to authentication system")
}

// EnsureAuthSystemRegistered posts the auth system record within a fresh
// admin session and returns the decoded result.
func (c *SessionClient) EnsureAuthSystemRegistered(ctx context.Context, system AuthSystem) (*Record, error) {
	s, err := c.signIn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.signOut(ctx)

	resp, err := s.doJSON(ctx, http.MethodPost, authSystemsPath, newAuthSystemPayload(system))
	if err != nil {
		return nil, fmt.Errorf("register authentication system: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "could not register authentication system"); err != nil {
		return nil, err
	}

	var record Record
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("decode authentication system record: %w", err)
	}
	return &record, nil
}
