// Package registration ensures verified users exist in the downstream Leihs
// system, and registers this authenticator's own identity there. Two
// transports implement the same contract: a static API token, or an
// interactive admin session with an anti-forgery token. Deployments pick one
// through configuration.
//
// Every downstream call checks the response status; anything at or above 300
// is surfaced with its status code and raw body. There are no retries.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dErrors "leihsldap/pkg/domain-errors"
	"leihsldap/pkg/platform/sentinel"
)

// User is the profile sent downstream when ensuring a user exists.
type User struct {
	Email     string
	FirstName string
	LastName  string
	Login     string
	Groups    []string
}

// AuthSystem is this authenticator's identity as registered downstream. The
// keypair is the same one the token codec uses; the downstream system needs
// it to issue sign-in request tokens and verify success tokens.
type AuthSystem struct {
	ID          string
	Name        string
	Description string
	ExternalURL string
	Priority    int
	EmailMatch  string
	PublicKey   string
	PrivateKey  string
}

// Record is the downstream system's view of a registered auth system.
type Record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client is the registration contract the login orchestrator and startup
// code depend on.
type Client interface {
	// EnsureRegistered makes sure a user with this identity exists
	// downstream. An already existing user is a no-op success, never an
	// error. After creating a user (only then), the user is attached to
	// this authenticator's auth system in a second step; a failure there
	// fails the whole operation even though the user row exists.
	EnsureRegistered(ctx context.Context, user User) error

	// EnsureAuthSystemRegistered declares this authenticator downstream.
	// Re-registration of an already known system fails with a conflict;
	// callers run this once at startup and treat that as informational.
	EnsureAuthSystemRegistered(ctx context.Context, system AuthSystem) (*Record, error)
}

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 64 << 10

	usersPath       = "/admin/users/"
	authSystemsPath = "/admin/system/authentication-systems/"
)

type userPayload struct {
	Email                 string   `json:"email"`
	Firstname             string   `json:"firstname"`
	Lastname              string   `json:"lastname"`
	AccountEnabled        bool     `json:"account_enabled"`
	PasswordSignInEnabled bool     `json:"password_sign_in_enabled"`
	Login                 string   `json:"login"`
	ExtendedInfo          any      `json:"extended_info"`
	Groups                []string `json:"groups,omitempty"`
}

func newUserPayload(u User) userPayload {
	return userPayload{
		Email:                 u.Email,
		Firstname:             u.FirstName,
		Lastname:              u.LastName,
		AccountEnabled:        true,
		PasswordSignInEnabled: false,
		Login:                 u.Login,
		ExtendedInfo:          nil,
		Groups:                u.Groups,
	}
}

type authSystemPayload struct {
	Description        string `json:"description"`
	Enabled            bool   `json:"enabled"`
	ExternalPublicKey  string `json:"external_public_key"`
	ExternalSignInURL  string `json:"external_sign_in_url"`
	ID                 string `json:"id"`
	InternalPrivateKey string `json:"internal_private_key"`
	InternalPublicKey  string `json:"internal_public_key"`
	Name               string `json:"name"`
	Priority           int    `json:"priority"`
	SendEmail          bool   `json:"send_email"`
	SendLogin          bool   `json:"send_login"`
	Type               string `json:"type"`
	SignUpEmailMatch   string `json:"sign_up_email_match"`
}

func newAuthSystemPayload(s AuthSystem) authSystemPayload {
	return authSystemPayload{
		Description:        s.Description,
		Enabled:            true,
		ExternalPublicKey:  s.PublicKey,
		ExternalSignInURL:  s.ExternalURL,
		ID:                 s.ID,
		InternalPrivateKey: s.PrivateKey,
		InternalPublicKey:  s.PublicKey,
		Name:               s.Name,
		Priority:           s.Priority,
		SendEmail:          true,
		SendLogin:          true,
		Type:               "external",
		SignUpEmailMatch:   s.EmailMatch,
	}
}

// checkStatus enforces the downstream contract: any status at or above 300
// fails with the caller-supplied context message plus the status code and
// raw response body. Conflicts additionally carry sentinel.ErrConflict so
// callers can recognize "already exists".
func checkStatus(resp *http.Response, message string) error {
	if resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := fmt.Errorf("status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode == http.StatusConflict {
		cause = fmt.Errorf("%w: %w", sentinel.ErrConflict, cause)
		return dErrors.Wrap(cause, dErrors.CodeConflict, message)
	}
	return dErrors.Wrap(cause, dErrors.CodeInternal, message)
}

func encodeJSON(body any) (io.Reader, error) {
	if body == nil {
		return nil, nil
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return bytes.NewReader(buf), nil
}
