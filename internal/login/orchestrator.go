// Package login sequences one login attempt: verify the sign-in request
// token, authenticate against the directory, reconcile the email, ensure the
// user is registered downstream, and issue the success token. Every failure
// along the way maps to exactly one classified reason; no step is retried.
package login

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"leihsldap/internal/directory"
	"leihsldap/internal/platform/metrics"
	"leihsldap/internal/registration"
	"leihsldap/internal/token"
	"leihsldap/pkg/email"
)

// Codec is the token component the orchestrator depends on.
type Codec interface {
	Verify(raw string, allowExpired bool) (*token.SignInRequestClaims, error)
	Issue(signInRequestToken string, email *string) (string, error)
}

// Directory authenticates a username/password pair and returns the user's
// directory attributes.
type Directory interface {
	Authenticate(ctx context.Context, username, password string) (*directory.Identity, error)
}

// Registrar ensures a verified user exists downstream.
type Registrar interface {
	EnsureRegistered(ctx context.Context, user registration.User) error
}

// Policy holds the configured flags that steer a login attempt.
type Policy struct {
	// AllowExpired disables expiry checking on inbound tokens.
	AllowExpired bool
	// EmailOverwrite always replaces the claimed email with the directory
	// email attribute. Takes precedence over EmailFallback.
	EmailOverwrite bool
	// EmailFallback replaces the claimed email only when the claim is
	// missing or structurally invalid.
	EmailFallback bool
}

// Prompt is what the login form needs: the raw token to carry through as a
// hidden field and the derived username to prefill.
type Prompt struct {
	Token    string
	Username string
	// Linked reports whether the token carried a login claim, meaning the
	// user has signed in through this authenticator before.
	Linked bool
}

// Orchestrator runs the login state machine.
type Orchestrator struct {
	codec     Codec
	directory Directory
	registrar Registrar
	policy    Policy
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func New(
	codec Codec,
	dir Directory,
	registrar Registrar,
	policy Policy,
	logger *slog.Logger,
	m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		codec:     codec,
		directory: dir,
		registrar: registrar,
		policy:    policy,
		logger:    logger,
		metrics:   m,
	}
}

// Prompt verifies the inbound token and derives the login form data.
func (o *Orchestrator) Prompt(rawToken string) (*Prompt, error) {
	if rawToken == "" {
		return nil, fail(ReasonNoToken, nil)
	}
	claims, err := o.codec.Verify(rawToken, o.policy.AllowExpired)
	if err != nil {
		return nil, o.classifyTokenError(err)
	}
	_, username, linked := loginData(claims)
	return &Prompt{Token: rawToken, Username: username, Linked: linked}, nil
}

// Login runs the full state machine for one attempt and returns the redirect
// target carrying the success token.
func (o *Orchestrator) Login(ctx context.Context, rawToken, password string) (string, error) {
	o.metrics.LoginAttempts.Inc()

	redirect, err := o.login(ctx, rawToken, password)
	if err != nil {
		var failure *Failure
		if !errors.As(err, &failure) {
			// Defensive: everything below must return a classified failure.
			failure = fail(ReasonInternal, err)
		}
		o.metrics.IncrementLoginFailure(string(failure.Reason))
		return "", failure
	}

	o.metrics.LoginSuccesses.Inc()
	return redirect, nil
}

func (o *Orchestrator) login(ctx context.Context, rawToken, password string) (string, error) {
	if rawToken == "" {
		return "", fail(ReasonNoToken, nil)
	}

	claims, err := o.codec.Verify(rawToken, o.policy.AllowExpired)
	if err != nil {
		return "", o.classifyTokenError(err)
	}

	claimEmail, username, linked := loginData(claims)

	identity, err := o.directory.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, directory.ErrAmbiguousUser) {
			o.logger.ErrorContext(ctx, "directory inconsistency during login",
				"username", username,
				"error", err,
			)
		}
		return "", fail(ReasonInvalidCredentials, err)
	}

	resolvedEmail := o.resolveEmail(claimEmail, identity.Email)

	user := registration.User{
		Email:     resolvedEmail,
		FirstName: identity.GivenName,
		LastName:  identity.FamilyName,
		Login:     username,
		Groups:    identity.Groups,
	}
	if err := o.registrar.EnsureRegistered(ctx, user); err != nil {
		return "", fail(ReasonInternal, err)
	}
	o.metrics.UsersRegistered.Inc()

	var successEmail *string
	if resolvedEmail != "" {
		successEmail = &resolvedEmail
	}
	successToken, err := o.codec.Issue(rawToken, successEmail)
	if err != nil {
		return "", fail(ReasonInternal, err)
	}

	o.logger.InfoContext(ctx, "login succeeded",
		"username", username,
		"linked", linked,
	)
	return claims.ServerBaseURL + claims.Path + "?token=" + url.QueryEscape(successToken), nil
}

func (o *Orchestrator) classifyTokenError(err error) *Failure {
	if errors.Is(err, token.ErrExpired) {
		return fail(ReasonExpiredToken, err)
	}
	return fail(ReasonInvalidToken, err)
}

// resolveEmail applies the configured email policy exactly once per login.
// Overwrite wins over fallback's conditional check.
func (o *Orchestrator) resolveEmail(claimEmail, directoryEmail string) string {
	if o.policy.EmailOverwrite || (o.policy.EmailFallback && !email.Valid(claimEmail)) {
		return directoryEmail
	}
	return claimEmail
}

// loginData extracts the working email and directory username from the token
// claims. A present login claim means the user is already linked and the
// claim value is the username; otherwise the username is derived from the
// email's local part.
func loginData(claims *token.SignInRequestClaims) (claimEmail, username string, linked bool) {
	if claims.Email != nil {
		claimEmail = *claims.Email
	}
	if claims.Login != nil && *claims.Login != "" {
		return claimEmail, *claims.Login, true
	}
	return claimEmail, email.LocalPart(claimEmail), false
}
