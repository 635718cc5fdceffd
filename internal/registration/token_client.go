package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// TokenClient talks to the downstream admin API with a static API token.
// Idempotency strategy: attempt creation and treat a conflict as success.
type TokenClient struct {
	baseURL      string
	apiToken     string
	authSystemID string
	httpClient   *http.Client
	logger       *slog.Logger
}

var _ Client = (*TokenClient)(nil)

// NewTokenClient builds a client authenticating with the given API token.
func NewTokenClient(baseURL, apiToken, authSystemID string, logger *slog.Logger) *TokenClient {
	return &TokenClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiToken:     apiToken,
		authSystemID: authSystemID,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		logger:       logger,
	}
}

func (c *TokenClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	reader, err := encodeJSON(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiToken)
	return c.httpClient.Do(req)
}

// EnsureRegistered creates the user downstream. A 409 means the user already
// exists, which is a success; the attach step only runs for newly created
// users.
func (c *TokenClient) EnsureRegistered(ctx context.Context, user User) error {
	resp, err := c.do(ctx, http.MethodPost, usersPath, newUserPayload(user))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		c.logger.DebugContext(ctx, "user already registered", "login", user.Login)
		return nil
	}
	if err := checkStatus(resp, "could not create user"); err != nil {
		return err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return fmt.Errorf("decode created user: %w", err)
	}

	return c.attachToAuthSystem(ctx, created.ID)
}

// attachToAuthSystem links a newly created user to this authenticator's auth
// system. There is no rollback of the user row when this fails; the error is
// surfaced instead.
func (c *TokenClient) attachToAuthSystem(ctx context.Context, userID string) error {
	path := fmt.Sprintf("%s%s/users/%s", authSystemsPath, c.authSystemID, userID)
	resp, err := c.do(ctx, http.MethodPut, path, nil)
	if err != nil {
		return fmt.Errorf("add user to authentication system: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, "could not add user to authentication system")
}

// EnsureAuthSystemRegistered posts the auth system record downstream and
// returns the decoded result.
func (c *TokenClient) EnsureAuthSystemRegistered(ctx context.Context, system AuthSystem) (*Record, error) {
	resp, err := c.do(ctx, http.MethodPost, authSystemsPath, newAuthSystemPayload(system))
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
