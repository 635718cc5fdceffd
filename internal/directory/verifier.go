// Package directory authenticates users against an LDAP server and extracts
// their profile and group attributes. The verifier reports narrow failures;
// classifying them for users is the login orchestrator's job.
package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

var (
	// ErrBindFailed covers every way the user's credentials can fail:
	// wrong password, locked account, unreachable or misbehaving server.
	// Callers must not distinguish further to avoid leaking which half of
	// the credential pair was wrong.
	ErrBindFailed = errors.New("directory bind failed")

	// ErrAmbiguousUser means the search did not return exactly one entry.
	// This is a directory or configuration inconsistency, not a user error,
	// and is never resolved by silently picking a match.
	ErrAmbiguousUser = errors.New("search must return exactly one entry")
)

// Identity holds the resolved attributes for one directory user. Fields for
// unconfigured or absent attributes are left zero.
type Identity struct {
	Email      string
	FamilyName string
	GivenName  string
	Groups     []string
}

// FieldMap names the directory attributes to extract. All names come from
// configuration; an empty name disables extraction of that field.
type FieldMap struct {
	Email  string
	Family string
	Given  string
	Groups []string
}

// Config describes the directory server and the search to perform.
type Config struct {
	Server         string
	Port           int
	UserDNTemplate string
	BaseDN         string
	FilterTemplate string
	Fields         FieldMap
}

// conn is the slice of *ldap.Conn the verifier needs. It exists so the
// bind/search/extract logic can be tested without a directory server.
type conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// Verifier authenticates users by binding as them and searching for their
// entry. Connections are request-scoped and never pooled.
type Verifier struct {
	cfg    Config
	logger *slog.Logger
	dial   func(ctx context.Context) (conn, error)
}

// NewVerifier builds a verifier that connects over LDAPS to the configured
// server.
func NewVerifier(cfg Config, logger *slog.Logger) *Verifier {
	return &Verifier{
		cfg:    cfg,
		logger: logger,
		dial: func(ctx context.Context) (conn, error) {
			addr := fmt.Sprintf("ldaps://%s:%d", cfg.Server, cfg.Port)
			return ldap.DialURL(addr, ldap.DialWithTLSConfig(&tls.Config{
				ServerName: cfg.Server,
				MinVersion: tls.VersionTLS12,
			}))
		},
	}
}

// Authenticate binds to the directory as the user to verify the password,
// then searches for the user's entry and extracts the configured attributes.
// Exactly one entry must match the search.
func (v *Verifier) Authenticate(ctx context.Context, username, password string) (*Identity, error) {
	// An empty password would be an unauthenticated simple bind, which most
	// servers accept. Never let that pass as a login.
	if password == "" {
		return nil, fmt.Errorf("%w: password is mandatory", ErrBindFailed)
	}

	c, err := v.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBindFailed, err)
	}
	defer c.Close()

	userDN := strings.ReplaceAll(v.cfg.UserDNTemplate, "{username}", ldap.EscapeDN(username))
	if err := c.Bind(userDN, password); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBindFailed, err)
	}

	filter := strings.ReplaceAll(v.cfg.FilterTemplate, "{username}", ldap.EscapeFilter(username))
	req := ldap.NewSearchRequest(
		v.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		v.cfg.Fields.attributes(),
		nil,
	)

	result, err := c.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search for %q: %w", username, err)
	}
	if len(result.Entries) != 1 {
		v.logger.ErrorContext(ctx, "directory search did not match exactly one entry",
			"username", username,
			"matches", len(result.Entries),
		)
		return nil, fmt.Errorf("%w: got %d for %q", ErrAmbiguousUser, len(result.Entries), username)
	}

	identity := identityFromEntry(result.Entries[0], v.cfg.Fields)
	return &identity, nil
}

// attributes lists the configured attribute names to request, skipping
// unconfigured fields.
func (f FieldMap) attributes() []string {
	var attrs []string
	for _, name := range []string{f.Email, f.Family, f.Given} {
		if name != "" {
			attrs = append(attrs, name)
		}
	}
	attrs = append(attrs, f.Groups...)
	return attrs
}

// identityFromEntry maps a directory entry to an Identity using the
// configured field names. Absent attributes yield zero values.
func identityFromEntry(entry *ldap.Entry, fields FieldMap) Identity {
	var identity Identity
	if fields.Email != "" {
		identity.Email = entry.GetAttributeValue(fields.Email)
	}
	if fields.Family != "" {
		identity.FamilyName = entry.GetAttributeValue(fields.Family)
	}
	if fields.Given != "" {
		identity.GivenName = entry.GetAttributeValue(fields.Given)
	}
	for _, field := range fields.Groups {
		identity.Groups = append(identity.Groups, entry.GetAttributeValues(field)...)
	}
	return identity
}
