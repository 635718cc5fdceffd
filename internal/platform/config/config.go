// Package config loads and validates the authenticator configuration. The
// configuration is read once at startup into an explicit value that is passed
// to each component's constructor; nothing re-reads the file at request time.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/asaskevich/govalidator"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration snapshot for the process. It is immutable
// after Load returns; concurrent requests share it without locking.
type Config struct {
	Listen   string       `yaml:"listen"`
	LogLevel string       `yaml:"loglevel"`
	LDAP     LDAPConfig   `yaml:"ldap"`
	Token    TokenConfig  `yaml:"token"`
	System   SystemConfig `yaml:"system"`
}

// LDAPConfig describes the directory server and how to talk to it.
type LDAPConfig struct {
	Server       string         `yaml:"server"`
	Port         int            `yaml:"port"`
	UserDN       string         `yaml:"user_dn"`
	BaseDN       string         `yaml:"base_dn"`
	SearchFilter string         `yaml:"search_filter"`
	Userdata     UserdataConfig `yaml:"userdata"`
}

// UserdataConfig maps directory attributes to user fields. All attribute
// names are configuration-supplied; none are hard-coded in the verifier.
type UserdataConfig struct {
	Email  EmailConfig  `yaml:"email"`
	Name   NameConfig   `yaml:"name"`
	Groups GroupsConfig `yaml:"groups"`
}

// EmailConfig selects the directory email attribute and the policy for
// reconciling it with the email from the sign-in request token.
type EmailConfig struct {
	Field     string `yaml:"field"`
	Fallback  bool   `yaml:"fallback"`
	Overwrite bool   `yaml:"overwrite"`
}

// NameConfig selects the directory attributes for family and given name.
type NameConfig struct {
	Family string `yaml:"family"`
	Given  string `yaml:"given"`
}

// GroupsConfig selects zero or more directory attributes holding group
// memberships. Leaving it empty disables group propagation entirely.
type GroupsConfig struct {
	Fields []string `yaml:"fields"`
}

// TokenConfig holds the ES256 keypair and token policy. The same keypair
// verifies inbound sign-in request tokens and signs outbound success tokens.
type TokenConfig struct {
	PrivateKey   string `yaml:"private_key"`
	PublicKey    string `yaml:"public_key"`
	Validity     int    `yaml:"validity"`
	AllowExpired bool   `yaml:"allow_expired"`
}

// SystemConfig describes the downstream Leihs instance.
type SystemConfig struct {
	URL      string           `yaml:"url"`
	APIToken string           `yaml:"api_token"`
	Admin    AdminConfig      `yaml:"admin"`
	Auth     AuthSystemConfig `yaml:"auth"`
}

// AdminConfig holds interactive admin credentials for the session-based
// registration transport. Unused when an API token is configured.
type AdminConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// AuthSystemConfig is the registration metadata for this authenticator's
// identity in the downstream system.
type AuthSystemConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	URL         string `yaml:"url"`
	Priority    int    `yaml:"priority"`
	EmailMatch  string `yaml:"email_match"`
}

const (
	defaultListen       = ":8080"
	defaultLDAPPort     = 636
	defaultValidity     = 180
	defaultAuthPriority = 3
)

// Load reads the configuration from path, or from the first discovered
// default location when path is empty, applies defaults, and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = discover()
	}
	if path == "" {
		return nil, fmt.Errorf("no configuration file found")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// discover returns the best match for the configuration file, checking the
// working directory, the home directory, and /etc in that order.
func discover() string {
	candidates := []string{"./leihs-ldap.yml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "leihs-ldap.yml"))
	}
	candidates = append(candidates, "/etc/leihs-ldap.yml")

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.LDAP.Port == 0 {
		c.LDAP.Port = defaultLDAPPort
	}
	if c.Token.Validity == 0 {
		c.Token.Validity = defaultValidity
	}
	if c.System.Auth.Priority == 0 {
		c.System.Auth.Priority = defaultAuthPriority
	}
}

// Validate checks that every key the core components depend on is present.
// A validation failure is fatal at startup, never handled per request.
func (c *Config) Validate() error {
	required := []struct {
		value, key string
	}{
		{c.LDAP.Server, "ldap.server"},
		{c.LDAP.UserDN, "ldap.user_dn"},
		{c.LDAP.BaseDN, "ldap.base_dn"},
		{c.LDAP.SearchFilter, "ldap.search_filter"},
		{c.Token.PrivateKey, "token.private_key"},
		{c.System.URL, "system.url"},
		{c.System.Auth.ID, "system.auth.id"},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("configuration key %s is required", r.key)
		}
	}

	if !govalidator.IsRequestURL(c.System.URL) {
		return fmt.Errorf("configuration key system.url is not a valid URL: %q", c.System.URL)
	}
	if c.System.Auth.URL != "" && !govalidator.IsRequestURL(c.System.Auth.URL) {
		return fmt.Errorf("configuration key system.auth.url is not a valid URL: %q", c.System.Auth.URL)
	}
	if c.System.APIToken == "" && (c.System.Admin.User == "" || c.System.Admin.Password == "") {
		return fmt.Errorf("either system.api_token or system.admin credentials must be configured")
	}
	return nil
}
