// Package vault holds per-tenant SMTP credentials, loaded once from
// configuration at startup. The vault is immutable for the process
// lifetime; changing credentials requires a restart.
package vault

import (
	"errors"
	"fmt"
	"sort"

	"github.com/civimail/civimail/internal/config"
)

// ErrUnconfigured is returned when a tenant has no SMTP profile. Callers
// must fail before any network attempt.
var ErrUnconfigured = errors.New("tenant has no configured SMTP profile")

// Profile is one tenant's mail-submission settings plus its signature
// template and display name.
type Profile struct {
	TenantKey   string
	DisplayName string

	Host           string
	Port           int
	Username       string
	Password       string
	From           string
	StartTLS       bool
	SSL            bool
	AllowPlaintext bool

	Signature string
}

// Addr returns the host:port dial address.
func (p Profile) Addr() string { return fmt.Sprintf("%s:%d", p.Host, p.Port) }

type Vault struct {
	profiles map[string]Profile
}

// New builds the vault from configuration. Config validation has already
// rejected incomplete profiles.
func New(cfg config.Config) *Vault {
	profiles := make(map[string]Profile, len(cfg.Tenants))
	for key, t := range cfg.Tenants {
		from := t.SMTP.From
		if from == "" {
			from = t.SMTP.Username
		}
		profiles[key] = Profile{
			TenantKey:      key,
			DisplayName:    t.DisplayName,
			Host:           t.SMTP.Host,
			Port:           t.SMTP.Port,
			Username:       t.SMTP.Username,
			Password:       t.SMTP.Password,
			From:           from,
			StartTLS:       t.SMTP.StartTLS,
			SSL:            t.SMTP.SSL,
			AllowPlaintext: t.SMTP.AllowPlaintext,
			Signature:      t.Signature,
		}
	}
	return &Vault{profiles: profiles}
}

// Lookup returns the profile for a tenant key or ErrUnconfigured.
func (v *Vault) Lookup(tenantKey string) (Profile, error) {
	p, ok := v.profiles[tenantKey]
	if !ok {
		return Profile{}, fmt.Errorf("tenant %q: %w", tenantKey, ErrUnconfigured)
	}
	return p, nil
}

// Has reports whether the tenant key is configured.
func (v *Vault) Has(tenantKey string) bool {
	_, ok := v.profiles[tenantKey]
	return ok
}

// TenantKeys returns all configured tenant keys, sorted.
func (v *Vault) TenantKeys() []string {
	keys := make([]string, 0, len(v.profiles))
	for k := range v.profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
