// Package idp implements the two federated credential-verification
// paths of §4.9: team-tier LDAP bind/search and Google OAuth code
// exchange. Device binding, token issuance and session rows are
// identical regardless of path; only the credential check varies, and
// that check is everything this package provides.
package idp

import (
	"crypto/tls"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// LDAPConfig configures the directory used for team-tier login.
type LDAPConfig struct {
	Host         string
	Port         int
	BindDN       string
	BindPassword string
	BaseDN       string
	UserFilter   string // e.g. "(mail=%s)"
}

func (c LDAPConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthenticateLDAP binds with the service account, searches for a user
// whose UserFilter matches email, then rebinds as that user's DN with
// the presented password. Returns nil only if both binds succeed. The
// server never stores the LDAP password.
func AuthenticateLDAP(cfg LDAPConfig, email, password string) error {
	conn, err := ldap.DialURL(fmt.Sprintf("ldap://%s", cfg.addr()))
	if err != nil {
		return fmt.Errorf("connect to LDAP server: %w", err)
	}
	defer conn.Close()

	// Best-effort StartTLS; directories that don't support it continue
	// over the plain connection rather than failing login outright.
	_ = conn.StartTLS(&tls.Config{ServerName: cfg.Host})

	if err := conn.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
		return fmt.Errorf("bind with service account: %w", err)
	}

	filter := fmt.Sprintf(cfg.UserFilter, ldap.EscapeFilter(email))
	req := ldap.NewSearchRequest(
		cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 0, false,
		filter,
		[]string{"dn"},
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		return fmt.Errorf("search for user: %w", err)
	}
	if len(result.Entries) != 1 {
		return fmt.Errorf("no unique LDAP entry for %q", email)
	}
	userDN := result.Entries[0].DN

	userConn, err := ldap.DialURL(fmt.Sprintf("ldap://%s", cfg.addr()))
	if err != nil {
		return fmt.Errorf("connect to LDAP server: %w", err)
	}
	defer userConn.Close()

	if err := userConn.Bind(userDN, password); err != nil {
		return fmt.Errorf("bind as user: %w", err)
	}
	return nil
}
