package idp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLDAPConfig_Addr(t *testing.T) {
	cfg := LDAPConfig{Host: "ldap.example.com", Port: 389}
	assert.Equal(t, "ldap.example.com:389", cfg.addr())
}

func TestAuthenticateLDAP_ConnectFailure(t *testing.T) {
	// Port 0 never accepts connections; DialURL must fail fast rather
	// than block, and the error must be wrapped, not swallowed.
	cfg := LDAPConfig{
		Host:         "127.0.0.1",
		Port:         0,
		BindDN:       "cn=svc,dc=example,dc=com",
		BindPassword: "svc-pass",
		BaseDN:       "dc=example,dc=com",
		UserFilter:   "(mail=%s)",
	}

	err := AuthenticateLDAP(cfg, "alice@example.com", "alice-pass")
	assert.Error(t, err)
}
