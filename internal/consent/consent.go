// Package consent implements scope-based consent gating for side-effecting
// capabilities. A token carries an opaque value and a set of granted scopes;
// the wildcard scope grants everything.
package consent

import (
	"fmt"
	"slices"

	"github.com/olympus-org/olympus/internal/core"
)

// ScopeAll is the wildcard scope granting every capability.
const ScopeAll = "*"

// Consent scopes required by the builtin tools.
const (
	ScopeReadFS    = "read_fs"
	ScopeWriteFS   = "write_fs"
	ScopeDeleteFS  = "delete_fs"
	ScopeListFS    = "list_fs"
	ScopeSearchFS  = "search_fs"
	ScopeExecShell = "exec_shell"
	ScopeGitOps    = "git_ops"
	ScopeNetGet    = "net_get"
)

// KnownScopes returns every scope the builtin tools use.
func KnownScopes() []string {
	return []string{
		ScopeReadFS,
		ScopeWriteFS,
		ScopeDeleteFS,
		ScopeListFS,
		ScopeSearchFS,
		ScopeExecShell,
		ScopeGitOps,
		ScopeNetGet,
	}
}

// Token is an opaque credential with a set of granted scopes.
type Token struct {
	Value  string   `json:"token"`
	Scopes []string `json:"scopes"`
}

// NewToken creates a Token granting the given scopes.
func NewToken(value string, scopes ...string) *Token {
	return &Token{Value: value, Scopes: scopes}
}

// Grants reports whether the token grants the scope, either explicitly or
// via the wildcard.
func (t *Token) Grants(scope string) bool {
	if t == nil {
		return false
	}
	return slices.Contains(t.Scopes, ScopeAll) || slices.Contains(t.Scopes, scope)
}

// Policy controls when consent is enforced.
type Policy struct {
	// RequireConsent gates consent-protected capabilities on a token.
	RequireConsent bool
	// AutoConsent makes AutoToken return a wildcard token. Dev convenience.
	AutoConsent bool
}

// Check verifies that the token grants every required scope. A nil token
// fails with ErrConsentRequired; a missing scope fails with ErrConsentDenied.
// Enforcement is skipped entirely when the policy does not require consent.
func (p Policy) Check(tok *Token, scopes ...string) error {
	if !p.RequireConsent {
		return nil
	}
	if tok == nil {
		return core.ErrConsentRequired
	}
	for _, scope := range scopes {
		if !tok.Grants(scope) {
			return fmt.Errorf("%w: scope %q not granted", core.ErrConsentDenied, scope)
		}
	}
	return nil
}

// AutoToken returns the wildcard token injected by the executor in
// auto-consent mode, or nil when auto consent is disabled. This is the single
// place a permissive token originates.
func (p Policy) AutoToken() *Token {
	if !p.AutoConsent {
		return nil
	}
	return NewToken("auto", ScopeAll)
}

// Resolve builds a Token from a raw credential and explicit scopes. When the
// issuer is configured and the credential verifies as a signed grant, the
// embedded scopes win; otherwise the credential is treated as an opaque token
// carrying the explicit scopes. Returns nil when both inputs are empty.
func Resolve(issuer *Issuer, value string, scopes []string) *Token {
	if value == "" && len(scopes) == 0 {
		return nil
	}
	if issuer != nil && value != "" {
		if tok, err := issuer.Verify(value); err == nil {
			return tok
		}
	}
	return &Token{Value: value, Scopes: scopes}
}
