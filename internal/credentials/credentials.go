// Package credentials holds the record a successful login produces: the
// authenticated user name, the application namespace, an optional password
// and optional GSSAPI delegated-credential handle, the remote peer address,
// a CSRF nonce, and the helper's raw login-data JSON. Exactly one Session
// owns a Credentials at a time; Poison must be called before release.
package credentials

import "github.com/webadmin-gateway/authbroker/internal/secmem"

// Credentials is the opaque record described in spec.md §3. Password and
// GSSAPICreds are the only fields that need zeroing on Poison; the rest are
// public identifiers, not secrets.
type Credentials struct {
	User        string
	Application string
	Password    []byte // zeroed on Poison; nil if this scheme never had one (e.g. Negotiate)
	GSSAPICreds []byte // zeroed on Poison; nil unless the helper returned gssapi-creds
	RemotePeer  string
	CSRFToken   string
	LoginData   []byte // raw JSON from the helper, retained for the post-login session

	poisoned bool
}

// New builds a Credentials record. password and gssapiCreds are copied so
// the caller's buffers can be released independently.
func New(user, application string, password, gssapiCreds []byte, remotePeer, csrfToken string, loginData []byte) *Credentials {
	return &Credentials{
		User:        user,
		Application: application,
		Password:    cloneBytes(password),
		GSSAPICreds: cloneBytes(gssapiCreds),
		RemotePeer:  remotePeer,
		CSRFToken:   csrfToken,
		LoginData:   cloneBytes(loginData),
	}
}

// Poison overwrites every secret-bearing field before the Credentials is
// discarded, per spec.md's invariant 4 ("secret key and credential fields
// are never written to disk or logs; on destruction they are explicitly
// overwritten") and testable property I4. Safe to call more than once or on
// nil.
func (c *Credentials) Poison() {
	if c == nil || c.poisoned {
		return
	}
	secmem.ZeroBytes(c.Password)
	secmem.ZeroBytes(c.GSSAPICreds)
	c.Password = nil
	c.GSSAPICreds = nil
	c.poisoned = true
}

// Poisoned reports whether Poison has already run.
func (c *Credentials) Poisoned() bool {
	return c == nil || c.poisoned
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
