// Package secmem holds sensitive data (passwords, decoded Authorization
// payloads, GSSAPI tokens) with best-effort zeroing on release. Go's GC may
// have copied the backing array before Zero is called, so this is
// defense-in-depth, not a guarantee — but it closes the easy leaks: a
// buffer sitting in a freed arena, a token printed with %#v in a log
// line.
package secmem

import "sync"

// SecureString holds a string-shaped secret. Call Zero() in shutdown paths
// to overwrite the value in place before it is discarded.
type SecureString struct {
	mu   sync.Mutex
	data []byte
}

// NewSecureString creates a SecureString from the given string.
func NewSecureString(s string) *SecureString {
	b := make([]byte, len(s))
	copy(b, s)
	return &SecureString{data: b}
}

// String returns the plaintext value, or "" once Zero has been called.
func (s *SecureString) String() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return ""
	}
	return string(s.data)
}

// GoString returns a redacted representation to prevent accidental logging
// via fmt.Printf("%#v", token).
func (s *SecureString) GoString() string {
	return "[REDACTED]"
}

// IsZeroed reports whether Zero has already been called.
func (s *SecureString) IsZeroed() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data == nil
}

// Zero overwrites the backing byte slice with zeros and releases it.
func (s *SecureString) Zero() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ZeroBytes(s.data)
	s.data = nil
}

// ZeroBytes overwrites a byte slice in place. Used directly on decoded
// Authorization payload buffers and helper JSON fragments that never get
// wrapped in a SecureString.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
