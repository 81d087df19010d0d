// Package sessiontable holds authenticated sessions and their idle-timeout
// regime (spec.md §4.7): a per-session idle timer that disposes a session
// once its web service has sat idle for service_idle seconds, and a
// process-wide idle timer that signals the broker is fully quiescent once
// both the session table and the pending conversation table are empty.
// Grounded on the reference stack's Session/Broker idle-reaper shape
// (agent/internal/sessionbroker/session.go's Touch/IdleDuration and
// broker.go's idleReaper/reapIdleSessions), generalized from a periodic
// ticker scan to a per-session time.Timer so each session's idle window is
// exact rather than bounded by a shared scan interval.
package sessiontable

import (
	"sync"
	"time"

	"github.com/webadmin-gateway/authbroker/internal/credentials"
	"github.com/webadmin-gateway/authbroker/internal/logging"
)

var log = logging.L("sessiontable")

// WebService is the opaque post-login service a Session wraps: the
// transport plus whatever higher-level bridge the broker's caller builds on
// top of it. The session table only needs to know whether it is idle and
// how to tear it down.
type WebService interface {
	// Idle reports whether the service currently has no active client
	// traffic — used by the per-session idle timer to decide whether to
	// reap on fire (spec.md §4.7: "if the service still reports idle").
	Idle() bool
	// Dispose tears down the service: closes the transport, releases
	// whatever the surrounding process attached. Must be idempotent.
	Dispose()
}

// Session is one authenticated login (spec.md §3's Authenticated/Session
// record): its cookie, its credentials, the web service it fronts, and the
// idle timer that governs its lifetime.
type Session struct {
	Cookie string

	mu      sync.Mutex
	creds   *credentials.Credentials
	service WebService
	timer   *time.Timer
	removed bool
}

func newSession(cookie string, creds *credentials.Credentials, service WebService) *Session {
	return &Session{Cookie: cookie, creds: creds, service: service}
}

// Credentials returns the session's credentials, or nil once removed.
func (s *Session) Credentials() *credentials.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

// Service returns the session's web service, or nil once removed.
func (s *Session) Service() WebService {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service
}

// Table maps cookie to Session and runs the two-level idle-timer regime
// (spec.md §4.7).
type Table struct {
	serviceIdle time.Duration
	processIdle time.Duration
	onIdling    func()
	pendingLen  func() int

	mu       sync.Mutex
	sessions map[string]*Session
	process  *time.Timer
}

// New creates an empty Table. serviceIdle and processIdle are the two
// timeout durations from spec.md §4.7 (defaults 15s/90s, applied by the
// caller). onIdling fires when the process-wide idle timer expires with
// both tables empty; pendingLen reports the current size of the broker's
// conversation PendingTable, consulted at that moment.
func New(serviceIdle, processIdle time.Duration, onIdling func(), pendingLen func() int) *Table {
	return &Table{
		serviceIdle: serviceIdle,
		processIdle: processIdle,
		onIdling:    onIdling,
		pendingLen:  pendingLen,
		sessions:    make(map[string]*Session),
	}
}

// Insert creates a Session for a freshly authenticated login, keys it by
// cookie, and starts its per-session idle timer (spec.md §4.7 steps 4/6).
func (t *Table) Insert(cookie string, creds *credentials.Credentials, service WebService) *Session {
	session := newSession(cookie, creds, service)

	t.mu.Lock()
	t.sessions[cookie] = session
	t.mu.Unlock()

	session.mu.Lock()
	session.timer = time.AfterFunc(t.serviceIdle, func() { t.reapIfIdle(session) })
	session.mu.Unlock()

	t.armProcessTimer()
	return session
}

// Lookup returns the session registered under cookie, if any.
func (t *Table) Lookup(cookie string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[cookie]
	return s, ok
}

// Len reports the number of live sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// reapIfIdle is the per-session idle timer's fire handler: it checks the
// service's current idle status (not the state at timer-arm time, since
// activity may have touched it since) and only then removes the session.
func (t *Table) reapIfIdle(session *Session) {
	session.mu.Lock()
	service := session.service
	already := session.removed
	session.mu.Unlock()
	if already || service == nil {
		return
	}
	if !service.Idle() {
		// Still active: rearm for another window rather than polling.
		session.mu.Lock()
		if !session.removed {
			session.timer = time.AfterFunc(t.serviceIdle, func() { t.reapIfIdle(session) })
		}
		session.mu.Unlock()
		return
	}
	t.Remove(session.Cookie)
}

// Remove drops the session, poisons its credentials, and disposes its
// service (spec.md §4.7: "remove the session (which drops credentials,
// poisons them, and disposes the service)"). Safe to call more than once.
func (t *Table) Remove(cookie string) bool {
	t.mu.Lock()
	session, ok := t.sessions[cookie]
	if ok {
		delete(t.sessions, cookie)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}

	session.mu.Lock()
	if session.removed {
		session.mu.Unlock()
		return true
	}
	session.removed = true
	creds := session.creds
	service := session.service
	timer := session.timer
	session.creds = nil
	session.service = nil
	session.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	creds.Poison()
	if service != nil {
		service.Dispose()
	}

	log.Info("session removed", logging.KeyApplication, creds.Application)
	t.armProcessTimer()
	return true
}

// armProcessTimer (re)starts the process-wide idle timer (spec.md §4.7:
// "reset whenever any session transitions to idle"). Called whenever the
// session table's membership changes, which is this implementation's
// closest analogue to "a session transitions to idle" — the most recent
// table mutation is always the most recent idle-relevant event.
func (t *Table) armProcessTimer() {
	t.mu.Lock()
	if t.process != nil {
		t.process.Stop()
	}
	t.process = time.AfterFunc(t.processIdle, t.fireProcessTimer)
	t.mu.Unlock()
}

func (t *Table) fireProcessTimer() {
	t.mu.Lock()
	sessionCount := len(t.sessions)
	t.mu.Unlock()

	pendingCount := 0
	if t.pendingLen != nil {
		pendingCount = t.pendingLen()
	}

	if sessionCount == 0 && pendingCount == 0 && t.onIdling != nil {
		t.onIdling()
	}
}

// Clear removes every session, poisoning credentials and disposing
// services — used at broker shutdown.
func (t *Table) Clear() {
	t.mu.Lock()
	cookies := make([]string, 0, len(t.sessions))
	for cookie := range t.sessions {
		cookies = append(cookies, cookie)
	}
	t.mu.Unlock()

	for _, cookie := range cookies {
		t.Remove(cookie)
	}

	t.mu.Lock()
	if t.process != nil {
		t.process.Stop()
	}
	t.mu.Unlock()
}
