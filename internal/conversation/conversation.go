// Package conversation models a single in-flight login attempt (spec.md
// §3/§4's Conversation object): a unique id, the helper collaborator
// driving it (a spawned subprocess or an SSH transport), the auth-pipe
// side channel to that helper, the most recent helper response, and at
// most one outstanding completion. Conversations are reference-counted
// because both the auth-pipe's callback chain and the HTTP response path
// that is waiting on it hold a reference; the last release tears down the
// helper.
package conversation

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/webadmin-gateway/authbroker/internal/credentials"
)

// Helper is whatever backs a Conversation's side of the login: a spawned
// subprocess handle or an SSH transport. The conversation only needs to be
// able to tear it down; everything else is driver-specific and lives behind
// the driver's own state, not here.
type Helper interface {
	// Destroy tears down the helper-specific payload: kills the subprocess
	// or closes the transport. Must be idempotent.
	Destroy()
}

// Pipe is the subset of the auth-pipe a Conversation needs to drive the
// resume path: send one JSON frame to the helper. *authpipe.Pipe satisfies
// this directly.
type Pipe interface {
	Answer(data []byte) error
}

// Prompt is the interactive challenge a helper emits mid-conversation
// (spec.md §4.4.1 step 7, the "prompt" JSON field) plus whatever other
// fields rode along with it, for drivers that want to inspect them.
type Prompt struct {
	Text string
	Raw  map[string]any
}

// FinalizeOutcome is everything a driver's finalize step can produce for a
// single helper round: success credentials, a prompt to relay to the
// client, a GSSAPI continuation token to echo back, a post-login transport,
// or an error. At most one of Credentials/Prompt/Err is meaningful for a
// given round; GSSAPIOutputPresent/GSSAPIOutputHex ride alongside any of
// them per spec.md §4.4.1 step 8 ("always call build_gssapi_challenge on
// the way out").
type FinalizeOutcome struct {
	Credentials         *credentials.Credentials
	Prompt              *Prompt
	Transport           Helper // the post-login bridge, if this round produced one
	GSSAPIOutputPresent bool
	GSSAPIOutputHex     string
	Err                 error
}

// FinalizeFunc is bound to a specific Conversation's driver state at
// creation time (spec.md §4.5: "the conversation remembers which driver
// created it" — here, by holding the closure directly instead of a tag to
// dispatch on).
type FinalizeFunc func(message []byte, closeErr error) FinalizeOutcome

// Tag records which driver created a Conversation. The resume path does not
// dispatch on it: it calls the Finalize closure the driver bound at
// creation.
type Tag int

const (
	TagSpawn Tag = iota
	TagSSH
	TagNone
)

// Completion is invoked exactly once per Register call: either with a
// helper message, or with a non-nil closeErr if the auth-pipe (or
// transport) closed before a message arrived.
type Completion func(message []byte, closeErr error)

// Conversation is the broker's single-flight login-attempt record.
type Conversation struct {
	ID  string
	Tag Tag

	// Pipe and Finalize are set once by the driver that created this
	// Conversation, before the first Register call. Pipe is used only by
	// the resume path (spec.md §4.5 step 5); Finalize is invoked by
	// whichever completion fires next, from either the original helper
	// round or a resumed one.
	Pipe     Pipe
	Finalize FinalizeFunc

	mu           sync.Mutex
	helper       Helper
	lastResponse []byte
	completion   Completion
	destroyed    bool

	refcount atomic.Int32
}

// New creates a Conversation with one reference already held (the caller's).
func New(id string, tag Tag, helper Helper) *Conversation {
	c := &Conversation{ID: id, Tag: tag, helper: helper}
	c.refcount.Store(1)
	return c
}

// Retain adds a reference. Call once per additional long-lived holder
// (the pending table, an auth-pipe callback closure).
func (c *Conversation) Retain() {
	c.refcount.Add(1)
}

// Release drops a reference. When the count reaches zero the helper is
// destroyed exactly once, regardless of which holder released last.
func (c *Conversation) Release() {
	if c.refcount.Add(-1) == 0 {
		c.mu.Lock()
		destroyed := c.destroyed
		c.destroyed = true
		helper := c.helper
		c.mu.Unlock()
		if !destroyed && helper != nil {
			helper.Destroy()
		}
	}
}

// Register installs the single outstanding completion. It is an error
// (spec.md invariant 1) to register a second completion while one is
// already pending — callers that hit this have a bug, not a race the
// broker is meant to tolerate, since the broker is single-threaded per
// conversation by construction.
func (c *Conversation) Register(fn Completion) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completion != nil {
		return fmt.Errorf("conversation %s: completion already pending", c.ID)
	}
	c.completion = fn
	return nil
}

// HasPendingCompletion reports whether a completion is currently
// registered. A conversation parked in PendingTable is expected to report
// false; PendingTable itself does not check this.
func (c *Conversation) HasPendingCompletion() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completion != nil
}

// DeliverMessage stores message as LastResponse and invokes the pending
// completion, clearing it first so a completion that itself calls back
// into Register does not see a stale one.
func (c *Conversation) DeliverMessage(message []byte) {
	c.mu.Lock()
	c.lastResponse = message
	fn := c.completion
	c.completion = nil
	c.mu.Unlock()

	if fn != nil {
		fn(message, nil)
	}
}

// DeliverClose invokes the pending completion with a close error, if one
// was received with no prior message (spec.md §4.4.1 step 6: "On close,
// complete with the close error if no response arrived").
func (c *Conversation) DeliverClose(closeErr error) {
	c.mu.Lock()
	fn := c.completion
	c.completion = nil
	c.mu.Unlock()

	if fn != nil {
		fn(nil, closeErr)
	}
}

// LastResponse returns the most recently stored helper message.
func (c *Conversation) LastResponse() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResponse
}

// SetHelper attaches (or replaces) the helper this conversation tears down
// on release — used when a driver detaches the subprocess from the
// conversation on success (spec.md §4.4.1 step 7: "detach the subprocess
// handle from the conversation") by calling SetHelper(nil).
func (c *Conversation) SetHelper(h Helper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.helper = h
}

// DetachHelper returns the current helper and clears it from the
// conversation in one step, so the caller can hand it out as a session's
// post-login transport without the conversation's own release tearing it
// down a second time.
func (c *Conversation) DetachHelper() Helper {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.helper
	c.helper = nil
	return h
}
