// Package broker ties every other package together into the authentication
// state machine described by spec.md §2's control flow: a request enters
// the Dispatcher, which chooses a Login driver; the driver builds a
// Conversation; on success the Session table stores the result under a
// fresh cookie. This package owns no transport or protocol logic of its
// own — it only wires noncegen, conversation, logindriver, throttle,
// sessiontable, and audit together the way the reference stack's
// sessionbroker.Broker wires together its listener, rate limiter, and
// session map in agent/internal/sessionbroker/broker.go.
package broker

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/webadmin-gateway/authbroker/internal/audit"
	"github.com/webadmin-gateway/authbroker/internal/config"
	"github.com/webadmin-gateway/authbroker/internal/conversation"
	"github.com/webadmin-gateway/authbroker/internal/logging"
	"github.com/webadmin-gateway/authbroker/internal/logindriver"
	"github.com/webadmin-gateway/authbroker/internal/logindriver/nonedriver"
	"github.com/webadmin-gateway/authbroker/internal/logindriver/spawn"
	"github.com/webadmin-gateway/authbroker/internal/logindriver/sshdriver"
	"github.com/webadmin-gateway/authbroker/internal/noncegen"
	"github.com/webadmin-gateway/authbroker/internal/sessiontable"
	"github.com/webadmin-gateway/authbroker/internal/throttle"
)

var log = logging.L("broker")

// State is the broker's top-level object: the BrokerState of spec.md §3,
// owning the secret key (via Nonces), the session and pending tables, the
// admission throttle, and the three closed-set login drivers.
type State struct {
	cfg    atomic.Pointer[config.Config]
	Nonces *noncegen.Generator
	Audit  *audit.Logger

	Pending  *conversation.PendingTable
	Sessions *sessiontable.Table
	Throttle *throttle.Throttle

	gssapiNotAvailable atomic.Bool

	spawnDriver *spawn.Driver
	sshDriver   *sshdriver.Driver
	noneDriver  *nonedriver.Driver
}

// Config returns the configuration currently in effect. Reading through this
// accessor (rather than holding a raw *config.Config) is what lets
// SetConfig swap in a reloaded configuration while a login is in flight
// without tearing the reader's view of it, per config.WatchAndReload's
// contract.
func (s *State) Config() *config.Config {
	return s.cfg.Load()
}

// SetConfig installs a reloaded configuration. Safe to call concurrently
// with in-flight requests reading Config().
func (s *State) SetConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

// New constructs a State from cfg. auditLogger may be nil (audit.Logger's
// methods are all nil-receiver safe) when auditing is disabled.
func New(cfg *config.Config, auditLogger *audit.Logger) (*State, error) {
	nonces, err := noncegen.New()
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}

	th, err := throttle.NewFromConfig(cfg.MaxStartups)
	if err != nil {
		log.Warn("invalid max_startups, reverted to defaults", logging.KeyError, err)
	}

	s := &State{
		Nonces:   nonces,
		Audit:    auditLogger,
		Pending:  conversation.NewPendingTable(),
		Throttle: th,
	}
	s.cfg.Store(cfg)

	s.spawnDriver = spawn.New(s.Pending, nonces, &s.gssapiNotAvailable)
	s.sshDriver = sshdriver.New(s.Pending, nonces)
	s.noneDriver = nonedriver.New()

	serviceIdle := time.Duration(cfg.ServiceIdleSeconds) * time.Second
	if serviceIdle <= 0 {
		serviceIdle = config.DefaultServiceIdleSeconds * time.Second
	}
	processIdle := time.Duration(cfg.ProcessIdleSeconds) * time.Second
	if processIdle <= 0 {
		processIdle = config.DefaultProcessIdleSeconds * time.Second
	}

	s.Sessions = sessiontable.New(serviceIdle, processIdle, s.emitIdling, s.Pending.Len)

	return s, nil
}

// emitIdling is the process-wide idle timer's fire handler (spec.md §4.7's
// broker-level "idling" signal). It only logs and records an audit entry;
// the surrounding process (cmd/authbrokerd) decides what "exit cleanly"
// means for its deployment.
func (s *State) emitIdling() {
	log.Info("broker idling: no sessions or pending conversations")
	s.Audit.Log(audit.EventBrokerStop, "", map[string]any{"reason": "idling"})
}

// Close tears down broker-owned resources: zeroes the secret key, disposes
// every live session, and closes the audit log.
func (s *State) Close() {
	s.Sessions.Clear()
	s.Nonces.Close()
	s.Audit.Close()
}

// Compile-time checks that every driver strategy satisfies the interface
// resolveDriver hands out.
var _ logindriver.Driver = (*spawn.Driver)(nil)
var _ logindriver.Driver = (*sshdriver.Driver)(nil)
var _ logindriver.Driver = (*nonedriver.Driver)(nil)
