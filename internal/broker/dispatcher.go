package broker

import (
	"github.com/webadmin-gateway/authbroker/internal/config"
	"github.com/webadmin-gateway/authbroker/internal/logindriver"
)

// Dispatch actions a scheme's configuration can name, beyond the
// scheme-default choice (spec.md §6's per-scheme "action" key).
const (
	actionSpawnHeader  = "spawn-login-with-header"
	actionSpawnDecoded = "spawn-login-with-decoded"
	actionRemoteSSH    = "remote-login-ssh"
	actionNone         = "none"
)

// resolveDriver maps (scheme, action) to one of the three closed-set
// strategies (spec.md §4.4, §9's "small enum of driver strategies"). Basic
// and Negotiate default to spawn; Basic additionally routes to the SSH
// driver when loopback-SSH mode is on or its action says so explicitly. Any
// action string this function does not recognize — including one naming a
// scheme the dispatcher has never heard of — falls through to the none
// driver rather than failing the request in some other way, so every
// request still completes through the same pipeline (spec.md §4.4.3).
func (s *State) resolveDriver(scheme string, schemeCfg config.SchemeConfig, haveSchemeCfg bool) logindriver.Driver {
	action := schemeCfg.Action
	if !haveSchemeCfg {
		action = defaultActionFor(scheme)
	}

	if scheme == "basic" && (s.Config().LoopbackSSH || action == actionRemoteSSH) {
		return s.sshDriver
	}

	switch action {
	case actionSpawnHeader, actionSpawnDecoded:
		return s.spawnDriver
	case actionRemoteSSH:
		return s.sshDriver
	case actionNone:
		return s.noneDriver
	case "":
		switch scheme {
		case "basic", "negotiate":
			return s.spawnDriver
		default:
			return s.noneDriver
		}
	default:
		log.Warn("unrecognized scheme action, falling through to the none driver", "scheme", scheme, "action", action)
		return s.noneDriver
	}
}

// defaultActionFor returns the implicit action for a scheme that has no
// configuration section of its own.
func defaultActionFor(scheme string) string {
	switch scheme {
	case "basic":
		return actionSpawnDecoded
	case "negotiate":
		return actionSpawnHeader
	default:
		return actionNone
	}
}
