package broker

import (
	"testing"

	"github.com/webadmin-gateway/authbroker/internal/config"
)

func TestResolveDriver(t *testing.T) {
	s := &State{}
	s.cfg.Store(config.Default())
	s.spawnDriver = nil
	s.sshDriver = nil
	s.noneDriver = nil

	cases := []struct {
		name        string
		scheme      string
		schemeCfg   config.SchemeConfig
		have        bool
		loopbackSSH bool
		want        string // "spawn", "ssh", "none"
	}{
		{"basic defaults to spawn", "basic", config.SchemeConfig{}, false, false, "spawn"},
		{"negotiate defaults to spawn", "negotiate", config.SchemeConfig{}, false, false, "spawn"},
		{"unknown scheme with no section falls to none", "weird", config.SchemeConfig{}, false, false, "none"},
		{"basic forced to ssh by loopback mode", "basic", config.SchemeConfig{}, false, true, "ssh"},
		{"basic forced to ssh by explicit action", "basic", config.SchemeConfig{Action: actionRemoteSSH}, true, false, "ssh"},
		{"explicit spawn-with-header action", "negotiate", config.SchemeConfig{Action: actionSpawnHeader}, true, false, "spawn"},
		{"explicit spawn-with-decoded action", "basic", config.SchemeConfig{Action: actionSpawnDecoded}, true, false, "spawn"},
		{"explicit none action", "basic", config.SchemeConfig{Action: actionNone}, true, false, "none"},
		{"unrecognized action falls through to none", "negotiate", config.SchemeConfig{Action: "bogus"}, true, false, "none"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s.Config().LoopbackSSH = tc.loopbackSSH
			got := s.resolveDriver(tc.scheme, tc.schemeCfg, tc.have)
			var gotName string
			switch got {
			case s.spawnDriver:
				gotName = "spawn"
			case s.sshDriver:
				gotName = "ssh"
			case s.noneDriver:
				gotName = "none"
			default:
				gotName = "unknown"
			}
			if gotName != tc.want {
				t.Errorf("resolveDriver(%q, action=%q, have=%v, loopback=%v) = %s, want %s",
					tc.scheme, tc.schemeCfg.Action, tc.have, tc.loopbackSSH, gotName, tc.want)
			}
		})
	}
}
