// Package server adapts broker.State onto net/http: a single handler that
// checks an existing session's cookie and otherwise runs the login/resume
// flow (spec.md §6's "HTTP request inputs"). It owns no authentication logic of
// its own, the same way the reference stack's websocket.Client only
// transports heartbeat's decisions rather than making them.
package server

import (
	"errors"
	"net"
	"net/http"

	"github.com/webadmin-gateway/authbroker/internal/broker"
	"github.com/webadmin-gateway/authbroker/internal/brokererr"
	"github.com/webadmin-gateway/authbroker/internal/logging"
)

var log = logging.L("server")

// Server is the thin HTTP frontend over a broker.State.
type Server struct {
	state *broker.State
}

func New(state *broker.State) *Server {
	return &Server{state: state}
}

// Handler returns the broker's request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	return mux
}

// handleRequest implements the login/resume/cookie-check triage spec.md §6
// describes: a request carrying a Cookie for an existing session is
// admitted directly; anything else goes through HandleLogin.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if session, ok := s.state.CheckCookie(r.URL.Path, r.Header); ok {
		_ = session
		w.WriteHeader(http.StatusOK)
		return
	}

	remotePeer := remotePeerFor(r)
	outHeaders, _, err := s.state.HandleLogin(r.Context(), r.URL.Path, r.Header, remotePeer)
	for key, values := range outHeaders {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	if err != nil {
		if errors.Is(err, brokererr.ErrNeedsPrompt) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		log.Debug("login failed", logging.KeyError, err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func remotePeerFor(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
