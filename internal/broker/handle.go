package broker

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/webadmin-gateway/authbroker/internal/audit"
	"github.com/webadmin-gateway/authbroker/internal/brokererr"
	"github.com/webadmin-gateway/authbroker/internal/conversation"
	"github.com/webadmin-gateway/authbroker/internal/headercodec"
	"github.com/webadmin-gateway/authbroker/internal/logindriver"
	"github.com/webadmin-gateway/authbroker/internal/sessiontable"
)

// HandleLogin is the broker's single HTTP-facing entry point: it parses
// the Authorization header, routes through the resume path or a login
// driver, and returns response headers to merge into the HTTP reply plus
// the new session on success. On any non-nil error the caller sends a 401
// with outHeaders already carrying whatever WWW-Authenticate challenge
// applies; brokererr.ErrNeedsPrompt specifically means "challenge sent,
// keep waiting for the client to resume" rather than a hard failure.
func (s *State) HandleLogin(ctx context.Context, path string, headers http.Header, remotePeer string) (outHeaders http.Header, session *sessiontable.Session, err error) {
	outHeaders = http.Header{}

	application := headercodec.ParseApplication(path)
	if !headercodec.ValidApplication(application) {
		return outHeaders, nil, brokererr.InvalidData("invalid data")
	}

	scheme, ok := headercodec.ParseScheme(headers)
	if !ok {
		return outHeaders, nil, brokererr.AuthenticationFailed("Authentication failed")
	}

	if scheme == "x-login-reply" {
		return s.resume(ctx, application, headers, outHeaders)
	}

	if !s.Throttle.Begin() {
		s.Throttle.Finalize()
		s.Audit.Log(audit.EventLoginThrottled, "", map[string]any{"application": application, "scheme": scheme})
		return outHeaders, nil, brokererr.ErrThrottled
	}

	schemeCfg, haveSchemeCfg := s.Config().SchemeFor(scheme)
	driver := s.resolveDriver(scheme, schemeCfg, haveSchemeCfg)

	req := logindriver.BeginRequest{
		Application:  application,
		Scheme:       scheme,
		Headers:      headers,
		RemotePeer:   remotePeer,
		SchemeConfig: schemeCfg,
		LoopbackSSH:  s.Config().LoopbackSSH,
	}

	s.Audit.Log(audit.EventLoginBegin, "", map[string]any{"application": application, "scheme": scheme, "remotePeer": remotePeer})

	// The channel is the suspension point spec.md §5 describes in prose as
	// "awaiting the next helper message": Begin wires onCompletion as the
	// conversation's own registered completion, so it fires exactly once,
	// from whatever goroutine the driver's helper I/O runs on.
	ch := make(chan conversation.FinalizeOutcome, 1)
	conv, err := driver.Begin(ctx, req, func(outcome conversation.FinalizeOutcome) { ch <- outcome })
	if err != nil {
		s.Throttle.Finalize()
		return outHeaders, nil, err
	}

	return s.awaitOutcome(ctx, conv, ch, application, outHeaders, true)
}

// awaitOutcome blocks for a conversation's next completion and turns it into
// response headers, a session, or an error. chargeThrottle is true only for
// a fresh begin — a conversation resumed from PendingTable was never
// re-admitted through the throttle, so its eventual finalize must not
// double-decrement in_flight.
func (s *State) awaitOutcome(ctx context.Context, conv *conversation.Conversation, ch <-chan conversation.FinalizeOutcome, application string, outHeaders http.Header, chargeThrottle bool) (http.Header, *sessiontable.Session, error) {
	var outcome conversation.FinalizeOutcome
	select {
	case outcome = <-ch:
	case <-ctx.Done():
		conv.Release()
		if chargeThrottle {
			s.Throttle.Finalize()
		}
		return outHeaders, nil, brokererr.InternalFailure("request cancelled")
	}

	if outcome.GSSAPIOutputPresent {
		headercodec.BuildGSSAPIChallenge(outHeaders, outcome.GSSAPIOutputHex)
	}

	if chargeThrottle {
		s.Throttle.Finalize()
	}

	if outcome.Prompt != nil {
		// A prompt is a final verdict for the throttle: the slot was released
		// above, and the conversation parked in PendingTable is not
		// re-admitted when the client resumes.
		headercodec.BuildPromptChallenge(outHeaders, conv.ID, outcome.Prompt.Text)
		conv.Release()
		return outHeaders, nil, brokererr.ErrNeedsPrompt
	}

	if outcome.Err != nil {
		s.Audit.Log(audit.EventLoginFailed, conv.ID, map[string]any{"application": application, "error": outcome.Err.Error()})
		conv.Release()
		return outHeaders, nil, outcome.Err
	}

	session := s.createSession(application, outcome, outHeaders)
	conv.Release()
	return outHeaders, session, nil
}

// createSession implements spec.md §4.7's successful-finalize steps: mint a
// cookie, wrap the transport as a WebService, insert into the session
// table, and set Set-Cookie on the response.
func (s *State) createSession(application string, outcome conversation.FinalizeOutcome, outHeaders http.Header) *sessiontable.Session {
	cookieID := s.Nonces.Mint()
	cookieValue := headercodec.CookieValue(cookieID)

	service := newWebService(outcome.Transport)
	session := s.Sessions.Insert(cookieValue, outcome.Credentials, service)

	headercodec.BuildSetCookie(outHeaders, application, cookieValue, !s.Config().CookieInsecure)

	s.Audit.Log(audit.EventSessionCreated, "", map[string]any{"application": application, "user": outcome.Credentials.User})
	return session
}

// resume implements spec.md §4.5: look up the pending conversation named by
// an X-Login-Reply header, feed the client's answer back into the helper,
// and re-enter finalize through whichever driver originally created it (the
// same Conversation.Finalize closure bound when the conversation began).
func (s *State) resume(ctx context.Context, application string, headers http.Header, outHeaders http.Header) (http.Header, *sessiontable.Session, error) {
	payload, ok := headercodec.TakePayload(headers, false)
	if !ok {
		return outHeaders, nil, brokererr.AuthenticationFailed("invalid resume token")
	}
	defer payload.Release()

	parts := strings.SplitN(strings.TrimSpace(string(payload.Bytes)), " ", 2)
	if len(parts) != 2 {
		return outHeaders, nil, brokererr.AuthenticationFailed("invalid resume token")
	}
	id, b64Answer := parts[0], strings.TrimSpace(parts[1])

	conv, found := s.Pending.Get(id)
	if !found {
		return outHeaders, nil, brokererr.AuthenticationFailed("invalid resume token")
	}
	// Get does not retain on the table's behalf, so take our own reference
	// before dropping the table's — otherwise RemoveByConversation's release
	// would be the last one and tear the helper down before we finish using
	// it below.
	conv.Retain()
	s.Pending.RemoveByConversation(conv)

	decoded, err := base64.StdEncoding.DecodeString(b64Answer)
	if err != nil || len(decoded) == 0 {
		conv.Release()
		return outHeaders, nil, brokererr.AuthenticationFailed("invalid resume token")
	}

	ch := make(chan conversation.FinalizeOutcome, 1)
	if err := conv.Register(func(message []byte, closeErr error) { ch <- conv.Finalize(message, closeErr) }); err != nil {
		conv.Release()
		return outHeaders, nil, brokererr.InternalFailure("could not continue authentication")
	}

	if err := conv.Pipe.Answer(decoded); err != nil {
		conv.Release()
		return outHeaders, nil, brokererr.Newf(brokererr.KindInternalFailure, "could not continue authentication", "resume answer: %v", err)
	}

	return s.awaitOutcome(ctx, conv, ch, application, outHeaders, false)
}

// CheckCookie implements spec.md §4.8: derive the application namespace
// from path, look up its cookie, and return the live session on a hit.
func (s *State) CheckCookie(path string, headers http.Header) (*sessiontable.Session, bool) {
	application := headercodec.ParseApplication(path)
	value, ok := headercodec.ReadCookie(headers, application)
	if !ok || !strings.HasPrefix(value, "v=2;k=") {
		return nil, false
	}
	return s.Sessions.Lookup(value)
}
