// Package spawn implements the spawn-helper login driver (spec.md §4.4.1):
// it forks a login-helper subprocess, hands it the auth-pipe side channel
// on fd 3, and drives the prompt/success/failure protocol described in
// spec.md §6. Chosen for Basic and Negotiate by default, or any scheme
// configured with action "spawn-login-with-header"/"spawn-login-with-decoded".
package spawn

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/webadmin-gateway/authbroker/internal/authpipe"
	"github.com/webadmin-gateway/authbroker/internal/brokererr"
	"github.com/webadmin-gateway/authbroker/internal/conversation"
	"github.com/webadmin-gateway/authbroker/internal/credentials"
	"github.com/webadmin-gateway/authbroker/internal/headercodec"
	"github.com/webadmin-gateway/authbroker/internal/logging"
	"github.com/webadmin-gateway/authbroker/internal/logindriver"
	"github.com/webadmin-gateway/authbroker/internal/noncegen"
)

var log = logging.L("logindriver.spawn")

// DefaultCommand is used when a scheme's configuration has no "command" key.
const DefaultCommand = "/usr/libexec/cockpit-session"

// DefaultResponseTimeout is used when a scheme configures a conversation
// timeout but no separate inter-message idle timeout.
const DefaultResponseTimeout = 30 * time.Second

// Driver is the spawn-helper login strategy.
type Driver struct {
	Pending    *conversation.PendingTable
	Nonces     *noncegen.Generator
	GSSAPINotAvailable *atomic.Bool
}

// New creates a spawn Driver. gssapiNotAvailable is the broker-wide,
// never-reset flag set the first time a helper reports GSSAPI as
// unavailable (spec.md §9).
func New(pending *conversation.PendingTable, nonces *noncegen.Generator, gssapiNotAvailable *atomic.Bool) *Driver {
	return &Driver{Pending: pending, Nonces: nonces, GSSAPINotAvailable: gssapiNotAvailable}
}

// subprocessHelper tears down the helper subprocess: SIGTERM its process
// group, then reap it so it doesn't become a zombie.
type subprocessHelper struct {
	cmd  *exec.Cmd
	pgid int
}

func (h *subprocessHelper) Destroy() {
	if h.cmd.Process != nil && h.pgid > 0 {
		_ = unix.Kill(-h.pgid, syscall.SIGTERM)
	}
	go h.cmd.Wait()
}

// Transport is the post-login bridge handed to the session once a spawn
// conversation completes successfully: the helper's stdin/stdout, adopted
// from the conversation's subprocess handle (spec.md §4.4.1 step 7,
// "detach the subprocess handle from the conversation" — ownership moves
// here so the conversation's own release no longer kills it).
type Transport struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	cmd    *exec.Cmd
	pgid   int
}

// Destroy closes the bridge and terminates the helper process group. Called
// when the owning session is destroyed.
func (t *Transport) Destroy() {
	_ = t.Stdin.Close()
	_ = t.Stdout.Close()
	if t.cmd.Process != nil && t.pgid > 0 {
		_ = unix.Kill(-t.pgid, syscall.SIGTERM)
	}
	go t.cmd.Wait()
}

// Begin implements logindriver.Driver.
func (d *Driver) Begin(ctx context.Context, req logindriver.BeginRequest, onCompletion func(conversation.FinalizeOutcome)) (*conversation.Conversation, error) {
	command := req.SchemeConfig.Command
	if command == "" {
		command = DefaultCommand
	}

	decodeBase64 := req.Scheme == "basic" || req.SchemeConfig.Action == "spawn-login-with-decoded"
	payload, havePayload := headercodec.TakePayload(req.Headers, decodeBase64)

	var payloadBytes []byte
	if havePayload {
		payloadBytes = payload.Bytes
	} else if req.Scheme == "negotiate" && !d.GSSAPINotAvailable.Load() {
		// Let the helper start a GSSAPI handshake with no token yet.
		payloadBytes = []byte{}
	} else {
		return nil, brokererr.InvalidData("no authorization payload")
	}

	// Keep a copy of the original password so the credentials we mint never
	// round-trip it through the helper's JSON response (spec.md §4.4.1 step
	// 7): re-derive it from the Basic payload we already decoded, not from
	// whatever the helper echoes back.
	var originalPassword []byte
	if req.Scheme == "basic" {
		if _, pw, ok := headercodec.ParseBasic(payloadBytes); ok {
			originalPassword = append([]byte(nil), pw...)
		}
	}
	if payload != nil {
		defer payload.Release()
	}

	convTimeout := time.Duration(req.SchemeConfig.Timeout) * time.Second
	if convTimeout <= 0 {
		convTimeout = 30 * time.Second
	}
	idleTimeout := DefaultResponseTimeout
	if req.SchemeConfig.ResponseTimeout > 0 {
		idleTimeout = time.Duration(req.SchemeConfig.ResponseTimeout) * time.Second
	}

	id := d.Nonces.Mint()
	spawned, err := authpipe.NewSpawnedPipe(id, convTimeout, idleTimeout)
	if err != nil {
		return nil, brokererr.Newf(brokererr.KindInternalFailure, "could not start authentication", "authpipe: %v", err)
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		spawned.Close()
		return nil, brokererr.Newf(brokererr.KindInternalFailure, "could not start authentication", "stdin pipe: %v", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		spawned.Close()
		stdinR.Close()
		stdinW.Close()
		return nil, brokererr.Newf(brokererr.KindInternalFailure, "could not start authentication", "stdout pipe: %v", err)
	}

	// The helper subprocess must outlive this request — it becomes the
	// session's post-login transport on success — so it is not tied to ctx,
	// which is only this HTTP request's lifetime.
	cmd := exec.Command(command, req.Scheme, req.RemotePeer)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{spawned.ChildFile}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		spawned.Close()
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, brokererr.Newf(brokererr.KindInternalFailure, "could not start authentication", "exec %s: %v", command, err)
	}
	// Parent no longer needs the child's fds.
	stdinR.Close()
	stdoutW.Close()
	spawned.ChildFile.Close()

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		pgid = cmd.Process.Pid
	}

	helper := &subprocessHelper{cmd: cmd, pgid: pgid}
	conv := conversation.New(id, conversation.TagSpawn, helper)
	conv.Pipe = spawned.Pipe

	transport := &Transport{Stdin: stdinW, Stdout: stdoutR, cmd: cmd, pgid: pgid}

	conv.Finalize = func(message []byte, closeErr error) conversation.FinalizeOutcome {
		return d.finalize(conv, req, transport, originalPassword, message, closeErr)
	}

	if err := conv.Register(func(message []byte, closeErr error) {
		onCompletion(conv.Finalize(message, closeErr))
	}); err != nil {
		conv.Release()
		return nil, brokererr.InternalFailure("could not start authentication")
	}

	spawned.Pipe.Start(conv.DeliverMessage, func(closeErr error) {
		d.Pending.RemoveByConversation(conv)
		conv.DeliverClose(closeErr)
	})

	if err := spawned.Pipe.Answer(payloadBytes); err != nil {
		conv.Release()
		return nil, brokererr.Newf(brokererr.KindInternalFailure, "could not start authentication", "write initial payload: %v", err)
	}

	return conv, nil
}

func (d *Driver) finalize(conv *conversation.Conversation, req logindriver.BeginRequest, transport *Transport, originalPassword []byte, message []byte, closeErr error) conversation.FinalizeOutcome {
	if message == nil {
		if closeErr == nil {
			closeErr = fmt.Errorf("spawn: helper closed with no response")
		}
		return conversation.FinalizeOutcome{Err: brokererr.Newf(brokererr.KindAuthenticationFailed, "Authentication failed", "helper closed: %v", closeErr)}
	}

	hr, err := logindriver.ParseHelperResponse(message)
	if err != nil {
		return conversation.FinalizeOutcome{Err: brokererr.InvalidData("invalid data")}
	}

	outcome := conversation.FinalizeOutcome{}
	if hr.GSSAPIOutput != nil {
		outcome.GSSAPIOutputPresent = true
		outcome.GSSAPIOutputHex = *hr.GSSAPIOutput
	}

	switch {
	case hr.Prompt != "":
		outcome.Prompt = &conversation.Prompt{Text: hr.Prompt, Raw: hr.Raw()}
		d.Pending.Put(conv)
		return outcome

	case hr.Error != "":
		switch hr.Error {
		case logindriver.ErrorAuthenticationFailed:
			outcome.Err = brokererr.AuthenticationFailed("Authentication failed")
		case logindriver.ErrorAuthenticationUnavailable:
			if req.Scheme == "negotiate" {
				d.GSSAPINotAvailable.Store(true)
				log.Info("gssapi reported unavailable by helper, disabling for future negotiate requests")
			}
			outcome.Err = brokererr.AuthenticationFailed("Authentication failed")
		case logindriver.ErrorPermissionDenied:
			outcome.Err = brokererr.PermissionDenied("Permission denied")
		default:
			outcome.Err = brokererr.Newf(brokererr.KindAuthenticationFailed, "Authentication failed", "helper error %q: %s", hr.Error, hr.Message)
		}
		return outcome

	case hr.User != "":
		var gssapiCreds []byte
		if hr.GSSAPICreds != "" {
			if decoded, err := hex.DecodeString(hr.GSSAPICreds); err == nil {
				gssapiCreds = decoded
			}
		}
		csrf := d.Nonces.Mint()
		creds := credentials.New(hr.User, req.Application, originalPassword, gssapiCreds, req.RemotePeer, csrf, message)
		conv.SetHelper(nil) // detach: Transport now owns the subprocess lifetime
		outcome.Credentials = creds
		outcome.Transport = transport
		return outcome

	default:
		outcome.Err = brokererr.InvalidData("invalid data")
		return outcome
	}
}
