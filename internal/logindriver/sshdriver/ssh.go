// Package sshdriver implements the remote-SSH login driver (spec.md
// §4.4.2): it authenticates a Basic user/password pair against a real SSH
// server (by default the loopback host, for "SSH-verifies-the-local-
// account" deployments) instead of spawning a local helper, using
// golang.org/x/crypto/ssh as the transport. Chosen for Basic when
// "loopback SSH" mode is on, or when a scheme's configured action is
// remote-login-ssh.
package sshdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/webadmin-gateway/authbroker/internal/brokererr"
	"github.com/webadmin-gateway/authbroker/internal/conversation"
	"github.com/webadmin-gateway/authbroker/internal/credentials"
	"github.com/webadmin-gateway/authbroker/internal/headercodec"
	"github.com/webadmin-gateway/authbroker/internal/logging"
	"github.com/webadmin-gateway/authbroker/internal/logindriver"
	"github.com/webadmin-gateway/authbroker/internal/noncegen"
	"github.com/webadmin-gateway/authbroker/internal/secmem"
)

var log = logging.L("logindriver.sshdriver")

// DefaultHost and DefaultPort are used when a scheme's configuration names
// no host/port (spec.md §4.4.2: "the configured host (default 127.0.0.1)").
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 22
)

// Driver is the remote-SSH login strategy.
type Driver struct {
	Pending *conversation.PendingTable
	Nonces  *noncegen.Generator
}

func New(pending *conversation.PendingTable, nonces *noncegen.Generator) *Driver {
	return &Driver{Pending: pending, Nonces: nonces}
}

// roundMessage is the internal wire shape ferried through
// Conversation.DeliverMessage between the SSH-dial goroutine and Finalize —
// kept JSON-shaped, like every other driver's helper round, so Conversation
// stays protocol-agnostic.
type roundMessage struct {
	Prompt       *promptText `json:"prompt,omitempty"`
	Done         bool        `json:"done,omitempty"`
	ErrorKind    string      `json:"errorKind,omitempty"` // "failed", "terminated", "other"
	ErrorDetail  string      `json:"errorDetail,omitempty"`
	NotSupported bool        `json:"notSupported,omitempty"`
}

type promptText struct {
	Text string `json:"text"`
	Echo bool   `json:"echo"`
}

// answerPipe implements conversation.Pipe for the SSH driver: Answer
// delivers the client's resumed reply to whichever keyboard-interactive
// challenge is currently blocked waiting for one.
type answerPipe struct {
	answers chan []byte
}

func (p *answerPipe) Answer(data []byte) error {
	select {
	case p.answers <- data:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("sshdriver: no pending challenge accepted the answer")
	}
}

// transport wraps the authenticated *ssh.Client as the session's post-login
// bridge and as the Conversation's Helper.
type transport struct {
	client *ssh.Client
}

func (t *transport) Destroy() {
	_ = t.client.Close()
}

// Begin implements logindriver.Driver. Only the Basic scheme is accepted;
// callers (the dispatcher) are expected to only route Basic here.
func (d *Driver) Begin(ctx context.Context, req logindriver.BeginRequest, onCompletion func(conversation.FinalizeOutcome)) (*conversation.Conversation, error) {
	if req.Scheme != "basic" {
		return nil, brokererr.AuthenticationFailed("Authentication failed")
	}

	payload, ok := headercodec.TakePayload(req.Headers, true)
	if !ok {
		return nil, brokererr.InvalidData("no authorization payload")
	}

	user, rawPassword, ok := headercodec.ParseBasic(payload.Bytes)
	if !ok {
		payload.Release()
		return nil, brokererr.InvalidData("invalid data")
	}
	// password aliases payload's backing array; clone it before releasing
	// (zeroing) the payload, since the dial goroutine started below reads it
	// concurrently with this function returning.
	password := append([]byte(nil), rawPassword...)
	payload.Release()

	csrf := d.Nonces.Mint()
	creds := credentials.New(user, req.Application, password, nil, req.RemotePeer, csrf, nil)

	host := req.SchemeConfig.Host
	if host == "" {
		host = DefaultHost
	}
	port := req.SchemeConfig.Port
	if port == 0 {
		port = DefaultPort
	}

	id := d.Nonces.Mint()
	pipe := &answerPipe{answers: make(chan []byte, 1)}
	conv := conversation.New(id, conversation.TagSSH, nil)
	conv.Pipe = pipe

	conv.Finalize = func(message []byte, closeErr error) conversation.FinalizeOutcome {
		return d.finalize(conv, creds, message, closeErr)
	}

	if err := conv.Register(func(message []byte, closeErr error) {
		onCompletion(conv.Finalize(message, closeErr))
	}); err != nil {
		conv.Release()
		return nil, brokererr.InternalFailure("could not start authentication")
	}

	go d.dial(conv, pipe, host, port, user, password)

	return conv, nil
}

func (d *Driver) dial(conv *conversation.Conversation, pipe *answerPipe, host string, port int, user string, password []byte) {
	defer secmem.ZeroBytes(password)
	notSupported := false

	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(string(password)),
			ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				if len(questions) == 0 {
					return nil, nil
				}
				echo := len(echos) > 0 && echos[0]
				deliver(conv, roundMessage{Prompt: &promptText{Text: questions[0], Echo: echo}})
				select {
				case answer := <-pipe.answers:
					return []string{string(answer)}, nil
				case <-time.After(5 * time.Minute):
					return nil, fmt.Errorf("sshdriver: no resume within the conversation timeout")
				}
			}),
		},
		// Loopback-SSH deployments trust the local host implicitly; this
		// driver verifies a user's own credentials, not the server identity.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		d.Pending.RemoveByConversation(conv)
		msg := err.Error()
		switch {
		case strings.Contains(msg, "unable to authenticate"):
			if strings.Contains(msg, "no supported methods remain") && !strings.Contains(msg, "password") {
				notSupported = true
			}
			deliver(conv, roundMessage{ErrorKind: "failed", ErrorDetail: msg, NotSupported: notSupported})
		default:
			deliver(conv, roundMessage{ErrorKind: "other", ErrorDetail: msg})
		}
		return
	}

	conv.SetHelper(&transport{client: client})
	deliver(conv, roundMessage{Done: true})
}

func deliver(conv *conversation.Conversation, msg roundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error("failed to marshal internal ssh round message", "error", err)
		conv.DeliverClose(err)
		return
	}
	conv.DeliverMessage(data)
}

func (d *Driver) finalize(conv *conversation.Conversation, creds *credentials.Credentials, message []byte, closeErr error) conversation.FinalizeOutcome {
	if message == nil {
		detail := "connection closed"
		if closeErr != nil {
			detail = closeErr.Error()
		}
		return conversation.FinalizeOutcome{Err: brokererr.Newf(brokererr.KindAuthenticationFailed, "Authentication failed", "ssh: %s", detail)}
	}

	var rm roundMessage
	if err := json.Unmarshal(message, &rm); err != nil {
		return conversation.FinalizeOutcome{Err: brokererr.InvalidData("invalid data")}
	}

	if rm.Prompt != nil {
		prompt := &conversation.Prompt{Text: rm.Prompt.Text, Raw: map[string]any{"prompt": rm.Prompt.Text, "echo": rm.Prompt.Echo}}
		d.Pending.Put(conv)
		return conversation.FinalizeOutcome{Prompt: prompt}
	}

	if rm.Done {
		// The *ssh.Client was already attached via conv.SetHelper during dial;
		// fetch it back off the conversation so Finalize can hand it out as
		// the session transport without a second shared field.
		return conversation.FinalizeOutcome{Credentials: creds, Transport: conv.DetachHelper()}
	}

	switch rm.ErrorKind {
	case "failed":
		if rm.NotSupported {
			return conversation.FinalizeOutcome{Err: brokererr.AuthenticationFailed("Authentication method not supported")}
		}
		return conversation.FinalizeOutcome{Err: brokererr.AuthenticationFailed("Authentication failed")}
	case "terminated":
		return conversation.FinalizeOutcome{Err: brokererr.Newf(brokererr.KindAuthenticationFailed, "Authentication failed", "ssh transport terminated")}
	default:
		return conversation.FinalizeOutcome{Err: brokererr.Newf(brokererr.KindInternalFailure, "Authentication failed", "ssh: %s", rm.ErrorDetail)}
	}
}
