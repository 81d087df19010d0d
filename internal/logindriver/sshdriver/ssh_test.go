package sshdriver

import (
	"testing"

	"github.com/webadmin-gateway/authbroker/internal/conversation"
	"github.com/webadmin-gateway/authbroker/internal/credentials"
	"github.com/webadmin-gateway/authbroker/internal/noncegen"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	nonces, err := noncegen.New()
	if err != nil {
		t.Fatalf("noncegen.New: %v", err)
	}
	return New(conversation.NewPendingTable(), nonces)
}

func TestFinalizePromptParksConversation(t *testing.T) {
	d := newTestDriver(t)
	conv := conversation.New("conv-1", conversation.TagSSH, nil)
	creds := credentials.New("alice", "cockpit", []byte("pw"), nil, "127.0.0.1", "csrf", nil)

	outcome := d.finalize(conv, creds, []byte(`{"prompt":{"text":"Verification code:","echo":false}}`), nil)

	if outcome.Prompt == nil || outcome.Prompt.Text != "Verification code:" {
		t.Fatalf("expected a prompt outcome, got %+v", outcome)
	}
	if _, found := d.Pending.Get("conv-1"); !found {
		t.Error("a prompt round must park the conversation in Pending")
	}
}

func TestFinalizeDoneProducesCredentialsAndHelper(t *testing.T) {
	d := newTestDriver(t)
	conv := conversation.New("conv-2", conversation.TagSSH, nil)
	conv.SetHelper(&transport{})
	creds := credentials.New("alice", "cockpit", []byte("pw"), nil, "127.0.0.1", "csrf", nil)

	outcome := d.finalize(conv, creds, []byte(`{"done":true}`), nil)

	if outcome.Err != nil {
		t.Fatalf("unexpected error: %v", outcome.Err)
	}
	if outcome.Credentials != creds {
		t.Error("expected the outcome to carry the original credentials through")
	}
	if outcome.Transport == nil {
		t.Error("expected the attached ssh client to be detached as the transport")
	}
}

func TestFinalizeFailedAuthentication(t *testing.T) {
	d := newTestDriver(t)
	conv := conversation.New("conv-3", conversation.TagSSH, nil)
	creds := credentials.New("alice", "cockpit", []byte("pw"), nil, "127.0.0.1", "csrf", nil)

	outcome := d.finalize(conv, creds, []byte(`{"errorKind":"failed"}`), nil)

	if outcome.Err == nil {
		t.Fatal("expected an error outcome")
	}
}

func TestFinalizeNotSupportedAuthMethod(t *testing.T) {
	d := newTestDriver(t)
	conv := conversation.New("conv-4", conversation.TagSSH, nil)
	creds := credentials.New("alice", "cockpit", []byte("pw"), nil, "127.0.0.1", "csrf", nil)

	outcome := d.finalize(conv, creds, []byte(`{"errorKind":"failed","notSupported":true}`), nil)

	if outcome.Err == nil {
		t.Fatal("expected an error outcome for an unsupported auth method")
	}
}

func TestFinalizeNoMessageIsConnectionClosed(t *testing.T) {
	d := newTestDriver(t)
	conv := conversation.New("conv-5", conversation.TagSSH, nil)
	creds := credentials.New("alice", "cockpit", []byte("pw"), nil, "127.0.0.1", "csrf", nil)

	outcome := d.finalize(conv, creds, nil, nil)

	if outcome.Err == nil {
		t.Fatal("expected an error when the dial goroutine delivers no message")
	}
}

func TestFinalizeMalformedJSONIsInvalidData(t *testing.T) {
	d := newTestDriver(t)
	conv := conversation.New("conv-6", conversation.TagSSH, nil)
	creds := credentials.New("alice", "cockpit", []byte("pw"), nil, "127.0.0.1", "csrf", nil)

	outcome := d.finalize(conv, creds, []byte(`not json`), nil)

	if outcome.Err == nil {
		t.Fatal("expected an error for a malformed round message")
	}
}
