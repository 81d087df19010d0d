// Package logindriver defines the shared contract the three login
// strategies (spawn, remote-SSH, none — spec.md §4.4) implement, plus the
// wire shape of helper responses. The set of drivers is closed: a small Go
// interface with exactly three implementations constructed once at broker
// startup, matching spec.md §9's guidance to replace the source's
// inheritable-object-with-virtual-methods pattern with a closed enum of
// strategies rather than runtime plugin dispatch.
package logindriver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/webadmin-gateway/authbroker/internal/config"
	"github.com/webadmin-gateway/authbroker/internal/conversation"
)

// BeginRequest carries everything a driver needs to start a conversation.
type BeginRequest struct {
	Application string
	Scheme      string
	Headers     http.Header
	RemotePeer  string
	SchemeConfig config.SchemeConfig
	// LoopbackSSH mirrors the global [WebService] toggle that routes Basic
	// through the remote-SSH driver instead of spawn (spec.md §4.4.2).
	LoopbackSSH bool
}

// Driver is the begin/finalize pair every login strategy implements
// (spec.md §4.4). onCompletion is invoked by the driver's own machinery
// (the helper's next message, or its close) exactly once per conversation
// round; the broker blocks on it as the conversation's suspension point.
type Driver interface {
	Begin(ctx context.Context, req BeginRequest, onCompletion func(conversation.FinalizeOutcome)) (*conversation.Conversation, error)
}

// HelperResponse is the JSON object a helper sends back over the auth
// pipe, in any of its three shapes (spec.md §6): a prompt, a success
// ("user" present), or a failure ("error" present). All fields may be
// present or absent depending on which shape this round is.
type HelperResponse struct {
	Prompt       string          `json:"prompt,omitempty"`
	Error        string          `json:"error,omitempty"`
	Message      string          `json:"message,omitempty"`
	User         string          `json:"user,omitempty"`
	GSSAPICreds  string          `json:"gssapi-creds,omitempty"`
	GSSAPIOutput *string         `json:"gssapi-output,omitempty"`
	LoginData    json.RawMessage `json:"login-data,omitempty"`

	raw map[string]any
}

// ParseHelperResponse decodes one helper round. raw is kept for prompts
// that carry extra fields beyond "prompt" (spec.md §4.4.1: "prompt field
// present -> ... set *out_prompt to the JSON object").
func ParseHelperResponse(data []byte) (*HelperResponse, error) {
	var hr HelperResponse
	if err := json.Unmarshal(data, &hr); err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err == nil {
		hr.raw = raw
	}
	return &hr, nil
}

// Raw returns the full decoded JSON object, used to build the Prompt's Raw
// field.
func (hr *HelperResponse) Raw() map[string]any {
	return hr.raw
}

// Known failure reasons a helper can report in its "error" field
// (spec.md §4.4.1 step 7 decision tree).
const (
	ErrorAuthenticationFailed    = "authentication-failed"
	ErrorAuthenticationUnavailable = "authentication-unavailable"
	ErrorPermissionDenied        = "permission-denied"
)
