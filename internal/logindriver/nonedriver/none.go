// Package nonedriver implements the null login strategy (spec.md §4.4.3):
// it unconditionally fails, for schemes explicitly configured with action
// "none" and as the dispatcher's fallback for any action string it does not
// recognize.
package nonedriver

import (
	"context"

	"github.com/webadmin-gateway/authbroker/internal/brokererr"
	"github.com/webadmin-gateway/authbroker/internal/conversation"
	"github.com/webadmin-gateway/authbroker/internal/logindriver"
)

// Driver always completes with "authentication disabled". It holds no state.
type Driver struct{}

func New() *Driver { return &Driver{} }

// Begin never returns a live Conversation: there is nothing to wait on, so
// it reports the failure directly through the error return rather than
// constructing a Conversation just to finalize it immediately.
func (d *Driver) Begin(ctx context.Context, req logindriver.BeginRequest, onCompletion func(conversation.FinalizeOutcome)) (*conversation.Conversation, error) {
	return nil, brokererr.AuthenticationFailed("authentication disabled")
}
