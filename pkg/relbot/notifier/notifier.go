// Package notifier implements C8: the three primitives every other
// component uses to talk to chat — post a new root message, edit an
// existing root message, and reply in its thread — plus the HTML
// escaping relbot applies to any value that came from a user or an
// external system before it reaches chat.
package notifier

import (
	"context"
	"fmt"
	"html"

	"github.com/c360studio/relbot/pkg/chatapi"
)

// Notifier sends chat notifications through a chatapi.Transport.
type Notifier struct {
	transport chatapi.Transport
}

// New builds a Notifier over transport.
func New(transport chatapi.Transport) *Notifier {
	return &Notifier{transport: transport}
}

// Escape HTML-escapes untrusted text (usernames, branch names, SSO/Jenkins
// free-text fields) before it is interpolated into a message. A plain
// html.EscapeString call is sufficient here: relbot never parses chat
// markup back out, it only ever builds outbound strings.
func Escape(s string) string { return html.EscapeString(s) }

// PostRoot sends a brand-new message to a group chat and returns its id.
func (n *Notifier) PostRoot(ctx context.Context, chatID int64, text string, buttons []chatapi.Button) (int64, error) {
	id, err := n.transport.PostMessage(ctx, chatID, text, buttons)
	if err != nil {
		return 0, fmt.Errorf("notifier: post root: %w", err)
	}
	return id, nil
}

// EditRoot replaces the text/buttons of a previously posted root message,
// used when a workflow is approved/rejected to remove its action buttons.
func (n *Notifier) EditRoot(ctx context.Context, chatID, messageID int64, text string, buttons []chatapi.Button) error {
	if err := n.transport.EditMessage(ctx, chatID, messageID, text, buttons); err != nil {
		return fmt.Errorf("notifier: edit root: %w", err)
	}
	return nil
}

// ReplyThread posts a progress update threaded under a root message — the
// primitive the SSO and Jenkins orchestrators use for every poll result.
func (n *Notifier) ReplyThread(ctx context.Context, chatID, rootMessageID int64, text string) error {
	if _, err := n.transport.ReplyInThread(ctx, chatID, rootMessageID, text); err != nil {
		return fmt.Errorf("notifier: reply thread: %w", err)
	}
	return nil
}

// ReplyAllThreads posts the same text under every group message a workflow
// was posted to (a workflow may be posted to more than one group, spec §4.5).
func (n *Notifier) ReplyAllThreads(ctx context.Context, groupMessages map[int64]int64, text string) error {
	var firstErr error
	for chatID, messageID := range groupMessages {
		if err := n.ReplyThread(ctx, chatID, messageID, text); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
