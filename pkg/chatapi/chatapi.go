// Package chatapi defines the transport boundary between relbot and the
// group-chat platform it runs against: posting messages, editing them, and
// parsing inbound callback payloads from approval buttons. The rest of
// relbot depends only on this interface, never on a specific chat SDK.
package chatapi

import (
	"context"
	"fmt"
	"strings"
)

// IncomingMessage is a normalized chat message or command.
type IncomingMessage struct {
	ChatID   int64
	UserID   int64
	Username string
	Text     string
}

// CallbackQuery is a normalized inline-button click.
type CallbackQuery struct {
	ID       string
	ChatID   int64
	UserID   int64
	Username string
	Data     string // "<action>:<workflow_id>"
}

// Action is the parsed verb of a callback's Data field.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseCallbackData splits a callback payload of the form
// "<action>:<workflow_id>" as produced by the inline keyboard relbot posts
// alongside every deployment request (spec §4.5).
func ParseCallbackData(data string) (Action, string, error) {
	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("chatapi: malformed callback data %q", data)
	}
	action := Action(parts[0])
	if action != ActionApprove && action != ActionReject {
		return "", "", fmt.Errorf("chatapi: unknown callback action %q", parts[0])
	}
	return action, parts[1], nil
}

// Button is one inline-keyboard button relbot can attach to a message.
type Button struct {
	Text string
	Data string
}

// Transport is the chat-platform boundary. A production implementation
// wraps the platform's bot API client; tests substitute a fake recording
// calls made against it.
type Transport interface {
	// PostMessage sends text (optionally with inline buttons) to chatID and
	// returns the platform message id.
	PostMessage(ctx context.Context, chatID int64, text string, buttons []Button) (int64, error)

	// EditMessage replaces the text/buttons of an existing root message.
	EditMessage(ctx context.Context, chatID, messageID int64, text string, buttons []Button) error

	// ReplyInThread posts text as a threaded reply to an existing message.
	ReplyInThread(ctx context.Context, chatID, replyToMessageID int64, text string) (int64, error)

	// SendDirectMessage sends text to a user outside any group chat,
	// used to notify the configured approver of a new request.
	SendDirectMessage(ctx context.Context, userID int64, text string) (int64, error)

	// AnswerCallback acknowledges a callback query so the platform stops
	// showing a loading indicator on the clicked button.
	AnswerCallback(ctx context.Context, callbackID, text string) error
}
