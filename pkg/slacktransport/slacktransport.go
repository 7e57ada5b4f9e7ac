// Package slacktransport is the concrete chatapi.Transport backing relbot
// in production: a thin adapter over github.com/slack-go/slack, chosen
// from the wider retrieval pack (jordigilh-kubernaut/go.mod carries it as
// a direct dependency) since the teacher itself has no chat SDK of its
// own — commands/approve.go talks to an internal "agentic" message bus,
// not a concrete chat platform.
package slacktransport

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/c360studio/relbot/pkg/chatapi"
)

// Transport adapts *slack.Client to chatapi.Transport. Channel and user
// ids are passed through chatapi as int64 for platform neutrality; Slack's
// own ids are strings, so this adapter keeps a bidirectional mapping
// populated as ids are seen.
type Transport struct {
	client *slack.Client
	ids    *idMap
}

// New builds a Transport over an authenticated Slack client.
func New(client *slack.Client) *Transport {
	return &Transport{client: client, ids: newIDMap()}
}

func (t *Transport) PostMessage(ctx context.Context, chatID int64, text string, buttons []chatapi.Button) (int64, error) {
	channel := t.ids.channel(chatID)
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(buttons) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(slack.NewActionBlock("relbot_actions", actionButtons(buttons)...)))
	}
	_, ts, err := t.client.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return 0, fmt.Errorf("slacktransport: post message: %w", err)
	}
	return t.ids.messageID(channel, ts), nil
}

func (t *Transport) EditMessage(ctx context.Context, chatID, messageID int64, text string, buttons []chatapi.Button) error {
	channel := t.ids.channel(chatID)
	ts := t.ids.timestamp(messageID)
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(buttons) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(slack.NewActionBlock("relbot_actions", actionButtons(buttons)...)))
	} else {
		opts = append(opts, slack.MsgOptionBlocks())
	}
	_, _, _, err := t.client.UpdateMessageContext(ctx, channel, ts, opts...)
	if err != nil {
		return fmt.Errorf("slacktransport: edit message: %w", err)
	}
	return nil
}

func (t *Transport) ReplyInThread(ctx context.Context, chatID, replyToMessageID int64, text string) (int64, error) {
	channel := t.ids.channel(chatID)
	threadTS := t.ids.timestamp(replyToMessageID)
	_, ts, err := t.client.PostMessageContext(ctx, channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		return 0, fmt.Errorf("slacktransport: reply in thread: %w", err)
	}
	return t.ids.messageID(channel, ts), nil
}

func (t *Transport) SendDirectMessage(ctx context.Context, userID int64, text string) (int64, error) {
	slackUser := t.ids.slackUser(userID)
	_, _, channel, err := t.client.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{slackUser}})
	if err != nil {
		return 0, fmt.Errorf("slacktransport: open dm: %w", err)
	}
	_, ts, err := t.client.PostMessageContext(ctx, channel.ID, slack.MsgOptionText(text, false))
	if err != nil {
		return 0, fmt.Errorf("slacktransport: send dm: %w", err)
	}
	return t.ids.messageID(channel.ID, ts), nil
}

func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	// Slack's interaction model acknowledges button clicks via the HTTP
	// response to the interaction callback itself, handled at the
	// socket-mode/event-loop layer (see cmd/relbotd), not through a
	// separate API call. This is a deliberate no-op for that model.
	return nil
}

func actionButtons(buttons []chatapi.Button) []slack.BlockElement {
	elems := make([]slack.BlockElement, 0, len(buttons))
	for _, b := range buttons {
		elems = append(elems, slack.NewButtonBlockElement(b.Data, b.Data, slack.NewTextBlockObject(slack.PlainTextType, b.Text, false, false)))
	}
	return elems
}
