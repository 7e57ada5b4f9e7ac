package slacktransport

import (
	"github.com/slack-go/slack/slackevents"

	"github.com/c360studio/relbot/pkg/chatapi"
)

// ChatID returns the platform-neutral id for a Slack channel, registering
// it on first use.
func (t *Transport) ChatID(slackChannelID string) int64 { return t.ids.RegisterChannel(slackChannelID) }

// UserID returns the platform-neutral id for a Slack user, registering it
// on first use.
func (t *Transport) UserID(slackUserID string) int64 { return t.ids.RegisterUser(slackUserID) }

// MessageID returns the platform-neutral id for a (channel, ts) Slack
// message reference, registering it on first use.
func (t *Transport) MessageID(slackChannelID, ts string) int64 {
	return t.ids.messageID(slackChannelID, ts)
}

// TranslateMessageEvent converts a Slack message event into relbot's
// platform-neutral IncomingMessage.
func (t *Transport) TranslateMessageEvent(ev *slackevents.MessageEvent) chatapi.IncomingMessage {
	return chatapi.IncomingMessage{
		ChatID:   t.ChatID(ev.Channel),
		UserID:   t.UserID(ev.User),
		Username: ev.User,
		Text:     ev.Text,
	}
}
