package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/spf13/cobra"

	"github.com/c360studio/relbot/pkg/chatapi"
	"github.com/c360studio/relbot/pkg/relbot/approval"
	"github.com/c360studio/relbot/pkg/relbot/controlplane"
	"github.com/c360studio/relbot/pkg/relbot/conversation"
	"github.com/c360studio/relbot/pkg/slacktransport"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := newLogger()

	if slackToken == "" || slackAppTok == "" {
		return fmt.Errorf("relbotd: --slack-bot-token and --slack-app-token are required")
	}

	api := slack.New(slackToken, slack.OptionAppLevelToken(slackAppTok))
	sm := socketmode.New(api)
	transport := slacktransport.New(api)

	cp, err := controlplane.Boot(ctx, controlplane.Config{
		DBPath:      dbPath,
		NATSURL:     natsURL,
		MetricsAddr: metricsAddr,
	}, transport, logger)
	if err != nil {
		return fmt.Errorf("relbotd: boot failed: %w", err)
	}
	defer cp.Shutdown(context.Background())

	go runEventLoop(ctx, sm, transport, cp, logger)

	logger.Info("relbotd: started", "db", dbPath, "metrics_addr", metricsAddr)
	return sm.RunContext(ctx)
}

func runEventLoop(ctx context.Context, sm *socketmode.Client, transport *slacktransport.Transport, cp *controlplane.ControlPlane, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sm.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				payload, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				sm.Ack(*evt.Request)
				handleEventsAPI(ctx, payload, transport, cp, logger)
			case socketmode.EventTypeInteractive:
				callback, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				sm.Ack(*evt.Request)
				handleInteraction(ctx, callback, transport, cp, logger)
			}
		}
	}
}

func handleEventsAPI(ctx context.Context, payload slackevents.EventsAPIEvent, transport *slacktransport.Transport, cp *controlplane.ControlPlane, logger *slog.Logger) {
	inner, ok := payload.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	if inner.BotID != "" {
		return // ignore relbot's own messages
	}
	msg := transport.TranslateMessageEvent(inner)
	logger.Debug("relbotd: received message", "chat_id", msg.ChatID, "user_id", msg.UserID, "text", msg.Text)

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if text == "/cancel" {
		if err := cp.Conversation.Cancel(ctx, msg.ChatID, msg.UserID); err != nil {
			logger.Error("relbotd: cancel conversation failed", "error", err)
		}
		postView(ctx, transport, logger, msg.ChatID, conversation.View{Text: "Cancelled."})
		return
	}

	if strings.HasPrefix(text, "/") {
		command, _, _ := strings.Cut(text, " ")
		project, _, ok := cp.Config.ProjectByCommand(command)
		if !ok {
			return // not one of the configured deployment commands
		}
		_, view, err := cp.Conversation.Start(ctx, msg.ChatID, msg.UserID, msg.Username, project)
		if err != nil {
			logger.Error("relbotd: start conversation failed", "project", project, "error", err)
			return
		}
		postView(ctx, transport, logger, msg.ChatID, view)
		return
	}

	// Free text only advances a draft that is already in progress; anything
	// else (chatter unrelated to a deployment request) is left alone.
	if _, err := cp.Conversation.Get(ctx, msg.ChatID, msg.UserID); err != nil {
		return
	}
	_, view, result, err := cp.Conversation.Text(ctx, msg.ChatID, msg.UserID, text)
	if err != nil {
		logger.Error("relbotd: conversation text failed", "error", err)
		return
	}
	postView(ctx, transport, logger, msg.ChatID, view)
	finishConversation(ctx, transport, cp, logger, msg.UserID, msg.Username, result)
}

func handleInteraction(ctx context.Context, callback slack.InteractionCallback, transport *slacktransport.Transport, cp *controlplane.ControlPlane, logger *slog.Logger) {
	if len(callback.ActionCallback.BlockActions) == 0 {
		return
	}
	action := callback.ActionCallback.BlockActions[0]
	chatID := transport.ChatID(callback.Channel.ID)
	userID := transport.UserID(callback.User.ID)

	verb, _, _ := strings.Cut(action.Value, ":")
	if verb == string(chatapi.ActionApprove) || verb == string(chatapi.ActionReject) {
		cb := chatapi.CallbackQuery{
			ID:       callback.CallbackID,
			ChatID:   chatID,
			UserID:   userID,
			Username: callback.User.Name,
			Data:     action.Value,
		}
		if err := cp.Approval.HandleClick(ctx, transport, cb); err != nil {
			if _, ok := err.(*approval.ErrPermissionDenied); ok {
				logger.Warn("relbotd: permission denied on approval click", "user_id", cb.UserID)
				return
			}
			logger.Error("relbotd: handle approval click failed", "error", err)
		}
		return
	}

	_, view, result, err := cp.Conversation.Callback(ctx, chatID, userID, action.Value)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			_ = transport.AnswerCallback(ctx, callback.CallbackID, "This request has expired.")
			return
		}
		logger.Error("relbotd: conversation callback failed", "error", err)
		_ = transport.AnswerCallback(ctx, callback.CallbackID, "Something went wrong.")
		return
	}
	_ = transport.AnswerCallback(ctx, callback.CallbackID, "")
	messageID := transport.MessageID(callback.Channel.ID, callback.Message.Timestamp)
	if err := transport.EditMessage(ctx, chatID, messageID, view.Text, view.Buttons); err != nil {
		logger.Error("relbotd: edit conversation message failed", "error", err)
	}
	finishConversation(ctx, transport, cp, logger, userID, callback.User.Name, result)
}

func postView(ctx context.Context, transport *slacktransport.Transport, logger *slog.Logger, chatID int64, view conversation.View) {
	if _, err := transport.PostMessage(ctx, chatID, view.Text, view.Buttons); err != nil {
		logger.Error("relbotd: post conversation message failed", "error", err)
	}
}

// finishConversation posts the completed draft to the approval dispatcher
// once Callback/Text returns a non-nil Result.
func finishConversation(ctx context.Context, transport *slacktransport.Transport, cp *controlplane.ControlPlane, logger *slog.Logger, userID int64, username string, result *conversation.Result) {
	if result == nil {
		return
	}
	if _, err := cp.Approval.PostForApproval(ctx, transport, approval.Request{
		Project:        result.Project,
		UserID:         userID,
		Username:       username,
		SubmissionData: result.SubmissionData,
		TemplateType:   result.TemplateType,
	}); err != nil {
		logger.Error("relbotd: post for approval failed", "error", err)
	}
}
