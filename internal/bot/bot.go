package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"scheduler-post-bot/internal/dialogue"
)

// Handler consumes inbound messages; the dialogue engine in production.
type Handler interface {
	Handle(ctx context.Context, in dialogue.Inbound)
}

type TelegramBot struct {
	api       *tgbotapi.BotAPI
	transport *Transport
	log       logrus.FieldLogger
}

func NewBot(token string, log logrus.FieldLogger) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("could not connect to telegram: %w", err)
	}
	api.Debug = false
	return &TelegramBot{
		api:       api,
		transport: newTransport(api, api.Self.ID),
		log:       log.WithField("component", "telegram"),
	}, nil
}

// Transport is the sending side of the bot, shared with the dispatcher.
func (b *TelegramBot) Transport() *Transport {
	return b.transport
}

// Identity describes the bot account Telegram authorized.
func (b *TelegramBot) Identity() dialogue.Identity {
	self := b.api.Self
	return dialogue.Identity{
		ID:                      self.ID,
		Username:                self.UserName,
		FirstName:               self.FirstName,
		CanJoinGroups:           self.CanJoinGroups,
		CanReadAllGroupMessages: self.CanReadAllGroupMessages,
	}
}

var commandMenu = []tgbotapi.BotCommand{
	{Command: "set_channel", Description: "Link the channel to post to"},
	{Command: "channel", Description: "Check access to your channel"},
	{Command: "unset_channel", Description: "Post to this chat instead"},
	{Command: "generate_post", Description: "Write a post with AI"},
	{Command: "generate_text", Description: "Generate text and post it"},
	{Command: "generate_image", Description: "Generate an image and post it"},
	{Command: "schedule", Description: "Schedule a post"},
	{Command: "list_scheduled", Description: "List scheduled posts"},
	{Command: "cancel_scheduled", Description: "Cancel a scheduled post"},
	{Command: "history", Description: "Recent deliveries"},
	{Command: "apis", Description: "Check the AI providers"},
	{Command: "info", Description: "Bot information"},
	{Command: "test", Description: "Check that the bot answers"},
	{Command: "cancel", Description: "Abort the current step"},
	{Command: "help", Description: "Show help"},
}

// RegisterCommands publishes the command menu shown by Telegram clients.
func (b *TelegramBot) RegisterCommands() error {
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(commandMenu...)); err != nil {
		return fmt.Errorf("could not register commands: %w", err)
	}
	return nil
}

// Run polls for updates until ctx is cancelled, then waits for the messages
// already queued to be handled.
func (b *TelegramBot) Run(ctx context.Context, handler Handler) {
	b.log.Infof("Authorized on account %s", b.api.Self.UserName)

	queues := newChatQueues(func(in dialogue.Inbound) {
		handler.Handle(ctx, in)
	})
	defer queues.wait()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.log.Info("Stopped receiving updates")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if in, ok := inboundFromUpdate(update); ok {
				queues.push(in)
			}
		}
	}
}

// inboundFromUpdate keeps text and media messages and ignores edits,
// callbacks, channel posts and service messages. Media arrives with its
// caption as text, or with empty text, so an armed stage still consumes it.
func inboundFromUpdate(update tgbotapi.Update) (dialogue.Inbound, bool) {
	message := update.Message
	if message == nil || message.Chat == nil {
		return dialogue.Inbound{}, false
	}
	text := message.Text
	if text == "" {
		text = message.Caption
	}
	if text == "" && !hasMedia(message) {
		return dialogue.Inbound{}, false
	}

	in := dialogue.Inbound{ChatID: message.Chat.ID, Text: text}
	if message.From != nil {
		in.SenderID = message.From.ID
	}
	if message.IsCommand() {
		in.Command = message.Command()
		in.Args = message.CommandArguments()
	}
	return in, true
}

func hasMedia(m *tgbotapi.Message) bool {
	return len(m.Photo) > 0 || m.Document != nil || m.Video != nil ||
		m.Animation != nil || m.Sticker != nil || m.Voice != nil || m.Audio != nil
}
