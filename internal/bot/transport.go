package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"scheduler-post-bot/internal/post"
)

// botAPI is the part of *tgbotapi.BotAPI the bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Transport sends posts and status messages through the Bot API.
type Transport struct {
	api    botAPI
	selfID int64
}

func newTransport(api botAPI, selfID int64) *Transport {
	return &Transport{api: api, selfID: selfID}
}

func (t *Transport) SendText(ctx context.Context, dest post.Destination, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var msg tgbotapi.MessageConfig
	if dest.Username != "" {
		msg = tgbotapi.NewMessageToChannel(dest.Username, text)
	} else {
		msg = tgbotapi.NewMessage(dest.ChatID, text)
	}
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("could not send message to %s: %w", dest, err)
	}
	return nil
}

func (t *Transport) SendPhoto(ctx context.Context, dest post.Destination, image []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file := tgbotapi.FileBytes{Name: "post.png", Bytes: image}
	var photo tgbotapi.PhotoConfig
	if dest.Username != "" {
		photo = tgbotapi.NewPhotoToChannel(dest.Username, file)
	} else {
		photo = tgbotapi.NewPhoto(dest.ChatID, file)
	}
	photo.Caption = caption
	if _, err := t.api.Send(photo); err != nil {
		return fmt.Errorf("could not send photo to %s: %w", dest, err)
	}
	return nil
}

// AdminStatus looks the bot itself up in the member list of dest.
func (t *Transport) AdminStatus(ctx context.Context, dest post.Destination) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	member, err := t.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID:             dest.ChatID,
			SuperGroupUsername: dest.Username,
			UserID:             t.selfID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("could not get chat member in %s: %w", dest, err)
	}
	return member.Status, nil
}
