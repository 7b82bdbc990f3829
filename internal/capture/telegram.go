package capture

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// telegramSender is the subset of *bot.Bot used for sharing.
type telegramSender interface {
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramPlatform shares results into a single Telegram chat.
type TelegramPlatform struct {
	sender telegramSender
	chatID int64
}

// NewTelegramPlatform connects a bot token to chatID. The token is not
// verified until the first share.
func NewTelegramPlatform(token string, chatID int64) (*TelegramPlatform, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is required")
	}
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, err
	}
	return &TelegramPlatform{sender: b, chatID: chatID}, nil
}

func (t *TelegramPlatform) Probe() Capabilities {
	ok := t != nil && t.sender != nil && t.chatID != 0
	return Capabilities{CanShareFiles: ok, CanShareText: ok}
}

func (t *TelegramPlatform) ShareFile(ctx context.Context, filename string, png []byte, meta Metadata) error {
	_, err := t.sender.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:  t.chatID,
		Photo:   &models.InputFileUpload{Filename: filename, Data: bytes.NewReader(png)},
		Caption: caption(meta),
	})
	return err
}

func (t *TelegramPlatform) ShareText(ctx context.Context, meta Metadata) error {
	_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   caption(meta),
	})
	return err
}

func caption(meta Metadata) string {
	if meta.Title == "" {
		return meta.Text
	}
	return meta.Title + "\n" + meta.Text
}
