package notify

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// TelegramSender delivers alerts to a single Telegram chat. The bot is used
// send-only; no poller is started.
type TelegramSender struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, chatID: chatID}, nil
}

func (t *TelegramSender) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, text, &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	return err
}
