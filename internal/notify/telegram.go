package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramSender delivers messages to a single chat via the bot API.
type TelegramSender struct {
	bot  *tele.Bot
	chat *tele.Chat
}

func NewTelegramSender(token string, chatID int64, pollTimeout time.Duration) (*TelegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: bot, chat: &tele.Chat{ID: chatID}}, nil
}

func (s *TelegramSender) Send(ctx context.Context, text string) error {
	_ = ctx // telebot manages its own request timeouts
	_, err := s.bot.Send(s.chat, text)
	return err
}
