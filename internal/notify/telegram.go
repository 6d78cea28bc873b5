package notify

import (
	"context"
	"errors"
	"fmt"

	"studiobook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts a copy of every notification to the manager chats.
type TelegramNotifier struct {
	bot     Sender
	chatIDs []int64
}

func NewTelegramNotifier(token string, chatIDs []int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramNotifierWithSender(bot, chatIDs), nil
}

func NewTelegramNotifierWithSender(bot Sender, chatIDs []int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatIDs: chatIDs}
}

func (n *TelegramNotifier) Notify(ctx context.Context, msg models.Notification) error {
	text := fmt.Sprintf("%s\n\n%s", msg.Subject, msg.Body)
	if msg.To != "" {
		text += "\nEmail: " + msg.To
	}

	var errs []error
	for _, chatID := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := tgbotapi.NewMessage(chatID, text)
		m.DisableWebPagePreview = true
		if _, err := n.bot.Send(m); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}
