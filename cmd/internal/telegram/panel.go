package telegram

import (
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback data of the panel buttons.
const (
	callbackLink   = "evacom:panel:link"
	callbackVerify = "evacom:panel:verify"
)

func panelMarkup() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("LINK", callbackLink),
		tgbotapi.NewInlineKeyboardButtonData("VERIFY", callbackVerify),
	))
}

// upsertPanel edits the pinned panel in place when the bot posted it,
// otherwise posts and pins a new one. It returns the panel's message ID.
func (b *Bot) upsertPanel() (int, error) {
	chat, err := b.client.api.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: b.cfg.LinkChatID},
	})
	if err != nil {
		return 0, classify(err)
	}

	if p := chat.PinnedMessage; p != nil && p.From != nil && p.From.ID == b.client.self.ID && strings.HasPrefix(p.Text, panelHeader) {
		edit := tgbotapi.NewEditMessageTextAndMarkup(b.cfg.LinkChatID, p.MessageID, panelBody, panelMarkup())
		edit.ParseMode = tgbotapi.ModeHTML
		if _, err := b.client.api.Send(edit); err != nil && !isNotModified(err) {
			return 0, classify(err)
		}
		return p.MessageID, nil
	}

	msg := tgbotapi.NewMessage(b.cfg.LinkChatID, panelBody)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = panelMarkup()
	sent, err := b.client.api.Send(msg)
	if err != nil {
		return 0, classify(err)
	}

	if _, err := b.client.api.Request(tgbotapi.PinChatMessageConfig{
		ChatID:              b.cfg.LinkChatID,
		MessageID:           sent.MessageID,
		DisableNotification: true,
	}); err != nil {
		return sent.MessageID, classify(err)
	}
	return sent.MessageID, nil
}

func isNotModified(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "message is not modified")
}
