package telegram

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"evacom/cmd/internal/verify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"
)

// LinkService is the verification core as seen by the bot.
type LinkService interface {
	Link(ctx context.Context, userID string, now time.Time) (verify.Issued, error)
	Verify(ctx context.Context, userID, raw string, now time.Time) (verify.Grant, error)
}

// ChatGuard answers the link-chat membership questions the bot asks
// before serving a user.
type ChatGuard interface {
	InLinkChat(userID int64) (bool, error)
	IsLinkChatAdmin(userID int64) (bool, error)
}

// Bot receives updates by long polling and routes them to the LinkService.
type Bot struct {
	client  *Client
	svc     LinkService
	guard   ChatGuard
	cfg     Config
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewBot constructs a Bot. metrics may be nil.
func NewBot(client *Client, svc LinkService, guard ChatGuard, cfg Config, log *slog.Logger, metrics *Metrics) *Bot {
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		client:  client,
		svc:     svc,
		guard:   guard,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run polls for updates until ctx is done. Each update is handled in its own
// goroutine, at most cfg.Workers at a time.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout
	updates := b.client.api.GetUpdatesChan(u)

	var g errgroup.Group
	g.SetLimit(b.cfg.Workers)

	b.log.Info("telegram.start", "bot", b.client.Username(), "link_chat_id", b.cfg.LinkChatID)
	for {
		select {
		case <-ctx.Done():
			b.client.api.StopReceivingUpdates()
			_ = g.Wait()
			b.log.Info("telegram.stop")
			return nil
		case upd, ok := <-updates:
			if !ok {
				_ = g.Wait()
				return nil
			}
			g.Go(func() error {
				b.handle(ctx, upd)
				return nil
			})
		}
	}
}

func (b *Bot) handle(parent context.Context, upd tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(parent, b.cfg.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			b.metrics.recovered()
			b.log.Error("telegram.update.panic", "update_id", upd.UpdateID, "panic", r, "stack", string(debug.Stack()))
			b.replyInternal(upd)
		}
	}()

	switch {
	case upd.CallbackQuery != nil:
		b.metrics.update("callback")
		b.onCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		b.metrics.update("message")
		b.onMessage(ctx, upd.Message)
	default:
		b.metrics.update("ignored")
	}
}

func (b *Bot) onMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.From.IsBot || msg.Chat == nil {
		return
	}
	chat := msg.Chat

	if !msg.IsCommand() {
		if chat.IsPrivate() && b.isVerifyReply(msg) {
			if b.allowed(chat.ID, msg.From.ID) {
				b.doVerify(ctx, chat.ID, msg.From.ID, msg.Text)
			}
		}
		return
	}

	cmd := strings.ToLower(msg.Command())
	if !knownCommand(cmd) {
		return
	}
	switch {
	case chat.IsPrivate():
		b.onPrivateCommand(ctx, msg, cmd)
	case chat.ID == b.cfg.LinkChatID:
		b.onLinkChatCommand(msg, cmd)
	default:
		b.send(chat.ID, textNotLinkChat)
	}
}

func knownCommand(cmd string) bool {
	switch cmd {
	case "start", "help", "link", "verify", "panel":
		return true
	}
	return false
}

func (b *Bot) onPrivateCommand(ctx context.Context, msg *tgbotapi.Message, cmd string) {
	chatID, userID := msg.Chat.ID, msg.From.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch cmd {
	case "start":
		if args != "verify" {
			b.send(chatID, textHelp)
			return
		}
		if b.allowed(chatID, userID) {
			b.promptVerify(chatID)
		}
	case "help":
		b.send(chatID, textHelp)
	case "link":
		if b.allowed(chatID, userID) {
			b.doLink(ctx, chatID, userID)
		}
	case "verify":
		if !b.allowed(chatID, userID) {
			return
		}
		if args == "" {
			b.promptVerify(chatID)
			return
		}
		b.doVerify(ctx, chatID, userID, args)
	case "panel":
		b.send(chatID, textPanelWhere)
	}
}

func (b *Bot) onLinkChatCommand(msg *tgbotapi.Message, cmd string) {
	if cmd != "panel" {
		b.send(msg.Chat.ID, textGroupHint)
		return
	}

	admin, err := b.guard.IsLinkChatAdmin(msg.From.ID)
	if err != nil {
		b.log.Warn("telegram.panel.admin_check.fail", "user_id", msg.From.ID, "err", err)
		b.send(msg.Chat.ID, renderError(err))
		return
	}
	if !admin {
		b.send(msg.Chat.ID, textPanelAdminOnly)
		return
	}

	id, err := b.upsertPanel()
	if err != nil {
		b.log.Error("telegram.panel.fail", "err", err)
		b.send(msg.Chat.ID, renderError(err))
		return
	}
	b.log.Info("telegram.panel.updated", "message_id", id, "by", msg.From.ID)
	b.send(msg.Chat.ID, textPanelUpdated)
}

func (b *Bot) onCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil {
		return
	}
	if cq.Message == nil || cq.Message.Chat == nil || cq.Message.Chat.ID != b.cfg.LinkChatID {
		b.alert(cq.ID, textNotLinkChat)
		return
	}

	switch cq.Data {
	case callbackLink:
		out, err := b.svc.Link(ctx, userKey(cq.From.ID), b.now())
		if err != nil {
			b.alert(cq.ID, b.failText("link", cq.From.ID, err))
			return
		}
		b.alert(cq.ID, renderIssued(out))
	case callbackVerify:
		b.answer(tgbotapi.CallbackConfig{CallbackQueryID: cq.ID, URL: b.startURL("verify")})
	default:
		b.answer(tgbotapi.NewCallback(cq.ID, ""))
	}
}

func (b *Bot) doLink(ctx context.Context, chatID, userID int64) {
	out, err := b.svc.Link(ctx, userKey(userID), b.now())
	if err != nil {
		b.send(chatID, b.failText("link", userID, err))
		return
	}
	b.send(chatID, renderIssued(out))
}

func (b *Bot) doVerify(ctx context.Context, chatID, userID int64, raw string) {
	grant, err := b.svc.Verify(ctx, userKey(userID), raw, b.now())
	if err != nil {
		b.send(chatID, b.failText("verify", userID, err))
		return
	}
	b.send(chatID, renderGranted(grant))
}

// allowed checks link-chat membership and answers the user when it fails.
func (b *Bot) allowed(chatID, userID int64) bool {
	ok, err := b.guard.InLinkChat(userID)
	if err != nil {
		b.send(chatID, b.failText("guard", userID, err))
		return false
	}
	if !ok {
		b.send(chatID, textNotMember)
	}
	return ok
}

func (b *Bot) failText(op string, userID int64, err error) string {
	text := renderError(err)
	if text == textInternal || text == textMisconfigured {
		b.log.Error("telegram."+op+".fail", "user_id", userID, "err", err)
	}
	return text
}

func (b *Bot) promptVerify(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, textVerifyPrompt)
	msg.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, InputFieldPlaceholder: textVerifyField}
	if _, err := b.client.api.Send(msg); err != nil {
		b.log.Warn("telegram.send.fail", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) isVerifyReply(msg *tgbotapi.Message) bool {
	r := msg.ReplyToMessage
	return r != nil && r.From != nil && r.From.ID == b.client.self.ID && r.Text == textVerifyPrompt
}

func (b *Bot) startURL(payload string) string {
	return "https://t.me/" + b.client.Username() + "?start=" + payload
}

func (b *Bot) replyInternal(upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		b.alert(upd.CallbackQuery.ID, textInternal)
	case upd.Message != nil && upd.Message.Chat != nil:
		b.send(upd.Message.Chat.ID, textInternal)
	}
}

func (b *Bot) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.client.api.Send(msg); err != nil {
		b.log.Warn("telegram.send.fail", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) alert(callbackID, text string) {
	b.answer(tgbotapi.NewCallbackWithAlert(callbackID, text))
}

func (b *Bot) answer(cfg tgbotapi.CallbackConfig) {
	if _, err := b.client.api.Request(cfg); err != nil {
		b.log.Warn("telegram.callback.fail", "err", err)
	}
}
