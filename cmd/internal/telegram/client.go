package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"evacom/cmd/internal/verify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// botAPI is the subset of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Client is the Bot API connection shared by ChatCapabilities and Bot.
type Client struct {
	api  botAPI
	self tgbotapi.User
}

// Dial authenticates the bot token and returns a Client.
func Dial(cfg Config) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: dial: %w", err)
	}
	return &Client{api: api, self: api.Self}, nil
}

// Username is the bot's @username without the leading "@".
func (c *Client) Username() string { return c.self.UserName }

func (c *Client) member(chatID, userID int64) (tgbotapi.ChatMember, error) {
	m, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		if isUserNotFound(err) {
			return tgbotapi.ChatMember{Status: statusLeft}, nil
		}
		return tgbotapi.ChatMember{}, classify(err)
	}
	return m, nil
}

// Chat member statuses as reported by getChatMember.
const (
	statusCreator       = "creator"
	statusAdministrator = "administrator"
	statusMember        = "member"
	statusRestricted    = "restricted"
	statusLeft          = "left"
	statusKicked        = "kicked"
)

func isPresent(m tgbotapi.ChatMember) bool {
	switch m.Status {
	case statusCreator, statusAdministrator, statusMember, statusRestricted:
		return true
	}
	return false
}

func isAdmin(m tgbotapi.ChatMember) bool {
	return m.Status == statusCreator || m.Status == statusAdministrator
}

// classify maps Bot API failures that mean "the configured chat is unusable"
// to verify.ErrMisconfigured.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == 403,
		strings.Contains(msg, "chat not found"),
		strings.Contains(msg, "not enough rights"),
		strings.Contains(msg, "chat_admin_required"),
		strings.Contains(msg, "member list is inaccessible"):
		return fmt.Errorf("%w: %s", verify.ErrMisconfigured, apiErr.Message)
	}
	return err
}

func isUserNotFound(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Message), "user not found")
}

func userKey(id int64) string { return strconv.FormatInt(id, 10) }

func parseUserKey(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("telegram: invalid user id %q", s)
	}
	return id, nil
}
