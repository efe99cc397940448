package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"evacom/cmd/internal/verify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ChatCapabilities implements verify.Capabilities on top of chat membership.
type ChatCapabilities struct {
	client *Client
	cfg    Config
	now    func() time.Time
}

var _ verify.Capabilities = (*ChatCapabilities)(nil)

// NewCapabilities constructs ChatCapabilities for cfg.AuthorizedChatID.
func NewCapabilities(client *Client, cfg Config) *ChatCapabilities {
	return &ChatCapabilities{
		client: client,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HasCapability reports whether userID is currently in the authorized chat.
func (c *ChatCapabilities) HasCapability(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	id, err := parseUserKey(userID)
	if err != nil {
		return false, err
	}
	m, err := c.client.member(c.cfg.AuthorizedChatID, id)
	if err != nil {
		return false, err
	}
	return isPresent(m), nil
}

// GrantCapability lifts any earlier ban and issues a single-use invite link
// to the authorized chat. The link is returned as Grant.Detail.
func (c *ChatCapabilities) GrantCapability(ctx context.Context, userID string) (verify.Grant, error) {
	if err := ctx.Err(); err != nil {
		return verify.Grant{}, err
	}
	id, err := parseUserKey(userID)
	if err != nil {
		return verify.Grant{}, err
	}

	if _, err := c.client.api.Request(tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: c.cfg.AuthorizedChatID, UserID: id},
		OnlyIfBanned:     true,
	}); err != nil {
		return verify.Grant{}, classify(err)
	}

	resp, err := c.client.api.Request(tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:  tgbotapi.ChatConfig{ChatID: c.cfg.AuthorizedChatID},
		ExpireDate:  int(c.now().Add(c.cfg.InviteTTL).Unix()),
		MemberLimit: 1,
	})
	if err != nil {
		return verify.Grant{}, classify(err)
	}

	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return verify.Grant{}, fmt.Errorf("telegram: decode invite link: %w", err)
	}
	if link.InviteLink == "" {
		return verify.Grant{}, fmt.Errorf("telegram: empty invite link")
	}
	return verify.Grant{Detail: link.InviteLink}, nil
}

// InLinkChat reports whether userID belongs to the link chat.
func (c *ChatCapabilities) InLinkChat(userID int64) (bool, error) {
	m, err := c.client.member(c.cfg.LinkChatID, userID)
	if err != nil {
		return false, err
	}
	return isPresent(m), nil
}

// IsLinkChatAdmin reports whether userID administers the link chat.
func (c *ChatCapabilities) IsLinkChatAdmin(userID int64) (bool, error) {
	m, err := c.client.member(c.cfg.LinkChatID, userID)
	if err != nil {
		return false, err
	}
	return isAdmin(m), nil
}
