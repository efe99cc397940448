package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"evacom/cmd/internal/verify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestHasCapability_MembershipStatuses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status string
		want   bool
	}{
		{statusCreator, true},
		{statusAdministrator, true},
		{statusMember, true},
		{statusRestricted, true},
		{statusLeft, false},
		{statusKicked, false},
	}

	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			t.Parallel()

			api := newFakeAPI()
			api.setMember(testAuthorizedChat, 42, tc.status)
			caps := NewCapabilities(testClient(api), testTelegramConfig())

			got, err := caps.HasCapability(context.Background(), "42")
			if err != nil {
				t.Fatalf("HasCapability: %v", err)
			}
			if got != tc.want {
				t.Fatalf("status %q: got %v want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestHasCapability_Errors(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	caps := NewCapabilities(testClient(api), testTelegramConfig())

	if _, err := caps.HasCapability(context.Background(), "not-a-number"); err == nil {
		t.Fatalf("expected error for malformed user id")
	}

	api.memberErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: user not found"}
	got, err := caps.HasCapability(context.Background(), "42")
	if err != nil || got {
		t.Fatalf("unknown user should read as absent: got=%v err=%v", got, err)
	}

	api.memberErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}
	if _, err := caps.HasCapability(context.Background(), "42"); !errors.Is(err, verify.ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}

	api.memberErr = &tgbotapi.Error{Code: 502, Message: "Bad Gateway"}
	_, err = caps.HasCapability(context.Background(), "42")
	if err == nil || errors.Is(err, verify.ErrMisconfigured) {
		t.Fatalf("transient errors must not read as misconfiguration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := caps.HasCapability(ctx, "42"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGrantCapability_IssuesSingleUseInvite(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	cfg := testTelegramConfig()
	caps := NewCapabilities(testClient(api), cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	caps.now = func() time.Time { return now }

	grant, err := caps.GrantCapability(context.Background(), "42")
	if err != nil {
		t.Fatalf("GrantCapability: %v", err)
	}
	if grant.Detail != api.inviteLink {
		t.Fatalf("detail=%q want %q", grant.Detail, api.inviteLink)
	}

	if len(api.requests) != 2 {
		t.Fatalf("expected unban + invite requests, got %d", len(api.requests))
	}
	unban, ok := api.requests[0].(tgbotapi.UnbanChatMemberConfig)
	if !ok || !unban.OnlyIfBanned || unban.UserID != 42 || unban.ChatID != testAuthorizedChat {
		t.Fatalf("unexpected unban request: %#v", api.requests[0])
	}
	invite, ok := api.requests[1].(tgbotapi.CreateChatInviteLinkConfig)
	if !ok {
		t.Fatalf("unexpected invite request: %#v", api.requests[1])
	}
	if invite.MemberLimit != 1 || invite.ChatID != testAuthorizedChat {
		t.Fatalf("invite must be single-use for the authorized chat: %#v", invite)
	}
	if want := int(now.Add(cfg.InviteTTL).Unix()); invite.ExpireDate != want {
		t.Fatalf("expire_date=%d want %d", invite.ExpireDate, want)
	}
}

func TestGrantCapability_MapsMisconfiguration(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.requestErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: not enough rights to invite users"}
	caps := NewCapabilities(testClient(api), testTelegramConfig())

	if _, err := caps.GrantCapability(context.Background(), "42"); !errors.Is(err, verify.ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}

	api.requestErr = &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was kicked from the supergroup chat"}
	if _, err := caps.GrantCapability(context.Background(), "42"); !errors.Is(err, verify.ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured for 403, got %v", err)
	}
}

func TestGuard_LinkChatMembership(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.setMember(testLinkChat, 1, statusMember)
	api.setMember(testLinkChat, 2, statusAdministrator)
	caps := NewCapabilities(testClient(api), testTelegramConfig())

	if ok, _ := caps.InLinkChat(1); !ok {
		t.Fatalf("member should be in link chat")
	}
	if ok, _ := caps.InLinkChat(3); ok {
		t.Fatalf("stranger should not be in link chat")
	}
	if ok, _ := caps.IsLinkChatAdmin(1); ok {
		t.Fatalf("plain member is not an admin")
	}
	if ok, _ := caps.IsLinkChatAdmin(2); !ok {
		t.Fatalf("administrator should be an admin")
	}
}
