package telegram

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	testLinkChat       int64 = -1001
	testAuthorizedChat int64 = -1002
	testBotID          int64 = 999
)

type fakeAPI struct {
	mu sync.Mutex

	members   map[int64]map[int64]string
	memberErr error

	chat    tgbotapi.Chat
	chatErr error

	sendErr    error
	requestErr error
	inviteLink string

	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	nextID   int

	updates chan tgbotapi.Update
	stopped bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		members:    map[int64]map[int64]string{},
		inviteLink: "https://t.me/+single-use",
		nextID:     100,
		updates:    make(chan tgbotapi.Update, 8),
	}
}

func (f *fakeAPI) setMember(chatID, userID int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[chatID] == nil {
		f.members[chatID] = map[int64]string{}
	}
	f.members[chatID][userID] = status
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	f.requests = append(f.requests, c)
	if _, ok := c.(tgbotapi.CreateChatInviteLinkConfig); ok {
		b, _ := json.Marshal(tgbotapi.ChatInviteLink{InviteLink: f.inviteLink})
		return &tgbotapi.APIResponse{Ok: true, Result: b}, nil
	}
	return &tgbotapi.APIResponse{Ok: true, Result: json.RawMessage("true")}, nil
}

func (f *fakeAPI) GetChat(tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chat, f.chatErr
}

func (f *fakeAPI) GetChatMember(cfg tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memberErr != nil {
		return tgbotapi.ChatMember{}, f.memberErr
	}
	status, ok := f.members[cfg.ChatID][cfg.UserID]
	if !ok {
		status = statusLeft
	}
	return tgbotapi.ChatMember{Status: status}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

// texts returns the text of every plain message sent to chatID.
func (f *fakeAPI) texts(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok && m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeAPI) lastText(chatID int64) string {
	ts := f.texts(chatID)
	if len(ts) == 0 {
		return ""
	}
	return ts[len(ts)-1]
}

func (f *fakeAPI) callbacks() []tgbotapi.CallbackConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.CallbackConfig
	for _, c := range f.requests {
		if cb, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb)
		}
	}
	return out
}

func testClient(api *fakeAPI) *Client {
	return &Client{api: api, self: tgbotapi.User{ID: testBotID, IsBot: true, UserName: "evacom_bot"}}
}

func testTelegramConfig() Config {
	return Config{
		Token:            "123:abc",
		LinkChatID:       testLinkChat,
		AuthorizedChatID: testAuthorizedChat,
		InviteTTL:        10 * time.Minute,
		PollTimeout:      60,
		Workers:          4,
		HandlerTimeout:   5 * time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
