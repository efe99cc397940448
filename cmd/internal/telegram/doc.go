// Package telegram is the chat-platform adapter for the Evacom link flow.
//
// The "link channel" is a Telegram group (LINK_CHAT_ID) that carries the
// pinned authorization panel. The authorized capability is membership in a
// second chat (AUTHORIZED_CHAT_ID); granting it means handing the user a
// single-use invite link.
//
// Replies that must stay private are sent as callback alerts or in the
// user's private chat with the bot. Every handler runs in its own goroutine
// and recovers from panics at its boundary.
package telegram
