// Package state keeps per-conversation sessions for Telegram bots.
//
// A session is keyed by (chat, user), so the same user in two chats, or two
// users in one group, never share input. Manager serializes updates for one
// key with a dedicated lock and lets other keys proceed in parallel. Sessions
// idle longer than the configured timeout are treated as gone.
package state
