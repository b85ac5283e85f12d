// Package ui holds reusable reply contracts.
package ui

import tele "gopkg.in/telebot.v4"

// FallbackProvider exposes handlers used when incoming updates
// cannot be mapped to commands, callbacks, or a running conversation.
type FallbackProvider interface {
	UnknownText() tele.HandlerFunc
	UnknownFile() tele.HandlerFunc
	UnknownCallback() tele.HandlerFunc
}
