package state

import tele "gopkg.in/telebot.v4"

// KeyOf derives the session key of an update. Updates without a chat, such
// as inline queries, fall back to the sender's private chat.
func KeyOf(c tele.Context) Key {
	var k Key
	if chat := c.Chat(); chat != nil {
		k.ChatID = chat.ID
	}
	if u := c.Sender(); u != nil {
		k.UserID = u.ID
		if k.ChatID == 0 {
			k.ChatID = u.ID
		}
	}
	return k
}
