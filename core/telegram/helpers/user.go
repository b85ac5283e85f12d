package helpers

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// DisplayName renders a sender as "@handle", falling back to the full name
// and finally to the numeric id.
func DisplayName(u *tele.User) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return strconv.FormatInt(u.ID, 10)
}
