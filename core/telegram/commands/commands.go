// Package commands describes slash commands independently of how they are routed.
package commands

import (
	"sort"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Command represents a bot command with its handler, description, and metadata.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	// AdminOnly commands run behind the operator gate and stay out of the
	// public command menu.
	AdminOnly bool
	Hidden    bool
	// Aliases are extra names routed to the same handler, with or without
	// the leading slash.
	Aliases []string
}

// Endpoints returns name followed by its aliases, all slash prefixed.
func (c Command) Endpoints(name string) []string {
	out := []string{name}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if !strings.HasPrefix(a, "/") {
			a = "/" + a
		}
		out = append(out, a)
	}
	return out
}

// Help renders one line per visible command. Operator commands are listed
// only when operator is true.
func Help(cmds map[string]Command, operator bool) string {
	names := make([]string, 0, len(cmds))
	for name, c := range cmds {
		if c.Hidden || (c.AdminOnly && !operator) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteString(" - ")
		b.WriteString(cmds[name].Description)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
