package callbacks

import (
	"strconv"
	"strings"
)

// ParseID parses a payload holding a single positive id.
func ParseID(payload string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}

// ParseIDWord parses "<id><sep><word>", as in "12:yes".
func ParseIDWord(payload, sep string) (int64, string, error) {
	raw, word, ok := strings.Cut(payload, sep)
	if !ok || word == "" {
		return 0, "", strconv.ErrSyntax
	}
	id, err := ParseID(raw)
	if err != nil {
		return 0, "", err
	}
	return id, word, nil
}
