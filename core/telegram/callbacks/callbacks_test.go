package callbacks

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestParseCallbackData(t *testing.T) {
	cases := []struct {
		name         string
		cb           *tele.Callback
		key, payload string
	}{
		{"encoded", &tele.Callback{Data: "\faccept|42"}, "accept", "42"},
		{"no payload", &tele.Callback{Data: "\fhelp"}, "help", ""},
		{"matched by telebot", &tele.Callback{Unique: "pay", Data: "7"}, "pay", "7"},
		{"payload with separator", &tele.Callback{Data: "\fnotes|3:yes"}, "notes", "3:yes"},
		{"nil", nil, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, payload := ParseCallbackData(tc.cb)
			if key != tc.key || payload != tc.payload {
				t.Fatalf("got %q %q, want %q %q", key, payload, tc.key, tc.payload)
			}
		})
	}
}

func TestDataRoundTrip(t *testing.T) {
	key, payload := ParseCallbackData(&tele.Callback{Data: Data("confirm_pay", "9")})
	if key != "confirm_pay" || payload != "9" {
		t.Fatalf("got %q %q", key, payload)
	}
}

func TestParsePayloads(t *testing.T) {
	if id, err := ParseID(" 42 "); err != nil || id != 42 {
		t.Fatalf("ParseID = %d, %v", id, err)
	}
	for _, bad := range []string{"", "x", "0", "-3"} {
		if _, err := ParseID(bad); err == nil {
			t.Errorf("ParseID(%q) should fail", bad)
		}
	}
	id, word, err := ParseIDWord("7:yes", ":")
	if err != nil || id != 7 || word != "yes" {
		t.Fatalf("ParseIDWord = %d %q %v", id, word, err)
	}
	for _, bad := range []string{"7", "7:", ":yes", "x:no"} {
		if _, _, err := ParseIDWord(bad, ":"); err == nil {
			t.Errorf("ParseIDWord(%q) should fail", bad)
		}
	}
}
