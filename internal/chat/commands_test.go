package chat_test

import (
	"testing"

	"github.com/parley-ai/parley/internal/chat"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		line     string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{"plain text", "hello there", "", "", false},
		{"bare slash", "/", "", "", false},
		{"no args", "/help", "help", "", true},
		{"with args", "/title My campaign notes", "title", "My campaign notes", true},
		{"case folded", "/SAVE", "save", "", true},
		{"leading whitespace", "  /quit  ", "quit", "", true},
		{"tab separator", "/attach\tnotes.txt", "attach", "notes.txt", true},
		{"slash mid-line", "see /etc/hosts", "", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			name, args, ok := chat.ParseCommand(tc.line)
			if ok != tc.wantOK || name != tc.wantName || args != tc.wantArgs {
				t.Errorf("ParseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tc.line, name, args, ok, tc.wantName, tc.wantArgs, tc.wantOK)
			}
		})
	}
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	commands := []string{"help", "save", "title", "attach", "quit"}

	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{"sav", "save", true},
		{"titel", "title", true},
		{"atach", "attach", true},
		{"QUIT", "quit", true},
		{"xyzzy", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			got, ok := chat.Suggest(tc.input, commands)
			if ok != tc.wantOK || got != tc.want {
				t.Errorf("Suggest(%q) = (%q, %v), want (%q, %v)", tc.input, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestSuggest_NoCommands(t *testing.T) {
	t.Parallel()
	if got, ok := chat.Suggest("help", nil); ok {
		t.Errorf("Suggest with no known commands returned %q", got)
	}
}
