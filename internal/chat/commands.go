package chat

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// suggestThreshold is the minimum Jaro-Winkler similarity for a mistyped
// command to earn a did-you-mean suggestion. Below it, silence beats a
// misleading guess.
const suggestThreshold = 0.75

// ParseCommand splits a REPL input line into a slash command and its
// argument string. ok is false for ordinary chat text, including a bare "/".
// Command names are case-insensitive.
func ParseCommand(line string) (name, args string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	rest := line[1:]
	if rest == "" {
		return "", "", false
	}
	name = rest
	if i := strings.IndexFunc(rest, func(r rune) bool { return r == ' ' || r == '\t' }); i >= 0 {
		name, args = rest[:i], strings.TrimSpace(rest[i+1:])
	}
	return strings.ToLower(name), args, true
}

// Suggest returns the known command most similar to input, when the
// similarity clears the threshold. Used for did-you-mean hints after an
// unrecognized slash command.
func Suggest(input string, commands []string) (string, bool) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return "", false
	}
	var (
		best      string
		bestScore float64
	)
	for _, cmd := range commands {
		score := matchr.JaroWinkler(input, strings.ToLower(cmd), false)
		if score > bestScore {
			best, bestScore = cmd, score
		}
	}
	if bestScore < suggestThreshold {
		return "", false
	}
	return best, true
}
