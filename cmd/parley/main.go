// Command parley is a terminal client for Gemini- and OpenAI-protocol
// generative backends: streaming text chat with local history, and live
// voice conversations with gapless audio playback.
package main

import (
	"fmt"
	"os"

	"github.com/parley-ai/parley/cmd/parley/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "parley:", err)
		os.Exit(1)
	}
}
