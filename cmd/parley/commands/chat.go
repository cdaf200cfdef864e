package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/internal/chat"
	"github.com/parley-ai/parley/internal/health"
	"github.com/parley-ai/parley/internal/history"
	"github.com/parley-ai/parley/internal/observe"
	provider "github.com/parley-ai/parley/pkg/provider/chat"
)

var chatResume string

// chatCommands are the slash commands the REPL understands, for /help and
// did-you-mean suggestions.
var chatCommands = []string{"help", "save", "title", "attach", "quit", "exit"}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Chat starts a streaming text conversation with the configured backend.

Lines starting with "/" are commands (/help lists them); everything else
is sent to the model. Conversations are saved to the local history store
after every turn and can be continued later with --resume.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatResume, "resume", "", "ID of a stored conversation to continue")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := openStore()
	if err != nil {
		// Ephemeral sessions still work; say so once and move on.
		slog.Warn("history store unavailable, conversation will not be saved", "err", err)
		store = nil
	} else {
		defer store.Close()
	}

	stopObs, err := startObservability(ctx, storeChecker(store))
	if err != nil {
		return err
	}
	defer stopObs()
	met := observe.DefaultMetrics()

	backend, err := buildChatProvider(ctx)
	if err != nil {
		return err
	}
	embedder, err := buildEmbeddings()
	if err != nil {
		slog.Warn("embeddings unavailable, history search will not index this conversation", "err", err)
	}

	opts := []chat.Option{
		chat.WithTemperature(cfg.Chat.Temperature),
	}
	if store != nil {
		opts = append(opts, chat.WithStore(store))
	}
	if embedder != nil {
		opts = append(opts, chat.WithEmbeddings(embedder))
	}
	if cfg.Chat.SystemPromptFile != "" {
		prompt, err := os.ReadFile(cfg.Chat.SystemPromptFile)
		if err != nil {
			return fmt.Errorf("read system prompt: %w", err)
		}
		opts = append(opts, chat.WithSystemPrompt(string(prompt)))
	}

	session, err := chat.New(backend, opts...)
	if err != nil {
		return err
	}

	if chatResume != "" {
		if store == nil {
			return errors.New("--resume needs the history store")
		}
		conv, err := store.Get(ctx, chatResume)
		if err != nil {
			return err
		}
		if err := session.Resume(conv); err != nil {
			return err
		}
		fmt.Printf("resumed %q (%d messages)\n", conv.Title, len(conv.Messages))
	}

	fmt.Printf("parley chat - %s %s - /help for commands\n", cfg.Chat.Backend, cfg.Chat.Model)
	return chatLoop(ctx, session, met)
}

// chatLoop is the REPL: read a line, dispatch a slash command or send the
// text, stream the reply to stdout.
func chatLoop(ctx context.Context, session *chat.Session, met *observe.Metrics) error {
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var pending []provider.Attachment
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			fmt.Println()
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if name, args, ok := chat.ParseCommand(line); ok {
			done, err := runChatCommand(ctx, session, name, args, &pending)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			if done {
				return nil
			}
			continue
		}

		start := time.Now()
		turn, err := session.Send(ctx, line, pending, renderEvent)
		pending = nil
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		met.RecordChatTurn(ctx, string(cfg.Chat.Backend), time.Since(start).Seconds(),
			turn.Usage.PromptTokens, turn.Usage.CompletionTokens)
		printCitations(turn.Citations)
	}
}

// runChatCommand handles one slash command. done is true when the REPL
// should exit.
func runChatCommand(ctx context.Context, session *chat.Session, name, args string, pending *[]provider.Attachment) (done bool, err error) {
	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Print(`commands:
  /attach <path>   queue a file to send with the next message
  /title [text]    show or set the conversation title
  /save            save the conversation now
  /help            this text
  /quit            leave
`)
	case "save":
		if err := session.Save(ctx); err != nil {
			return false, err
		}
		fmt.Println("saved", session.ID())
	case "title":
		if args == "" {
			fmt.Printf("title: %q\n", session.Title())
			break
		}
		session.SetTitle(args)
		fmt.Printf("title set to %q\n", args)
	case "attach":
		if args == "" {
			return false, errors.New("usage: /attach <path>")
		}
		att, err := chat.LoadAttachment(args)
		if err != nil {
			return false, err
		}
		*pending = append(*pending, att)
		fmt.Printf("attached %s (%s, %d bytes)\n", att.Name, att.MIMEType, len(att.Data))
	default:
		msg := fmt.Sprintf("unknown command /%s", name)
		if hint, ok := chat.Suggest(name, chatCommands); ok {
			msg += fmt.Sprintf(" - did you mean /%s?", hint)
		}
		return false, errors.New(msg)
	}
	return false, nil
}

// renderEvent streams one turn to stdout as it arrives. Inline media is
// written to files in the working directory; text goes straight through.
func renderEvent(ev provider.Event) {
	switch ev.Kind {
	case provider.EventText:
		fmt.Print(ev.Text)
	case provider.EventToolCall:
		if ev.ToolCall != nil {
			fmt.Printf("\n[tool call: %s]\n", ev.ToolCall.Name)
		}
	case provider.EventBlob:
		if ev.Blob == nil {
			break
		}
		if path, err := saveMedia(*ev.Blob); err != nil {
			fmt.Fprintln(os.Stderr, "error: save media:", err)
		} else {
			fmt.Printf("\n[media saved to %s]\n", path)
		}
	case provider.EventFinish:
		fmt.Println()
	}
}

// saveMedia writes an inline blob the model generated to a file next to the
// user, named after its MIME type.
func saveMedia(att provider.Attachment) (string, error) {
	ext := ".bin"
	if exts, _ := mime.ExtensionsByType(att.MIMEType); len(exts) > 0 {
		ext = exts[0]
	}
	name := att.Name
	if name == "" {
		name = fmt.Sprintf("parley-%d%s", time.Now().Unix(), ext)
	}
	if err := os.WriteFile(name, att.Data, 0o644); err != nil {
		return "", err
	}
	return name, nil
}

func printCitations(citations []provider.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Println("sources:")
	seen := make(map[string]bool, len(citations))
	for _, c := range citations {
		if c.URI == "" || seen[c.URI] {
			continue
		}
		seen[c.URI] = true
		if c.Title != "" {
			fmt.Printf("  - %s (%s)\n", c.Title, c.URI)
		} else {
			fmt.Printf("  - %s\n", c.URI)
		}
	}
}

// storeChecker reports readiness of the history store; a nil store (chat
// running ephemeral) is reported as a failure so /readyz reflects it.
func storeChecker(store *history.Store) health.Checker {
	return health.Checker{Name: "history", Check: func(ctx context.Context) error {
		if store == nil {
			return errors.New("history store unavailable")
		}
		_, err := store.List(ctx)
		return err
	}}
}
