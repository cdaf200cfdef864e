package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/internal/history"
)

var historySearchLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored conversations",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		summaries, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("no conversations stored")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				s.ID, orUntitled(s.Title), s.MessageCount, s.UpdatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		conv, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s\n%s  %d messages\n\n",
			orUntitled(conv.Title), conv.CreatedAt.Local().Format(time.DateTime), len(conv.Messages))
		for _, m := range conv.Messages {
			fmt.Printf("[%s] %s\n", m.Role, m.Text)
			for _, a := range m.Attachments {
				fmt.Printf("  (attachment: %s, %s, %d bytes)\n", a.Name, a.MIMEType, a.Size)
			}
			for _, c := range m.Citations {
				fmt.Printf("  (source: %s)\n", c.URI)
			}
		}
		return nil
	},
}

var historySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search conversations by meaning",
	Long: `Search embeds the query with the configured embeddings backend and ranks
stored conversations by cosine similarity against the vectors saved with
them. Conversations saved without a vector, or with a vector from a
different model, never match.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		embedder, err := buildEmbeddings()
		if err != nil {
			return err
		}
		if embedder == nil {
			return errors.New("history search needs an embeddings backend, set embeddings.backend in the config")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		query := strings.Join(args, " ")
		vecs, err := embedder.Embed(cmd.Context(), []string{query})
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) != 1 {
			return fmt.Errorf("embed query: got %d vectors, want 1", len(vecs))
		}

		results, err := store.Search(cmd.Context(), vecs[0], embedder.ModelID(), historySearchLimit)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("no matches")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tID\tTITLE")
		for _, r := range results {
			fmt.Fprintf(w, "%.3f\t%s\t%s\n", r.Score, r.Summary.ID, orUntitled(r.Summary.Title))
		}
		return w.Flush()
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		// Look it up first so deleting a typo'd ID fails loudly.
		if _, err := store.Get(cmd.Context(), args[0]); err != nil {
			return err
		}
		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("deleted", args[0])
		return nil
	},
}

func init() {
	historySearchCmd.Flags().IntVar(&historySearchLimit, "limit", 10, "maximum number of results")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historySearchCmd, historyDeleteCmd)
	rootCmd.AddCommand(historyCmd)
}

// openStore opens the configured history database.
func openStore() (*history.Store, error) {
	dir := cfg.Chat.HistoryDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return history.Open(dir)
}

func orUntitled(title string) string {
	if title == "" {
		return "(untitled)"
	}
	return title
}
