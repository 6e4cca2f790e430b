package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/abelbrown/storyline/internal/coord"
	"github.com/abelbrown/storyline/internal/logging"
	"github.com/abelbrown/storyline/internal/view"
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Build the index once and browse threads in the terminal",
	Long: `Cluster the documents in the store, or in a JSONL file given with
--input, and open an interactive thread browser. The browser shows a
spinner until the build finishes.

Keys: j/k move, enter expand, tab/shift+tab category, l language,
r re-rank, q quit.`,
	RunE: runTop,
}

func init() {
	rootCmd.AddCommand(topCmd)

	topCmd.Flags().String("input", "", "JSONL documents to cluster instead of the store")
	topCmd.Flags().Uint64("ttl", defaultImportTTL, "ttl for --input documents that carry none")
	addQueryFlags(topCmd)
}

func runTop(cmd *cobra.Command, args []string) error {
	q, err := queryFromFlags(cmd)
	if err != nil {
		return err
	}

	st, err := openSource(cmd)
	if err != nil {
		return fmt.Errorf("open documents: %w", err)
	}
	defer st.Close()

	events, _, err := openEvents(cfg, 0)
	if err != nil {
		return err
	}
	defer events.Close()

	builder, err := newBuilder(cfg, st, events)
	if err != nil {
		return err
	}
	holder := &coord.Holder{}
	coordinator, err := coord.NewCoordinator(builder, holder, cfg.Index.Schedule, events)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go func() {
		if err := coordinator.RunNow(ctx); err != nil {
			logging.Error("build failed", "err", err)
		}
	}()

	p := tea.NewProgram(view.New(view.Options{
		Holder:   holder,
		Ranker:   newRanker(cfg),
		Period:   q.Period,
		Language: q.Language,
		Category: q.Category,
		Limit:    q.Limit,
	}), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	cancel()
	return err
}
