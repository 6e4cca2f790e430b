package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abelbrown/storyline/internal/coord"
	"github.com/abelbrown/storyline/internal/model"
	"github.com/abelbrown/storyline/internal/otel"
	"github.com/abelbrown/storyline/internal/store"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the index once and print ranked threads as JSON",
	Long: `Cluster the documents in the store, or in a JSONL file given with
--input, and print the threads of one language and category.

Examples:
  storyline build --lang en --category any
  storyline build --input docs.jsonl --lang ru --category society --period 3600`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().String("input", "", "JSONL documents to cluster instead of the store")
	buildCmd.Flags().Uint64("ttl", defaultImportTTL, "ttl for --input documents that carry none")
	addQueryFlags(buildCmd)
}

// addQueryFlags registers the thread query flags shared by build and top.
func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().String("lang", "en", "language code")
	cmd.Flags().String("category", "any", "category, or any")
	cmd.Flags().Uint64("period", 24*3600, "window in seconds before the newest document")
	cmd.Flags().Int("limit", 0, "maximum threads (default ranker.thread_limit)")
}

func queryFromFlags(cmd *cobra.Command) (coord.Query, error) {
	langFlag, _ := cmd.Flags().GetString("lang")
	catFlag, _ := cmd.Flags().GetString("category")
	period, _ := cmd.Flags().GetUint64("period")
	limit, _ := cmd.Flags().GetInt("limit")

	lang := model.ParseLanguage(langFlag)
	if lang == model.LanguageUndefined {
		return coord.Query{}, fmt.Errorf("unknown language %q", langFlag)
	}
	cat := model.ParseCategory(catFlag)
	if cat == model.CategoryUndefined || cat == model.CategoryNotNews {
		return coord.Query{}, fmt.Errorf("unknown category %q", catFlag)
	}
	if limit <= 0 {
		limit = cfg.Ranker.ThreadLimit
	}
	return coord.Query{Period: period, Language: lang, Category: cat, Limit: limit}, nil
}

// openSource opens the configured store, or an in-memory store loaded from
// input when it is set.
func openSource(cmd *cobra.Command) (store.DocStore, error) {
	input, _ := cmd.Flags().GetString("input")
	if input == "" {
		return store.Open(cfg.Storage)
	}

	ttl, _ := cmd.Flags().GetUint64("ttl")
	docs, err := readDocumentsFile(input, ttl)
	if err != nil {
		return nil, err
	}
	st, err := store.OpenBadger("")
	if err != nil {
		return nil, err
	}
	if _, err := importDocuments(cmd.Context(), st, docs); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	q, err := queryFromFlags(cmd)
	if err != nil {
		return err
	}

	st, err := openSource(cmd)
	if err != nil {
		return fmt.Errorf("open documents: %w", err)
	}
	defer st.Close()

	events := otel.NewNullLogger()
	defer events.Close()

	builder, err := newBuilder(cfg, st, events)
	if err != nil {
		return err
	}
	holder, err := buildOnce(cmd.Context(), builder, events)
	if err != nil {
		return err
	}

	threads := coord.Threads(holder.Load(), newRanker(cfg), q)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Threads []coord.Thread `json:"threads"`
	}{threads})
}
