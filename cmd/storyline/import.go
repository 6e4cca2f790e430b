package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/abelbrown/storyline/internal/logging"
	"github.com/abelbrown/storyline/internal/model"
	"github.com/abelbrown/storyline/internal/store"
)

const defaultImportTTL = 24 * 3600

var importCmd = &cobra.Command{
	Use:   "import <file.jsonl|->",
	Short: "Load annotated documents from JSONL into the store",
	Long: `Read one annotated document per line and put it into the configured
store. Documents without a ttl get --ttl. Documents that are not fully
indexed are skipped.

Examples:
  storyline import docs.jsonl
  zcat docs.jsonl.gz | storyline import - --ttl 172800`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Uint64("ttl", defaultImportTTL, "ttl in seconds for documents that carry none")
}

func runImport(cmd *cobra.Command, args []string) error {
	ttl, _ := cmd.Flags().GetUint64("ttl")

	docs, err := readDocumentsFile(args[0], ttl)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	res, err := importDocuments(cmd.Context(), st, docs)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d documents (%d new, %d replaced, %d skipped)\n",
		res.Created+res.Replaced, res.Created, res.Replaced, res.Skipped)
	return nil
}

func readDocumentsFile(path string, ttl uint64) ([]*model.Document, error) {
	if path == "-" {
		return readDocuments(os.Stdin, ttl)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return readDocuments(f, ttl)
}

// readDocuments decodes JSONL documents, filling Host from URL and TTL
// from ttl where they are unset. Blank lines are ignored.
func readDocuments(r io.Reader, ttl uint64) ([]*model.Document, error) {
	scanner := bufio.NewScanner(r)
	// Embeddings make long lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var docs []*model.Document
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var doc model.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if doc.Filename == "" {
			return nil, fmt.Errorf("line %d: document has no file_name", line)
		}
		if doc.Host == "" {
			doc.Host = model.HostOf(doc.URL)
		}
		if doc.TTL == 0 {
			doc.TTL = ttl
		}
		docs = append(docs, &doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return docs, nil
}

type importResult struct {
	Created, Replaced, Skipped int
}

func importDocuments(ctx context.Context, st store.DocStore, docs []*model.Document) (importResult, error) {
	var res importResult
	for _, doc := range docs {
		if !doc.IsFullyIndexed() {
			logging.Debug("skipping document that is not fully indexed", "doc", doc.Filename)
			res.Skipped++
			continue
		}
		created, err := st.Put(ctx, doc)
		if err != nil {
			return res, fmt.Errorf("put %s: %w", doc.Filename, err)
		}
		if created {
			res.Created++
		} else {
			res.Replaced++
		}
	}
	return res, nil
}
