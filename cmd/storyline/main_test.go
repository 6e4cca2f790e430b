package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelbrown/storyline/internal/model"
	"github.com/abelbrown/storyline/internal/otel"
	"github.com/abelbrown/storyline/internal/store"
)

func docLine(name, url string, fetch uint64, vec string) string {
	return `{"file_name":"` + name + `","url":"` + url + `","title":"` + name +
		`","language":"en","category":"science","fetch_time":` + itoa(fetch) +
		`,"embeddings":{"fasttext_title":` + vec + `,"fasttext_classic":` + vec + `}}`
}

func itoa(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestReadDocuments(t *testing.T) {
	input := strings.Join([]string{
		docLine("a.html", "https://www.alpha.com/a", 100, "[1,0]"),
		"",
		`{"file_name":"b.html","host":"beta.org","ttl":60,"language":"en"}`,
	}, "\n")

	docs, err := readDocuments(strings.NewReader(input), 3600)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "alpha.com", docs[0].Host)
	assert.Equal(t, uint64(3600), docs[0].TTL)
	assert.Equal(t, []float32{1, 0}, docs[0].Embeddings[model.EmbeddingFastTextClassic])
	assert.Equal(t, "beta.org", docs[1].Host)
	assert.Equal(t, uint64(60), docs[1].TTL, "an explicit ttl is kept")
}

func TestReadDocumentsErrors(t *testing.T) {
	_, err := readDocuments(strings.NewReader("{}\n"), 0)
	assert.ErrorContains(t, err, "line 1: document has no file_name")

	_, err = readDocuments(strings.NewReader(docLine("a", "a.com", 1, "[1]")+"\n{oops\n"), 0)
	assert.ErrorContains(t, err, "line 2")

	_, err = readDocuments(strings.NewReader(`{"file_name":"a","embeddings":{"bogus":[1]}}`), 0)
	assert.Error(t, err)
}

func TestImportDocuments(t *testing.T) {
	st, err := store.OpenBadger("")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	docs, err := readDocuments(strings.NewReader(strings.Join([]string{
		docLine("a.html", "https://a.com/a", 100, "[1,0]"),
		docLine("b.html", "https://b.com/b", 100, "[0,1]"),
		`{"file_name":"raw.html","title":"not annotated"}`,
	}, "\n")), 3600)
	require.NoError(t, err)

	res, err := importDocuments(ctx, st, docs)
	require.NoError(t, err)
	assert.Equal(t, importResult{Created: 2, Skipped: 1}, res)

	res, err = importDocuments(ctx, st, docs[:1])
	require.NoError(t, err)
	assert.Equal(t, importResult{Replaced: 1}, res)

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBuildCommandFromInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "docs.jsonl")
	const ts = 1_700_000_000
	lines := []string{
		docLine("rover-1.html", "https://alpha.com/rover", ts, "[1,0,0]"),
		docLine("rover-2.html", "https://beta.com/rover", ts+60, "[1,0,0]"),
		docLine("budget.html", "https://gamma.com/budget", ts+120, "[0,0,1]"),
	}
	require.NoError(t, os.WriteFile(input, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"build", "--input", input, "--lang", "en", "--category", "any", "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())

	var body struct {
		Threads []struct {
			Title    string   `json:"title"`
			Category string   `json:"category"`
			Articles []string `json:"articles"`
		} `json:"threads"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &body), out.String())
	require.Len(t, body.Threads, 2)

	assert.ElementsMatch(t, []string{"rover-1.html", "rover-2.html"}, body.Threads[0].Articles)
	assert.Equal(t, "science", body.Threads[0].Category)
	assert.Equal(t, []string{"budget.html"}, body.Threads[1].Articles)
}

func TestQueryFlagsRejectUnknownValues(t *testing.T) {
	rootCmd.SetArgs([]string{"build", "--input", "unused.jsonl", "--lang", "xx"})
	assert.ErrorContains(t, rootCmd.Execute(), `unknown language "xx"`)

	rootCmd.SetArgs([]string{"build", "--input", "unused.jsonl", "--lang", "en", "--category", "not_news"})
	assert.ErrorContains(t, rootCmd.Execute(), `unknown category "not_news"`)
}

func eventLine(t *testing.T, ev otel.Event) string {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return string(b)
}

func TestReadTailLines(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	log := strings.Join([]string{
		eventLine(t, otel.Event{Time: at, Level: otel.LevelInfo, Kind: otel.KindIndexBuild, Comp: "coord", Docs: 10}),
		"not json",
		eventLine(t, otel.Event{Time: at, Level: otel.LevelDebug, Kind: otel.KindHTTPRequest, Comp: "server"}),
		eventLine(t, otel.Event{Time: at, Level: otel.LevelError, Kind: otel.KindIndexFailed, Comp: "coord", Err: "boom"}),
		eventLine(t, otel.Event{Time: at, Level: otel.LevelInfo, Kind: otel.KindIndexBuild, Comp: "coord", Docs: 12}),
	}, "\n") + "\n" + `{"t":"2026-01-02T03:04:05Z","kind":"index.bu`

	r := bufio.NewReader(strings.NewReader(log))
	lines, partial, err := readTailLines(r, 2, otel.Filter{Kind: "index."})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, otel.KindIndexFailed, lines[0].ev.Kind)
	assert.Equal(t, 12, lines[1].ev.Docs)
	assert.Equal(t, `{"t":"2026-01-02T03:04:05Z","kind":"index.bu`, string(partial))

	r = bufio.NewReader(strings.NewReader(log))
	lines, _, err = readTailLines(r, 10, otel.Filter{MinLevel: otel.LevelWarn})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "boom", lines[0].ev.Err)
}

func TestFormatEvent(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := formatEvent(otel.Event{
		Time:     at,
		Level:    otel.LevelInfo,
		Kind:     otel.KindIndexBuild,
		Comp:     "coord",
		DurMs:    12.5,
		Docs:     40,
		Clusters: 7,
		Version:  "abc",
	})
	assert.Equal(t, "03:04:05.000 INFO  [coord ] index.build          (12.5ms) docs=40 clusters=7 version=abc", got)

	got = formatEvent(otel.Event{Time: at, Kind: otel.KindHTTPRequest, Route: "GET /threads", Status: 503})
	assert.Contains(t, got, "?")
	assert.Contains(t, got, "GET /threads 503")
}

func TestEventsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	content := eventLine(t, otel.Event{Time: at, Level: otel.LevelInfo, Kind: otel.KindIndexBuild, Comp: "coord"}) + "\n" +
		eventLine(t, otel.Event{Time: at, Level: otel.LevelDebug, Kind: otel.KindStorePut, Comp: "server", Msg: "a.html"}) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"events", "--file", path, "--comp", "server", "--json"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), `"msg":"a.html"`)
}
