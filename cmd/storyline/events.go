package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/storyline/internal/otel"
)

const followPoll = 100 * time.Millisecond

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show and follow the JSONL event log",
	Long: `Print the newest events from index.event_log (or --file), optionally
filtered, and keep following the file with -f.

Examples:
  storyline events --tail 20
  storyline events -f --kind index. --level warn
  storyline events --comp server --json`,
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().String("file", "", "event log path (default index.event_log)")
	eventsCmd.Flags().Int("tail", 50, "number of recent matching events to show")
	eventsCmd.Flags().BoolP("follow", "f", false, "keep printing new events")
	eventsCmd.Flags().String("kind", "", "event kind; a trailing '.' matches a subsystem, e.g. index.")
	eventsCmd.Flags().String("level", "", "minimum level: debug, info, warn, error")
	eventsCmd.Flags().String("comp", "", "component: coord, server, store, main")
	eventsCmd.Flags().Bool("json", false, "print raw JSON lines")
}

func runEvents(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	tail, _ := cmd.Flags().GetInt("tail")
	follow, _ := cmd.Flags().GetBool("follow")
	rawJSON, _ := cmd.Flags().GetBool("json")
	kind, _ := cmd.Flags().GetString("kind")
	level, _ := cmd.Flags().GetString("level")
	comp, _ := cmd.Flags().GetString("comp")

	if path == "" {
		path = cfg.Index.EventLog
	}
	if path == "" {
		return errors.New("no event log: set index.event_log or pass --file")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	filter := otel.Filter{Kind: kind, MinLevel: otel.Level(level), Comp: comp}
	out := cmd.OutOrStdout()
	show := func(l parsedLine) {
		if rawJSON {
			fmt.Fprintln(out, string(l.raw))
		} else {
			fmt.Fprintln(out, formatEvent(l.ev))
		}
	}

	reader := bufio.NewReader(f)
	lines, partial, err := readTailLines(reader, tail, filter)
	if err != nil {
		return err
	}
	if !follow && len(partial) > 0 {
		if l, ok := parseLine(partial); ok && filter.Match(l.ev) {
			lines = appendTail(lines, l, tail)
		}
	}
	for _, l := range lines {
		show(l)
	}
	if !follow {
		return nil
	}

	ctx := cmd.Context()
	for {
		chunk, err := reader.ReadBytes('\n')
		partial = append(partial, chunk...)
		if errors.Is(err, io.EOF) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(followPoll):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("read event log: %w", err)
		}
		line := trimLine(partial)
		partial = nil
		if l, ok := parseLine(line); ok && filter.Match(l.ev) {
			show(l)
		}
	}
}

type parsedLine struct {
	ev  otel.Event
	raw []byte
}

func parseLine(raw []byte) (parsedLine, bool) {
	if len(raw) == 0 {
		return parsedLine{}, false
	}
	var ev otel.Event
	if json.Unmarshal(raw, &ev) != nil {
		return parsedLine{}, false
	}
	return parsedLine{ev: ev, raw: append([]byte(nil), raw...)}, true
}

// readTailLines reads complete lines from r and keeps the last n that
// match f. It also returns a trailing line that has no newline yet, since a
// writer may still be appending to it.
func readTailLines(r *bufio.Reader, n int, f otel.Filter) ([]parsedLine, []byte, error) {
	var ring []parsedLine
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return ring, line, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read event log: %w", err)
		}
		if l, ok := parseLine(trimLine(line)); ok && f.Match(l.ev) {
			ring = appendTail(ring, l, n)
		}
	}
}

func appendTail(ring []parsedLine, l parsedLine, n int) []parsedLine {
	if n <= 0 {
		return ring
	}
	if len(ring) < n {
		return append(ring, l)
	}
	copy(ring, ring[1:])
	ring[n-1] = l
	return ring
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func formatEvent(ev otel.Event) string {
	lvl := strings.ToUpper(string(ev.Level))
	if lvl == "" {
		lvl = "?"
	}
	parts := []string{fmt.Sprintf("%s %-5s [%-6s] %-20s", ev.Time.Format("15:04:05.000"), lvl, ev.Comp, ev.Kind)}

	if ev.Msg != "" {
		parts = append(parts, ev.Msg)
	}
	if ev.DurMs > 0 {
		parts = append(parts, fmt.Sprintf("(%.*fms)", durPrecision(ev.DurMs), ev.DurMs))
	}
	if ev.Lang != "" {
		parts = append(parts, "lang="+ev.Lang)
	}
	if ev.Docs > 0 {
		parts = append(parts, fmt.Sprintf("docs=%d", ev.Docs))
	}
	if ev.Clusters > 0 {
		parts = append(parts, fmt.Sprintf("clusters=%d", ev.Clusters))
	}
	if ev.Count > 0 {
		parts = append(parts, fmt.Sprintf("n=%d", ev.Count))
	}
	if ev.Route != "" {
		parts = append(parts, fmt.Sprintf("%s %d", ev.Route, ev.Status))
	}
	if ev.Version != "" {
		parts = append(parts, "version="+ev.Version)
	}
	if ev.Err != "" {
		parts = append(parts, "err="+ev.Err)
	}
	return strings.Join(parts, " ")
}

func durPrecision(ms float64) int {
	switch {
	case ms >= 100:
		return 0
	case ms >= 1:
		return 1
	default:
		return 2
	}
}
