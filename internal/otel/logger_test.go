package otel

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestEmitWritesValidJSONL(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Emit(Event{Kind: KindIndexBuild, Level: LevelInfo, Comp: "coord", Docs: 12, Clusters: 4})
	l.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["kind"] != "index.build" {
		t.Errorf("expected kind=index.build, got %v", decoded["kind"])
	}
	if decoded["docs"] != float64(12) || decoded["clusters"] != float64(4) {
		t.Errorf("expected docs=12 clusters=4, got %v %v", decoded["docs"], decoded["clusters"])
	}
	if decoded["level"] != "info" {
		t.Errorf("expected level=info, got %v", decoded["level"])
	}
	if decoded["comp"] != "coord" {
		t.Errorf("expected comp=coord, got %v", decoded["comp"])
	}
}

func TestEmitSetsTimeAndSessionID(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	before := time.Now()
	l.Emit(Event{Kind: KindStartup})
	l.Close()
	after := time.Now()

	var ev Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if ev.Time.Before(before) || ev.Time.After(after) {
		t.Errorf("time %v not in [%v, %v]", ev.Time, before, after)
	}
	if ev.SessionID == "" {
		t.Error("session_id should be set")
	}
	if len(ev.SessionID) != 16 {
		t.Errorf("session_id should be 16 hex chars, got %d: %q", len(ev.SessionID), ev.SessionID)
	}
}

func TestDurToMs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Emit(Event{Kind: KindIndexBuild, Dur: 1500 * time.Millisecond})
	l.Close()

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	durMs, ok := decoded["dur_ms"].(float64)
	if !ok {
		t.Fatal("dur_ms not present or not float64")
	}
	if durMs != 1500 {
		t.Errorf("expected dur_ms=1500, got %v", durMs)
	}
}

func TestOmitempty(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Emit(Event{Kind: KindStartup})
	l.Close()

	line := strings.TrimSpace(buf.String())
	for _, field := range []string{"dur_ms", "count", "docs", "clusters", "lang", "version", "route", "status", "err", "msg", "extra"} {
		if strings.Contains(line, `"`+field+`"`) {
			t.Errorf("expected field %q to be omitted, but found in: %s", field, line)
		}
	}
}

func TestConcurrentEmit(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Emit(Event{Kind: KindStorePut, Comp: "store"})
		}()
	}
	wg.Wait()
	l.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 100 {
		t.Errorf("expected 100 lines, got %d", len(lines))
	}
	for i, line := range lines {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Errorf("line %d: invalid JSON: %v", i, err)
		}
	}
}

func TestNullLogger(t *testing.T) {
	l := NewNullLogger()
	l.Emit(Event{Kind: KindStartup})
	l.Close()
}

func TestClose(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Emit(Event{Kind: KindStartup, Msg: "start"})
	l.Emit(Event{Kind: KindShutdown, Msg: "stop"})
	l.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines after Close, got %d", len(lines))
	}

	l.Close()
	l.Emit(Event{Kind: KindStartup})
	if l.Dropped() != 1 {
		t.Errorf("emit after close should be dropped, dropped=%d", l.Dropped())
	}
}

func TestDropCounter(t *testing.T) {
	bw := &blockingWriter{
		started: make(chan struct{}),
		block:   make(chan struct{}),
	}
	l := NewLogger(bw)

	// The drain goroutine takes the first event and blocks in Write.
	l.Emit(Event{Kind: KindHTTPRequest})
	<-bw.started

	for i := 0; i < queueSize+10; i++ {
		l.Emit(Event{Kind: KindHTTPRequest})
	}

	dropped := l.Dropped()
	if dropped == 0 {
		t.Error("expected some drops when channel is full, got 0")
	}

	close(bw.block)
	l.Close()
}

type blockingWriter struct {
	started chan struct{}
	block   chan struct{}
	once    sync.Once
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	w.once.Do(func() {
		close(w.started)
		<-w.block
	})
	return len(p), nil
}

func TestConvenienceHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Info(KindStartup, "main", "starting")
	l.Warn(KindIndexStaleRemoved, "coord", "removed 3")
	l.Error(KindIndexFailed, "coord", errForTest("disk full"))
	l.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}

	tests := []struct {
		level string
		kind  string
		comp  string
	}{
		{"info", "sys.startup", "main"},
		{"warn", "index.stale_removed", "coord"},
		{"error", "index.failed", "coord"},
	}
	for i, tt := range tests {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &decoded); err != nil {
			t.Errorf("line %d: %v", i, err)
			continue
		}
		if decoded["level"] != tt.level {
			t.Errorf("line %d: level=%v, want %v", i, decoded["level"], tt.level)
		}
		if decoded["kind"] != tt.kind {
			t.Errorf("line %d: kind=%v, want %v", i, decoded["kind"], tt.kind)
		}
		if decoded["comp"] != tt.comp {
			t.Errorf("line %d: comp=%v, want %v", i, decoded["comp"], tt.comp)
		}
	}
}

type errForTest string

func (e errForTest) Error() string { return string(e) }

func TestSessionIDConsistent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Emit(Event{Kind: KindStartup})
	l.Emit(Event{Kind: KindShutdown})
	l.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var ev1, ev2 map[string]any
	json.Unmarshal([]byte(lines[0]), &ev1)
	json.Unmarshal([]byte(lines[1]), &ev2)

	sid1 := ev1["session_id"].(string)
	sid2 := ev2["session_id"].(string)
	if sid1 != sid2 {
		t.Errorf("session IDs differ: %q vs %q", sid1, sid2)
	}
}

func TestOpenFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")

	for i := 0; i < 2; i++ {
		l, err := OpenFile(path)
		if err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		l.Emit(Event{Kind: KindIndexBuild})
		l.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("expected 2 lines across reopen, got %d", n)
	}
}

func TestFilterMatch(t *testing.T) {
	ev := Event{Kind: KindIndexFailed, Level: LevelError, Comp: "coord"}
	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"zero", Filter{}, true},
		{"exact kind", Filter{Kind: "index.failed"}, true},
		{"other kind", Filter{Kind: "index.build"}, false},
		{"kind prefix", Filter{Kind: "index."}, true},
		{"other prefix", Filter{Kind: "store."}, false},
		{"bare prefix is exact", Filter{Kind: "index"}, false},
		{"min warn", Filter{MinLevel: LevelWarn}, true},
		{"comp", Filter{Comp: "coord"}, true},
		{"other comp", Filter{Comp: "server"}, false},
	}
	for _, tt := range tests {
		if got := tt.f.Match(ev); got != tt.want {
			t.Errorf("%s: Match = %v, want %v", tt.name, got, tt.want)
		}
	}

	info := Event{Kind: KindIndexBuild, Level: LevelInfo}
	if (Filter{MinLevel: LevelWarn}).Match(info) {
		t.Error("info event should not pass a warn filter")
	}
	if !(Filter{MinLevel: LevelDebug}).Match(info) {
		t.Error("info event should pass a debug filter")
	}
}

func TestDomainEmitters(t *testing.T) {
	ring := NewRingBuffer(16)
	l := NewNullLogger()
	l.SetRingBuffer(ring)

	l.IndexBuilt("v1", 40, 2*time.Second)
	l.StaleRemoved(3)
	l.LanguageClustered("en", 12)
	l.DocumentStored("a.html", "en", true)
	l.DocumentDeleted("b.html")
	l.StoreFailed("c.html", errForTest("badger closed"))
	l.Request("GET /threads", 200, time.Millisecond, nil)
	l.Request("PUT /documents/:name", 400, time.Millisecond, errForTest("bad body"))
	l.Close()

	got := ring.Snapshot()
	if len(got) != 8 {
		t.Fatalf("expected 8 events, got %d", len(got))
	}
	tests := []struct {
		kind  EventKind
		level Level
		comp  string
	}{
		{KindIndexBuild, LevelInfo, CompCoord},
		{KindIndexStaleRemoved, LevelInfo, CompCoord},
		{KindClusterLanguage, LevelDebug, CompCoord},
		{KindStorePut, LevelDebug, CompServer},
		{KindStoreDelete, LevelDebug, CompServer},
		{KindStoreError, LevelError, CompServer},
		{KindHTTPRequest, LevelDebug, CompServer},
		{KindHTTPRequest, LevelWarn, CompServer},
	}
	for i, tt := range tests {
		e := got[i]
		if e.Kind != tt.kind || e.Level != tt.level || e.Comp != tt.comp {
			t.Errorf("event %d = %s/%s/%s, want %s/%s/%s", i, e.Kind, e.Level, e.Comp, tt.kind, tt.level, tt.comp)
		}
	}
	if got[0].Version != "v1" || got[0].Docs != 40 || got[0].Dur != 2*time.Second {
		t.Errorf("index build fields: %+v", got[0])
	}
	if got[1].Count != 3 || got[2].Lang != "en" || got[2].Clusters != 12 {
		t.Errorf("coord fields: %+v %+v", got[1], got[2])
	}
	if got[3].Extra["created"] != true || got[3].Msg != "a.html" {
		t.Errorf("store put fields: %+v", got[3])
	}
	if got[5].Err != "badger closed" || got[7].Err != "bad body" || got[7].Status != 400 {
		t.Errorf("error fields: %+v %+v", got[5], got[7])
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	var l *Logger
	l.Emit(Event{Kind: KindStartup})
	l.IndexBuilt("v", 1, time.Second)
	l.Request("GET /healthz", 200, 0, nil)
	l.Close()
}

func TestEmitRacingClose(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				l.DocumentDeleted("x.html")
			}
		}()
	}
	l.Close()
	wg.Wait()
	l.Close()

	written := strings.Count(buf.String(), "\n")
	if uint64(written)+l.Dropped() != 8*200 {
		t.Errorf("written %d + dropped %d != %d", written, l.Dropped(), 8*200)
	}
}
