// Package otel records pipeline events as JSONL.
//
// Events are flat structs, one JSON object per line. The Logger writes them
// from a background goroutine so emitters never block on disk; a RingBuffer
// keeps the most recent events in memory for /debug/events.
package otel

import (
	"encoding/json"
	"strings"
	"time"
)

// Level is event severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// rank orders levels for minimum-level filters. Unknown levels rank as info.
func (l Level) rank() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// AtLeast reports whether l is as severe as min.
func (l Level) AtLeast(min Level) bool {
	return l.rank() >= min.rank()
}

// EventKind is "<subsystem>.<action>".
type EventKind string

const (
	KindIndexBuild        EventKind = "index.build"
	KindIndexFailed       EventKind = "index.failed"
	KindIndexStaleRemoved EventKind = "index.stale_removed"
	KindClusterLanguage   EventKind = "cluster.language"

	KindStorePut    EventKind = "store.put"
	KindStoreDelete EventKind = "store.delete"
	KindStoreError  EventKind = "store.error"

	KindHTTPRequest EventKind = "http.request"

	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
)

// Event is one observability record. Only Kind and Time are always set.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      EventKind      `json:"kind"`
	Comp      string         `json:"comp,omitempty"` // "coord", "server", "store", "main"
	SessionID string         `json:"session_id,omitempty"`
	Version   string         `json:"version,omitempty"` // index version
	Lang      string         `json:"lang,omitempty"`
	Dur       time.Duration  `json:"-"`
	DurMs     float64        `json:"dur_ms,omitempty"` // filled from Dur when marshaling
	Docs      int            `json:"docs,omitempty"`
	Clusters  int            `json:"clusters,omitempty"`
	Count     int            `json:"count,omitempty"`
	Route     string         `json:"route,omitempty"`
	Status    int            `json:"status,omitempty"`
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// MarshalJSON converts Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	a := alias(e)
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	// Kind matches exactly, or by prefix when it ends in ".", as in "index.".
	Kind     string
	MinLevel Level
	Comp     string
}

// Match reports whether e passes f.
func (f Filter) Match(e Event) bool {
	if f.Kind != "" {
		k := string(e.Kind)
		if strings.HasSuffix(f.Kind, ".") {
			if !strings.HasPrefix(k, f.Kind) {
				return false
			}
		} else if k != f.Kind {
			return false
		}
	}
	if f.MinLevel != "" && !e.Level.AtLeast(f.MinLevel) {
		return false
	}
	if f.Comp != "" && e.Comp != f.Comp {
		return false
	}
	return true
}
