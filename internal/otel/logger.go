package otel

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abelbrown/storyline/internal/logging"
)

// queueSize bounds events waiting to be written.
const queueSize = 4096

// Components that emit events.
const (
	CompCoord  = "coord"
	CompServer = "server"
	CompMain   = "main"
)

// Logger appends events to a writer as JSON lines. One goroutine owns the
// writer; Emit only enqueues and never blocks, dropping events when the
// queue is full. A nil *Logger discards everything.
type Logger struct {
	sessionID string
	enc       *json.Encoder
	closer    io.Closer // file opened by OpenFile, nil otherwise
	ring      atomic.Pointer[RingBuffer]
	dropped   atomic.Uint64

	// state guards closed and the close of queue against concurrent sends.
	state  sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewLogger starts a Logger writing to w. Close flushes and stops it.
func NewLogger(w io.Writer) *Logger {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	l := &Logger{
		sessionID: newSessionID(),
		enc:       enc,
		queue:     make(chan Event, queueSize),
		done:      make(chan struct{}),
	}
	go l.drain()
	return l
}

// NewNullLogger discards events. It still feeds an attached ring buffer.
func NewNullLogger() *Logger {
	return NewLogger(io.Discard)
}

// OpenFile appends events to the file at path, creating its directory.
func OpenFile(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	l := NewLogger(f)
	l.closer = f
	return l, nil
}

func newSessionID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (l *Logger) drain() {
	defer close(l.done)
	for e := range l.queue {
		if err := l.enc.Encode(e); err != nil {
			l.dropped.Add(1)
		}
		if ring := l.ring.Load(); ring != nil {
			ring.Push(e)
		}
	}
}

// Emit queues e, stamping the session id and Time when unset.
func (l *Logger) Emit(e Event) {
	if l == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.SessionID = l.sessionID

	l.state.RLock()
	defer l.state.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		return
	}
	select {
	case l.queue <- e:
	default:
		l.dropped.Add(1)
	}
}

func (l *Logger) Info(kind EventKind, comp, msg string) {
	l.Emit(Event{Level: LevelInfo, Kind: kind, Comp: comp, Msg: msg})
}

func (l *Logger) Warn(kind EventKind, comp, msg string) {
	l.Emit(Event{Level: LevelWarn, Kind: kind, Comp: comp, Msg: msg})
}

// Error emits an error-level event. A nil err leaves Err empty.
func (l *Logger) Error(kind EventKind, comp string, err error) {
	e := Event{Level: LevelError, Kind: kind, Comp: comp}
	if err != nil {
		e.Err = err.Error()
	}
	l.Emit(e)
}

// IndexBuilt records a finished index build over docs documents.
func (l *Logger) IndexBuilt(version string, docs int, took time.Duration) {
	l.Emit(Event{Level: LevelInfo, Kind: KindIndexBuild, Comp: CompCoord, Version: version, Docs: docs, Dur: took})
}

// StaleRemoved records n documents deleted for an expired TTL.
func (l *Logger) StaleRemoved(n int) {
	l.Emit(Event{Level: LevelInfo, Kind: KindIndexStaleRemoved, Comp: CompCoord, Count: n})
}

// LanguageClustered records the cluster count of one language.
func (l *Logger) LanguageClustered(lang string, clusters int) {
	l.Emit(Event{Level: LevelDebug, Kind: KindClusterLanguage, Comp: CompCoord, Lang: lang, Clusters: clusters})
}

// DocumentStored records a document put through the API.
func (l *Logger) DocumentStored(name, lang string, created bool) {
	l.Emit(Event{
		Level: LevelDebug,
		Kind:  KindStorePut,
		Comp:  CompServer,
		Lang:  lang,
		Msg:   name,
		Extra: map[string]any{"created": created},
	})
}

func (l *Logger) DocumentDeleted(name string) {
	l.Emit(Event{Level: LevelDebug, Kind: KindStoreDelete, Comp: CompServer, Msg: name})
}

// StoreFailed records a failed store operation on the named document.
func (l *Logger) StoreFailed(name string, err error) {
	e := Event{Level: LevelError, Kind: KindStoreError, Comp: CompServer, Msg: name}
	if err != nil {
		e.Err = err.Error()
	}
	l.Emit(e)
}

// Request records one served HTTP request. A non-nil err raises the level
// to warn.
func (l *Logger) Request(route string, status int, took time.Duration, err error) {
	e := Event{Level: LevelDebug, Kind: KindHTTPRequest, Comp: CompServer, Route: route, Status: status, Dur: took}
	if err != nil {
		e.Level = LevelWarn
		e.Err = err.Error()
	}
	l.Emit(e)
}

// SetRingBuffer mirrors every written event into ring.
func (l *Logger) SetRingBuffer(ring *RingBuffer) {
	l.ring.Store(ring)
}

func (l *Logger) SessionID() string {
	return l.sessionID
}

// Dropped returns how many events were lost.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// Close writes out queued events and stops the writer. Later Emits are
// dropped. Close is idempotent.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.state.Lock()
	if l.closed {
		l.state.Unlock()
		return
	}
	l.closed = true
	close(l.queue)
	l.state.Unlock()

	<-l.done
	if l.closer != nil {
		if err := l.closer.Close(); err != nil {
			logging.Warn("close event log", "error", err)
		}
	}
	if d := l.dropped.Load(); d > 0 {
		logging.Warn("events dropped", "count", d, "session", l.sessionID)
	}
}
