// Package stream tracks in-flight streamed queries and delivers their rows
// remapped to caller-facing names.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/duckmesh/querygate/internal/warehouse"
)

var (
	ErrDuplicateKey = errors.New("stream: query key already open")
	ErrClosed       = errors.New("stream: closed")
	ErrQueueFull    = errors.New("stream: queued limit reached")
)

type State string

const (
	StateQueued     State = "QUEUED"
	StateProcessing State = "PROCESSING"
)

// Registry owns the queued and processing sets of one connection. A key is
// in at most one of them at any time.
type Registry struct {
	Logger *slog.Logger

	mu         sync.Mutex
	queued     map[string]*Stream
	processing map[string]*Stream
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		Logger:     logger,
		queued:     map[string]*Stream{},
		processing: map[string]*Stream{},
	}
}

type Options struct {
	// HighWaterMark is the number of mapped rows read ahead of the consumer.
	// Zero reads directly from the cursor on each Next call.
	HighWaterMark int
}

// Open registers key as queued and returns a stream reading from cursor. The
// cursor is owned by the stream from here on, including on error.
func (r *Registry) Open(key string, remap RowRemap, cursor warehouse.Cursor, opts Options) (*Stream, error) {
	if cursor == nil {
		return nil, fmt.Errorf("cursor is required")
	}
	reservation, err := r.Reserve(key, 0)
	if err != nil {
		_ = closeCursor(cursor)
		return nil, err
	}
	return reservation.Open(remap, cursor, opts)
}

// Reserve claims key in the queued set before its cursor exists. When
// maxQueued > 0 a full queued set fails with ErrQueueFull. The duplicate
// check, the cap and the insert happen under one lock.
func (r *Registry) Reserve(key string, maxQueued int) (*Reservation, error) {
	if key == "" {
		return nil, fmt.Errorf("query key is required")
	}
	s := newStream(r, key)

	r.mu.Lock()
	defer r.mu.Unlock()
	_, inQueued := r.queued[key]
	_, inProcessing := r.processing[key]
	if inQueued || inProcessing {
		return nil, fmt.Errorf("open stream %q: %w", key, ErrDuplicateKey)
	}
	if maxQueued > 0 && len(r.queued) >= maxQueued {
		return nil, fmt.Errorf("open stream %q: %w (%d queued)", key, ErrQueueFull, len(r.queued))
	}
	r.queued[key] = s
	return &Reservation{stream: s}, nil
}

// Reservation holds a queued key until Open attaches a cursor or Release
// gives the key back. It is meant for a single goroutine.
type Reservation struct {
	stream *Stream
	done   bool
}

func (v *Reservation) Key() string { return v.stream.key }

// Open attaches cursor to the reserved key. The cursor is owned by the stream
// from here on, including on error.
func (v *Reservation) Open(remap RowRemap, cursor warehouse.Cursor, opts Options) (*Stream, error) {
	if v.done {
		_ = closeCursor(cursor)
		return nil, fmt.Errorf("open stream %q: reservation already used", v.stream.key)
	}
	if cursor == nil {
		v.Release()
		return nil, fmt.Errorf("cursor is required")
	}
	if opts.HighWaterMark < 0 {
		v.Release()
		_ = closeCursor(cursor)
		return nil, fmt.Errorf("high water mark must be >= 0")
	}
	v.done = true

	s := v.stream
	if remap != nil {
		s.remap = remap
	}
	s.cursor = cursor
	if opts.HighWaterMark > 0 {
		s.startReadAhead(opts.HighWaterMark)
	}
	s.registry.logger().Debug("stream opened", slog.String("query_key", s.key), slog.Int("high_water_mark", opts.HighWaterMark))
	return s, nil
}

// Release drops the key if Open was never called.
func (v *Reservation) Release() {
	if v.done {
		return
	}
	v.done = true
	v.stream.registry.remove(v.stream)
}

// State reports where key currently is. ok is false once the stream is
// closed or if the key was never opened.
func (r *Registry) State(key string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queued[key]; ok {
		return StateQueued, true
	}
	if _, ok := r.processing[key]; ok {
		return StateProcessing, true
	}
	return "", false
}

func (r *Registry) Queued() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.queued)
}

func (r *Registry) Processing() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.processing)
}

// Snapshot returns both sets under one lock.
func (r *Registry) Snapshot() (queued, processing []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.queued), sortedKeys(r.processing)
}

func (r *Registry) Counts() (queued, processing int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queued), len(r.processing)
}

// markProcessing moves s from queued to processing. It does nothing if s is
// no longer queued, which is the case after teardown.
func (r *Registry) markProcessing(s *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.queued[s.key]; ok && current == s {
		delete(r.queued, s.key)
		r.processing[s.key] = s
	}
}

func (r *Registry) remove(s *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.queued[s.key]; ok && current == s {
		delete(r.queued, s.key)
	}
	if current, ok := r.processing[s.key]; ok && current == s {
		delete(r.processing, s.key)
	}
}

func (r *Registry) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return discardLogger
}

func sortedKeys(m map[string]*Stream) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func closeCursor(cursor warehouse.Cursor) error {
	if cursor == nil {
		return nil
	}
	return cursor.Close()
}
