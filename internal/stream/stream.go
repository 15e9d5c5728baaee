package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/duckmesh/querygate/internal/observability"
	"github.com/duckmesh/querygate/internal/warehouse"
)

// UnmappedPrefix marks output keys for remote fields the remap does not know.
const UnmappedPrefix = "__unmapped__."

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// RowRemap maps remote field names to caller-facing names. It is shared
// read-only by every row of a stream.
type RowRemap map[string]string

func (m RowRemap) Apply(raw warehouse.Row) warehouse.Row {
	mapped := make(warehouse.Row, len(raw))
	for field, value := range raw {
		name, ok := m[field]
		if !ok {
			name = UnmappedPrefix + field
		}
		mapped[name] = value
	}
	return mapped
}

// TeardownError is returned when a stream ends because of a failure rather
// than cursor exhaustion.
type TeardownError struct {
	Key string
	Err error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("stream %s torn down: %v", e.Key, e.Err)
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}

// Stream delivers mapped rows in cursor order. Next is not safe for
// concurrent use, but Close may be called while another goroutine is blocked
// in Next. The blocked read is cancelled and the cursor is closed after it
// returns.
type Stream struct {
	key      string
	remap    RowRemap
	cursor   warehouse.Cursor
	registry *Registry

	// started is only touched by the goroutine reading the cursor.
	started bool

	rows       chan warehouse.Row
	group      *errgroup.Group
	stopReader context.CancelFunc

	// readMu is held by a pull-mode cursor read and by cursor.Close.
	readMu     sync.Mutex
	cancelMu   sync.Mutex
	cancelRead context.CancelFunc

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
	err       error
}

func newStream(registry *Registry, key string) *Stream {
	return &Stream{
		key:      key,
		remap:    RowRemap{},
		registry: registry,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Stream) Key() string { return s.key }

// State is the registry state of this stream; ok is false once closed.
func (s *Stream) State() (State, bool) {
	return s.registry.State(s.key)
}

// Done is closed after teardown has finished.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns the teardown error, if any, once Done is closed.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Next returns the next mapped row. It returns io.EOF after the last row, at
// which point the stream has already been closed.
func (s *Stream) Next(ctx context.Context) (warehouse.Row, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}
	if s.rows != nil {
		return s.nextBuffered(ctx)
	}

	raw, err := s.pull(ctx)
	if s.isClosing() {
		<-s.done
		return nil, ErrClosed
	}
	if errors.Is(err, io.EOF) {
		return nil, s.finish()
	}
	if err != nil {
		return nil, s.CloseWithError(err)
	}
	observability.ObserveStreamedRows(1)
	return s.transform(raw), nil
}

// pull reads one raw row. Teardown cancels the read and waits for it before
// closing the cursor.
func (s *Stream) pull(ctx context.Context) (warehouse.Row, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelMu.Lock()
	s.cancelRead = cancel
	s.cancelMu.Unlock()

	s.readMu.Lock()
	defer s.readMu.Unlock()
	if s.isClosing() {
		return nil, ErrClosed
	}
	return s.cursor.Next(ctx)
}

func (s *Stream) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *Stream) nextBuffered(ctx context.Context) (warehouse.Row, error) {
	select {
	case row, ok := <-s.rows:
		if ok {
			observability.ObserveStreamedRows(1)
			return row, nil
		}
		if err := s.group.Wait(); err != nil {
			return nil, s.CloseWithError(err)
		}
		return nil, s.finish()
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, s.CloseWithError(ctx.Err())
	}
}

// Each calls fn for every remaining row. An error from fn tears the stream
// down and is returned wrapped in a TeardownError.
func (s *Stream) Each(ctx context.Context, fn func(warehouse.Row) error) error {
	for {
		row, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return s.CloseWithError(err)
		}
	}
}

// Close ends the stream normally. It is idempotent and always removes the key
// from the registry.
func (s *Stream) Close() error {
	return s.teardown(nil, "closed")
}

// CloseWithError tears the stream down because of err and returns the
// resulting TeardownError. Later calls return the first teardown result.
func (s *Stream) CloseWithError(err error) error {
	if err == nil {
		return s.Close()
	}
	reason := "error"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		reason = "cancelled"
	}
	return s.teardown(err, reason)
}

func (s *Stream) finish() error {
	if err := s.teardown(nil, "completed"); err != nil {
		return err
	}
	return io.EOF
}

func (s *Stream) teardown(cause error, reason string) error {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.registry.remove(s)

		if s.stopReader != nil {
			s.stopReader()
			_ = s.group.Wait()
		}
		s.cancelMu.Lock()
		if s.cancelRead != nil {
			s.cancelRead()
		}
		s.cancelMu.Unlock()
		s.readMu.Lock()
		closeErr := s.cursor.Close()
		s.readMu.Unlock()

		switch {
		case cause != nil:
			s.err = &TeardownError{Key: s.key, Err: cause}
		case closeErr != nil:
			s.err = &TeardownError{Key: s.key, Err: fmt.Errorf("close cursor: %w", closeErr)}
			reason = "error"
		}
		observability.IncrementStreamTeardown(reason)

		logger := s.registry.logger()
		if s.err != nil {
			logger.Warn("stream torn down", slog.String("query_key", s.key), slog.String("reason", reason), slog.Any("error", s.err))
		} else {
			logger.Debug("stream closed", slog.String("query_key", s.key), slog.String("reason", reason))
		}
		close(s.done)
	})
	return s.err
}

func (s *Stream) transform(raw warehouse.Row) warehouse.Row {
	if !s.started {
		s.started = true
		s.registry.markProcessing(s)
	}
	return s.remap.Apply(raw)
}

// startReadAhead reads up to highWaterMark mapped rows ahead of the consumer.
// The reader blocks once the buffer is full.
func (s *Stream) startReadAhead(highWaterMark int) {
	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)
	s.rows = make(chan warehouse.Row, highWaterMark)
	s.group = group
	s.stopReader = cancel

	group.Go(func() error {
		defer close(s.rows)
		for {
			raw, err := s.cursor.Next(groupCtx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			row := s.transform(raw)
			select {
			case s.rows <- row:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
	})
}
