// Package seed writes a deterministic sample events table as parquet files so
// the local DuckDB backend has something to query.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/duckmesh/querygate/internal/storage"
)

type ObjectWriter interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error)
}

type Result struct {
	Keys []string
	Rows int64
}

type Seeder struct {
	Config Config
	Store  ObjectWriter
	Logger *slog.Logger
}

// Run writes Config.Files parquet parts under the table's data prefix.
// Existing parts with the same names are overwritten.
func (s *Seeder) Run(ctx context.Context) (Result, error) {
	if s.Store == nil {
		return Result{}, fmt.Errorf("object store is required")
	}
	prefix, err := storage.BuildTableDataPrefix(s.Config.Schema, s.Config.Table)
	if err != nil {
		return Result{}, err
	}
	generator := NewGenerator(s.Config.Seed, s.Config.UserCardinality, s.Config.Start, s.Config.Step)

	var result Result
	for part := 1; part <= s.Config.Files; part++ {
		events := make([]Event, 0, s.Config.RowsPerFile)
		for i := 0; i < s.Config.RowsPerFile; i++ {
			events = append(events, generator.Next())
		}
		payload, err := EncodeParquet(events)
		if err != nil {
			return result, err
		}
		key := fmt.Sprintf("%spart-%05d.parquet", prefix, part)
		if _, err := s.Store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: "application/vnd.apache.parquet"}); err != nil {
			return result, fmt.Errorf("put %s: %w", key, err)
		}
		result.Keys = append(result.Keys, key)
		result.Rows += int64(len(events))
		if s.Logger != nil {
			s.Logger.Info("seed part written", slog.String("key", key), slog.Int("rows", len(events)), slog.Int("bytes", len(payload)))
		}
	}
	return result, nil
}

func EncodeParquet(events []Event) ([]byte, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("events are required")
	}
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[Event](buf)
	if _, err := writer.Write(events); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DefaultStart anchors generated event times so reruns produce identical files.
var DefaultStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
