package driver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/querygate/internal/poller"
	"github.com/duckmesh/querygate/internal/storage"
	"github.com/duckmesh/querygate/internal/warehouse"
)

type UnloadResult struct {
	// Files are signed read URLs, one per exported shard.
	Files           []string `json:"files"`
	CSVEscapeSymbol string   `json:"csv_escape_symbol,omitempty"`
}

func (d *Driver) IsUnloadSupported() bool {
	return d.exports != nil && d.extractor != nil
}

// Unload exports table as gzip CSV shards into the export bucket and returns
// signed URLs for them.
func (d *Driver) Unload(ctx context.Context, table string) (UnloadResult, error) {
	if !d.IsUnloadSupported() {
		return UnloadResult{}, ErrUnloadDisabled
	}
	if _, _, err := splitTable(table); err != nil {
		return UnloadResult{}, err
	}
	pattern, err := storage.BuildExportPattern(table)
	if err != nil {
		return UnloadResult{}, err
	}

	usage := d.usageContext(warehouse.UsageContext{Kind: "unload"}, "unload")
	job, err := d.extractor.SubmitExtract(ctx, warehouse.ExtractSpec{
		Table:          table,
		ObjectPattern:  pattern,
		DestinationURI: d.exports.URI(pattern),
		Gzip:           true,
	})
	if err != nil {
		return UnloadResult{}, fmt.Errorf("unload %s: %w", table, err)
	}
	if _, err := d.poller.Run(ctx, poller.Request{Job: job, Usage: usage}); err != nil {
		return UnloadResult{}, fmt.Errorf("unload %s: %w", table, err)
	}

	prefix, err := storage.ExportObjectPrefix(table)
	if err != nil {
		return UnloadResult{}, err
	}
	objects, err := d.exports.List(ctx, prefix)
	if err != nil {
		return UnloadResult{}, fmt.Errorf("list unloaded files: %w", err)
	}
	result := UnloadResult{Files: make([]string, 0, len(objects)), CSVEscapeSymbol: d.cfg.CSVEscapeSymbol}
	for _, object := range objects {
		if !strings.HasSuffix(object.Key, ".csv.gz") {
			continue
		}
		signed, err := d.exports.PresignGet(ctx, object.Key, d.cfg.SignedURLTTL)
		if err != nil {
			return UnloadResult{}, fmt.Errorf("sign unloaded file %q: %w", object.Key, err)
		}
		result.Files = append(result.Files, signed)
	}
	d.logger.Info("table unloaded", slog.String("table", table), slog.String("job_id", job.ID()), slog.Int("files", len(result.Files)))
	return result, nil
}
