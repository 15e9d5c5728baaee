package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const maxPathComponentLength = 1024

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]*$`)

// ExportObjectPrefix is the key prefix shared by every file exported for
// table, which is either "table" or "schema.table".
func ExportObjectPrefix(table string) (string, error) {
	if err := validateTableName(table); err != nil {
		return "", err
	}
	return table + "-", nil
}

// BuildExportPattern returns the wildcard object key an extract writes to.
// Backends replace the wildcard with a shard number.
func BuildExportPattern(table string) (string, error) {
	prefix, err := ExportObjectPrefix(table)
	if err != nil {
		return "", err
	}
	return prefix + "*.csv.gz", nil
}

// BuildExportShardKey names one concrete shard of BuildExportPattern.
func BuildExportShardKey(table string, shard int) (string, error) {
	if shard < 0 {
		return "", fmt.Errorf("shard must be >= 0")
	}
	prefix, err := ExportObjectPrefix(table)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%012d.csv.gz", prefix, shard), nil
}

// BuildTableDataPrefix is where parquet files for schema.table live in the
// local warehouse bucket.
func BuildTableDataPrefix(schema, table string) (string, error) {
	if err := validatePathComponent(schema, "schema name"); err != nil {
		return "", err
	}
	if err := validatePathComponent(table, "table name"); err != nil {
		return "", err
	}
	return path.Join("tables", schema, table) + "/", nil
}

// ParseTableDataKey is the inverse of BuildTableDataPrefix for a parquet key.
func ParseTableDataKey(key string) (schema, table string, ok bool) {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	if len(parts) < 4 || parts[0] != "tables" || !strings.HasSuffix(parts[len(parts)-1], ".parquet") {
		return "", "", false
	}
	if validatePathComponent(parts[1], "schema name") != nil || validatePathComponent(parts[2], "table name") != nil {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func validateTableName(table string) error {
	parts := strings.Split(table, ".")
	if len(parts) > 2 {
		return fmt.Errorf("invalid table name: %q", table)
	}
	for _, part := range parts {
		if err := validatePathComponent(part, "table name"); err != nil {
			return fmt.Errorf("invalid table name: %q", table)
		}
	}
	return nil
}

func validatePathComponent(value, field string) error {
	if len(value) > maxPathComponentLength || strings.Contains(value, "..") || !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
