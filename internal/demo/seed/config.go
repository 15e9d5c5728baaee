package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Schema          string
	Table           string
	Files           int
	RowsPerFile     int
	UserCardinality int
	Seed            int64
	Start           time.Time
	Step            time.Duration
}

func DefaultConfig() Config {
	return Config{
		Schema:          "demo",
		Table:           "events",
		Files:           4,
		RowsPerFile:     5000,
		UserCardinality: 200,
		Seed:            42,
		Start:           DefaultStart,
		Step:            time.Second,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	steps := []func() error{
		func() error { return applyString(lookup, "QUERYGATE_SEED_SCHEMA", &cfg.Schema) },
		func() error { return applyString(lookup, "QUERYGATE_SEED_TABLE", &cfg.Table) },
		func() error { return applyInt(lookup, "QUERYGATE_SEED_FILES", &cfg.Files) },
		func() error { return applyInt(lookup, "QUERYGATE_SEED_ROWS_PER_FILE", &cfg.RowsPerFile) },
		func() error { return applyInt(lookup, "QUERYGATE_SEED_USER_CARDINALITY", &cfg.UserCardinality) },
		func() error { return applyInt64(lookup, "QUERYGATE_SEED_RANDOM_SEED", &cfg.Seed) },
		func() error { return applyDuration(lookup, "QUERYGATE_SEED_STEP", &cfg.Step) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Schema == "" {
		return Config{}, fmt.Errorf("QUERYGATE_SEED_SCHEMA is required")
	}
	if cfg.Table == "" {
		return Config{}, fmt.Errorf("QUERYGATE_SEED_TABLE is required")
	}
	if cfg.Files <= 0 {
		return Config{}, fmt.Errorf("QUERYGATE_SEED_FILES must be > 0")
	}
	if cfg.RowsPerFile <= 0 {
		return Config{}, fmt.Errorf("QUERYGATE_SEED_ROWS_PER_FILE must be > 0")
	}
	if cfg.UserCardinality <= 0 {
		return Config{}, fmt.Errorf("QUERYGATE_SEED_USER_CARDINALITY must be > 0")
	}
	if cfg.Step <= 0 {
		return Config{}, fmt.Errorf("QUERYGATE_SEED_STEP must be > 0")
	}
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
