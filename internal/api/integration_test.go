//go:build integration

package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/duckmesh/querygate/internal/driver"
	"github.com/duckmesh/querygate/internal/migrations"
	"github.com/duckmesh/querygate/internal/usage"
	usagepostgres "github.com/duckmesh/querygate/internal/usage/postgres"
	"github.com/duckmesh/querygate/internal/warehouse/duckdb"
)

func TestDuckDBGatewayLoadQueryAndStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backend, err := duckdb.Open(ctx, duckdb.Config{})
	if err != nil {
		t.Fatalf("duckdb.Open() error = %v", err)
	}
	d, err := driver.New(backend, driver.Options{Config: driver.Config{DataSource: "local"}})
	if err != nil {
		t.Fatalf("driver.New() error = %v", err)
	}
	defer func() { _ = d.Close() }()

	h := NewHandler(loadConfig(t, nil), Dependencies{Gateway: d, Streams: d.Registry()})

	if rr := postJSON(h, "/v1/schemas", `{"schema":"staging"}`); rr.Code != http.StatusOK {
		t.Fatalf("create schema status = %d, body = %s", rr.Code, rr.Body.String())
	}
	load := postJSON(h, "/v1/load", `{"table":"staging.numbers","sql":"SELECT range AS n, 'row-' || range AS label FROM range(5)"}`)
	if load.Code != http.StatusOK {
		t.Fatalf("load status = %d, body = %s", load.Code, load.Body.String())
	}

	query := postJSON(h, "/v1/query", `{"sql":"SELECT count(*) AS total FROM staging.numbers WHERE n >= ?","params":[2]}`)
	if query.Code != http.StatusOK {
		t.Fatalf("query status = %d, body = %s", query.Code, query.Body.String())
	}
	var response queryResponse
	if err := json.Unmarshal(query.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if len(response.Rows) != 1 || fmt.Sprint(response.Rows[0]["total"]) != "3" {
		t.Fatalf("rows = %+v", response.Rows)
	}

	columns := httptestGet(h, "/v1/tables/staging.numbers/columns")
	if columns.Code != http.StatusOK || !strings.Contains(columns.Body.String(), `"bigint"`) {
		t.Fatalf("columns status = %d, body = %s", columns.Code, columns.Body.String())
	}

	streamed := postJSON(h, "/v1/query/stream", `{"sql":"SELECT n, label FROM staging.numbers ORDER BY n","aliases":{"label":"name"}}`)
	if streamed.Code != http.StatusOK {
		t.Fatalf("stream status = %d, body = %s", streamed.Code, streamed.Body.String())
	}
	lines := strings.Split(strings.TrimSpace(streamed.Body.String()), "\n")
	if len(lines) != 5 || !strings.Contains(lines[4], `"name":"row-4"`) {
		t.Fatalf("stream lines = %q", lines)
	}
}

func TestUsageLogRecordsJobsAgainstPostgres(t *testing.T) {
	adminDSN := strings.TrimSpace(os.Getenv("QUERYGATE_TEST_USAGE_DSN"))
	if adminDSN == "" {
		t.Skip("QUERYGATE_TEST_USAGE_DSN is not set")
	}

	testDSN, cleanup := createTemporaryDatabase(t, adminDSN)
	defer cleanup()

	db, err := sql.Open("pgx", testDSN)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := migrations.NewRunner().Up(ctx, db, 0); err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}
	store := usagepostgres.NewStore(db)

	backend, err := duckdb.Open(ctx, duckdb.Config{})
	if err != nil {
		t.Fatalf("duckdb.Open() error = %v", err)
	}
	d, err := driver.New(backend, driver.Options{
		Config:   driver.Config{DataSource: "local"},
		Reporter: usage.Fanout{usage.Metrics{}, store},
	})
	if err != nil {
		t.Fatalf("driver.New() error = %v", err)
	}
	defer func() { _ = d.Close() }()

	h := NewHandler(loadConfig(t, nil), Dependencies{Gateway: d, Usage: store})
	if rr := postJSON(h, "/v1/query", `{"sql":"SELECT 1 AS one","query_key":"usage-it"}`); rr.Code != http.StatusOK {
		t.Fatalf("query status = %d, body = %s", rr.Code, rr.Body.String())
	}

	listed := httptestGet(h, "/v1/usage?kind=query")
	if listed.Code != http.StatusOK {
		t.Fatalf("usage status = %d, body = %s", listed.Code, listed.Body.String())
	}
	var body struct {
		Records []usage.Record `json:"records"`
	}
	if err := json.Unmarshal(listed.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode usage: %v", err)
	}
	if len(body.Records) != 1 {
		t.Fatalf("records = %+v", body.Records)
	}
	record := body.Records[0]
	if record.QueryKey != "usage-it" || record.DataSource != "local" || record.JobID == "" {
		t.Fatalf("record = %+v", record)
	}
}

func createTemporaryDatabase(t *testing.T, adminDSN string) (string, func()) {
	t.Helper()

	parsed, err := url.Parse(adminDSN)
	if err != nil {
		t.Fatalf("url.Parse(adminDSN) error = %v", err)
	}
	if strings.TrimPrefix(parsed.Path, "/") == "" {
		t.Fatal("admin DSN must include a database name")
	}

	adminDB, err := sql.Open("pgx", adminDSN)
	if err != nil {
		t.Fatalf("sql.Open(adminDSN) error = %v", err)
	}

	name := fmt.Sprintf("querygate_it_api_%d", time.Now().UnixNano())
	if _, err := adminDB.Exec(`CREATE DATABASE ` + name); err != nil {
		t.Fatalf("CREATE DATABASE failed: %v", err)
	}

	testURL := *parsed
	testURL.Path = "/" + name

	cleanup := func() {
		defer func() { _ = adminDB.Close() }()
		if _, err := adminDB.Exec(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`, name); err != nil {
			t.Fatalf("terminate test db sessions: %v", err)
		}
		if _, err := adminDB.Exec(`DROP DATABASE ` + name); err != nil {
			t.Fatalf("DROP DATABASE failed: %v", err)
		}
	}
	return testURL.String(), cleanup
}
