package querygatectl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type command struct {
	method string
	path   string
	body   any
	// raw output is copied as-is instead of pretty printed.
	raw bool
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querygatectl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querygate API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 10*time.Minute), "HTTP timeout (e.g. 30s)")
	queryKey := fs.String("query-key", "", "query key for query and stream")
	noResults := fs.Bool("no-results", false, "only acknowledge query success")
	kind := fs.String("kind", "", "usage kind filter")
	limit := fs.Int("limit", 0, "usage record limit")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	cmd, err := buildCommand(fs.Args(), *queryKey, !*noResults, *kind, *limit)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + cmd.path
	code, responseBody, err := doRequest(ctx, client, cmd.method, endpoint, *apiKey, cmd.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}
	if cmd.raw {
		_, _ = stdout.Write(responseBody)
		return 0
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildCommand(args []string, queryKey string, wantResults bool, kind string, limit int) (command, error) {
	name := strings.TrimSpace(args[0])
	operands := args[1:]
	need := func(n int) error {
		if len(operands) != n {
			return fmt.Errorf("%s expects %d argument(s), got %d", name, n, len(operands))
		}
		return nil
	}

	switch name {
	case "health":
		return command{method: http.MethodGet, path: "/v1/health"}, need(0)
	case "ready":
		return command{method: http.MethodGet, path: "/v1/ready"}, need(0)
	case "streams":
		return command{method: http.MethodGet, path: "/v1/streams"}, need(0)
	case "schemas":
		return command{method: http.MethodGet, path: "/v1/schemas"}, need(0)
	case "tables":
		if err := need(1); err != nil {
			return command{}, err
		}
		return command{method: http.MethodGet, path: "/v1/schemas/" + url.PathEscape(operands[0]) + "/tables"}, nil
	case "columns":
		if err := need(1); err != nil {
			return command{}, err
		}
		return command{method: http.MethodGet, path: "/v1/tables/" + url.PathEscape(operands[0]) + "/columns"}, nil
	case "create-schema":
		if err := need(1); err != nil {
			return command{}, err
		}
		return command{method: http.MethodPost, path: "/v1/schemas", body: map[string]any{"schema": operands[0]}}, nil
	case "query":
		if err := need(1); err != nil {
			return command{}, err
		}
		body := map[string]any{"sql": operands[0], "want_results": wantResults}
		if queryKey != "" {
			body["query_key"] = queryKey
		}
		return command{method: http.MethodPost, path: "/v1/query", body: body}, nil
	case "stream":
		if err := need(1); err != nil {
			return command{}, err
		}
		body := map[string]any{"sql": operands[0]}
		if queryKey != "" {
			body["query_key"] = queryKey
		}
		return command{method: http.MethodPost, path: "/v1/query/stream", body: body, raw: true}, nil
	case "load":
		if err := need(2); err != nil {
			return command{}, err
		}
		return command{method: http.MethodPost, path: "/v1/load", body: map[string]any{"table": operands[0], "sql": operands[1]}}, nil
	case "unload":
		if err := need(1); err != nil {
			return command{}, err
		}
		return command{method: http.MethodPost, path: "/v1/unload", body: map[string]any{"table": operands[0]}}, nil
	case "usage":
		values := url.Values{}
		if kind != "" {
			values.Set("kind", kind)
		}
		if limit > 0 {
			values.Set("limit", fmt.Sprint(limit))
		}
		path := "/v1/usage"
		if encoded := values.Encode(); encoded != "" {
			path += "?" + encoded
		}
		return command{method: http.MethodGet, path: path}, need(0)
	default:
		return command{}, fmt.Errorf("unknown command %q", name)
	}
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint, apiKey string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querygatectl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                      GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                       GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  streams                     GET /v1/streams")
	_, _ = fmt.Fprintln(w, "  schemas                     GET /v1/schemas")
	_, _ = fmt.Fprintln(w, "  tables <schema>             GET /v1/schemas/{schema}/tables")
	_, _ = fmt.Fprintln(w, "  columns <schema.table>      GET /v1/tables/{table}/columns")
	_, _ = fmt.Fprintln(w, "  create-schema <schema>      POST /v1/schemas")
	_, _ = fmt.Fprintln(w, "  query <sql>                 POST /v1/query")
	_, _ = fmt.Fprintln(w, "  stream <sql>                POST /v1/query/stream")
	_, _ = fmt.Fprintln(w, "  load <schema.table> <sql>   POST /v1/load")
	_, _ = fmt.Fprintln(w, "  unload <schema.table>       POST /v1/unload")
	_, _ = fmt.Fprintln(w, "  usage                       GET /v1/usage")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
