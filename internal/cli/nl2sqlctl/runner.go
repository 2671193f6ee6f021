package nl2sqlctl

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
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type route struct {
	method string
	path   string
	// body builds the request payload from the command arguments; nil means
	// the command takes no arguments.
	body func(args []string) (any, error)
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

	fs := flag.NewFlagSet("nl2sqlctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "nl2sql API base URL")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")
	tables := fs.String("tables", "", "comma separated tables for ask and schema")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	var r route
	switch command {
	case "health":
		r = route{method: http.MethodGet, path: "/v1/health"}
	case "ready":
		r = route{method: http.MethodGet, path: "/v1/ready"}
	case "status":
		r = route{method: http.MethodGet, path: "/v1/status"}
	case "ask":
		r = route{method: http.MethodPost, path: "/v1/query", body: func(args []string) (any, error) {
			prompt, err := joinArgs(args, "question")
			if err != nil {
				return nil, err
			}
			return map[string]any{"prompt": prompt, "tables": splitTables(*tables)}, nil
		}}
	case "validate":
		r = route{method: http.MethodPost, path: "/v1/sql/validate", body: sqlBody}
	case "execute":
		r = route{method: http.MethodPost, path: "/v1/sql/execute", body: sqlBody}
	case "tables":
		r = route{method: http.MethodGet, path: "/v1/tables"}
	case "schema":
		r = route{method: http.MethodGet, path: "/v1/schema"}
		if strings.TrimSpace(*tables) != "" {
			r.path += "?tables=" + url.QueryEscape(*tables)
		}
	case "models":
		r = route{method: http.MethodGet, path: "/v1/models"}
	case "ping":
		r = route{method: http.MethodPost, path: "/v1/backend/test"}
	case "session":
		r = route{method: http.MethodGet, path: "/v1/session"}
	case "reset":
		r = route{method: http.MethodPost, path: "/v1/session/reset"}
	case "export":
		r = route{method: http.MethodPost, path: "/v1/session/export"}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	var payload any
	if r.body != nil {
		var err error
		payload, err = r.body(rest)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "%s: %v\n", command, err)
			return 2
		}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + r.path
	code, responseBody, err := doRequest(ctx, client, r.method, endpoint, payload)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
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

func sqlBody(args []string) (any, error) {
	sql, err := joinArgs(args, "sql")
	if err != nil {
		return nil, err
	}
	return map[string]any{"sql": sql}, nil
}

func joinArgs(args []string, what string) (string, error) {
	joined := strings.TrimSpace(strings.Join(args, " "))
	if joined == "" {
		return "", fmt.Errorf("%s is required", what)
	}
	return joined, nil
}

func splitTables(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func doRequest(ctx context.Context, client *http.Client, method, url string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
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
	_, _ = fmt.Fprintln(w, "usage: nl2sqlctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health              GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready               GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  status              GET /v1/status")
	_, _ = fmt.Fprintln(w, "  ask <question>      POST /v1/query")
	_, _ = fmt.Fprintln(w, "  validate <sql>      POST /v1/sql/validate")
	_, _ = fmt.Fprintln(w, "  execute <sql>       POST /v1/sql/execute")
	_, _ = fmt.Fprintln(w, "  tables              GET /v1/tables")
	_, _ = fmt.Fprintln(w, "  schema              GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  models              GET /v1/models")
	_, _ = fmt.Fprintln(w, "  ping                POST /v1/backend/test")
	_, _ = fmt.Fprintln(w, "  session             GET /v1/session")
	_, _ = fmt.Fprintln(w, "  reset               POST /v1/session/reset")
	_, _ = fmt.Fprintln(w, "  export              POST /v1/session/export")
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
