package nl2sqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type recordedRequest struct {
	method      string
	path        string
	rawQuery    string
	contentType string
	body        map[string]any
}

func newRecordingServer(t *testing.T, status int, response string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	got := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.rawQuery = r.URL.RawQuery
		got.contentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestRunAskCommand(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusOK, `{"sql":"SELECT COUNT(*) FROM users","rows":[[3]]}`)

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-tables", "users, orders",
		"ask", "how", "many", "users",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if got.method != http.MethodPost || got.path != "/v1/query" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
	if got.contentType != "application/json" {
		t.Fatalf("content type = %q", got.contentType)
	}
	if got.body["prompt"] != "how many users" {
		t.Fatalf("prompt = %v", got.body["prompt"])
	}
	tables, ok := got.body["tables"].([]any)
	if !ok || len(tables) != 2 || tables[1] != "orders" {
		t.Fatalf("tables = %#v", got.body["tables"])
	}
	if stdout.Len() == 0 {
		t.Fatal("expected command output")
	}
}

func TestRunSQLCommands(t *testing.T) {
	for command, path := range map[string]string{
		"validate": "/v1/sql/validate",
		"execute":  "/v1/sql/execute",
	} {
		srv, got := newRecordingServer(t, http.StatusOK, `{}`)
		code := Run(context.Background(), []string{"-base-url", srv.URL, command, "SELECT 1"}, Options{})
		if code != 0 {
			t.Fatalf("%s exit code = %d", command, code)
		}
		if got.method != http.MethodPost || got.path != path || got.body["sql"] != "SELECT 1" {
			t.Fatalf("%s request = %s %s %#v", command, got.method, got.path, got.body)
		}
	}
}

func TestRunSessionCommands(t *testing.T) {
	tests := []struct {
		command string
		method  string
		path    string
	}{
		{"status", http.MethodGet, "/v1/status"},
		{"session", http.MethodGet, "/v1/session"},
		{"reset", http.MethodPost, "/v1/session/reset"},
		{"export", http.MethodPost, "/v1/session/export"},
		{"ping", http.MethodPost, "/v1/backend/test"},
		{"models", http.MethodGet, "/v1/models"},
		{"tables", http.MethodGet, "/v1/tables"},
	}
	for _, tc := range tests {
		srv, got := newRecordingServer(t, http.StatusOK, `{"status":"ok"}`)
		code := Run(context.Background(), []string{"-base-url", srv.URL, tc.command}, Options{})
		if code != 0 {
			t.Fatalf("%s exit code = %d", tc.command, code)
		}
		if got.method != tc.method || got.path != tc.path {
			t.Fatalf("%s request = %s %s", tc.command, got.method, got.path)
		}
	}
}

func TestRunSchemaCommandPassesTables(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusOK, `{"schema":""}`)
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-tables", "users,orders", "schema"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.path != "/v1/schema" || got.rawQuery != "tables=users%2Corders" {
		t.Fatalf("request = %s?%s", got.path, got.rawQuery)
	}
}

func TestRunAskRequiresQuestion(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"ask"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected error output")
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv, _ := newRecordingServer(t, http.StatusUnprocessableEntity, `{"error_code":"UNSAFE_STATEMENT"}`)

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "execute", "DROP TABLE users"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !bytes.Contains(stderr.Bytes(), []byte("UNSAFE_STATEMENT")) {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"unknown"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage output")
	}
}
