package main

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func requireContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Fatalf("expected %q to contain %q", s, substr)
	}
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	requireContains(t, out, "keyctl version "+version)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "prefix", args: []string{"resolve", "skd://abc123"}, want: "abc123"},
		{name: "delimiter", args: []string{"resolve", "--policy", "delimiter", "https://k.example.com/keys/xyz"}, want: "xyz"},
		{name: "missing prefix", args: []string{"resolve", "https://abc123"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, tt.args...)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got output %q", out)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if strings.TrimSpace(out) != tt.want {
				t.Errorf("want %q, got %q", tt.want, out)
			}
		})
	}
}

func TestRetry(t *testing.T) {
	out, err := runCLI(t, "retry", "timed_out")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	requireContains(t, out, "true")

	out, err = runCLI(t, "--output", "json", "retry", "bogus")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	requireContains(t, out, `"retry":false`)
}

func TestCertificateAndLicense(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cert":
			w.Write([]byte{0x01, 0x02})
		case "/license":
			body, _ := io.ReadAll(r.Body)
			if !bytes.Equal(body, []byte{0xAA}) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte{0xCC, 0xCC})
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	out, err := runCLI(t, "certificate", "fetch", "--url", srv.URL+"/cert")
	if err != nil {
		t.Fatalf("certificate fetch: %v", err)
	}
	requireContains(t, out, "AQI=")

	out, err = runCLI(t, "license", "exchange", "--url", srv.URL+"/license", "--spc", base64.StdEncoding.EncodeToString([]byte{0xAA}))
	if err != nil {
		t.Fatalf("license exchange: %v", err)
	}
	requireContains(t, out, "zMw=")

	ckcPath := filepath.Join(t.TempDir(), "ckc.bin")
	if _, err := runCLI(t, "license", "exchange", "--url", srv.URL+"/license", "--spc", "qg==", "--out", ckcPath); err != nil {
		t.Fatalf("license exchange to file: %v", err)
	}
	got, err := os.ReadFile(ckcPath)
	if err != nil {
		t.Fatalf("read ckc: %v", err)
	}
	if !bytes.Equal(got, []byte{0xCC, 0xCC}) {
		t.Errorf("unexpected ckc bytes: %x", got)
	}

	_, err = runCLI(t, "license", "exchange", "--url", srv.URL+"/denied", "--spc", "qg==")
	if err == nil {
		t.Fatal("expected error for rejected exchange")
	}
	requireContains(t, err.Error(), "NON_SUCCESS_STATUS")
}

func TestSessionAndKeysCommands(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"session_id":"s-1","player_id":"p-1","asset_id":"movie"}`)
	})
	mux.HandleFunc("DELETE /v1/sessions/s-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"abandoned":2}`)
	})
	mux.HandleFunc("GET /v1/sessions/s-1/key-requests", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"requests":[{"request_id":"r-1","kind":"initial","locator":"skd://abc123","asset_id":"abc123","state":"failed","error":{"kind":"LICENSE_EXCHANGE_FAILED","failure":"NON_SUCCESS_STATUS","status_code":403}}]}`)
	})
	mux.HandleFunc("GET /v1/assets/abc123/keys", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"keys":[{"asset_id":"abc123","generation":1,"request_id":"r-1","status":"active","created_at":"2026-01-01T00:00:00Z"}]}`)
	})
	mux.HandleFunc("GET /v1/assets/abc123/keys/current", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"asset_id":"abc123","generation":1,"ckc":"zMw="}`)
	})
	mux.HandleFunc("GET /v1/assets/missing/keys/current", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"code":"KEY_NOT_FOUND","message":"no key archived for this asset"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := runCLI(t, "--api-url", srv.URL, "session", "load", "--player", "p-1", "--asset", "movie")
	if err != nil {
		t.Fatalf("session load: %v", err)
	}
	requireContains(t, out, "Loaded session s-1")

	out, err = runCLI(t, "--api-url", srv.URL, "session", "unload", "s-1")
	if err != nil {
		t.Fatalf("session unload: %v", err)
	}
	requireContains(t, out, "2 request(s) abandoned")

	out, err = runCLI(t, "--api-url", srv.URL, "requests", "list", "--session", "s-1")
	if err != nil {
		t.Fatalf("requests list: %v", err)
	}
	requireContains(t, out, "LICENSE_EXCHANGE_FAILED/NON_SUCCESS_STATUS (403)")

	out, err = runCLI(t, "--api-url", srv.URL, "keys", "list", "--asset", "abc123")
	if err != nil {
		t.Fatalf("keys list: %v", err)
	}
	requireContains(t, out, "active")

	out, err = runCLI(t, "--api-url", srv.URL, "keys", "get", "--asset", "abc123")
	if err != nil {
		t.Fatalf("keys get: %v", err)
	}
	requireContains(t, out, "zMw=")

	_, err = runCLI(t, "--api-url", srv.URL, "keys", "get", "--asset", "missing")
	if err == nil {
		t.Fatal("expected error for missing key")
	}
	requireContains(t, err.Error(), "KEY_NOT_FOUND")
}

func TestAPIURLRequired(t *testing.T) {
	t.Setenv("KEYCTL_API_URL", "")
	_, err := runCLI(t, "session", "list")
	if err == nil {
		t.Fatal("expected error without api url")
	}
	requireContains(t, err.Error(), "--api-url is required")
}

func TestMigrate(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:"+filepath.Join(t.TempDir(), "keys.db"))
	t.Setenv("MIGRATIONS_DIR", "")

	out, err := runCLI(t, "migrate", "status")
	if err != nil {
		t.Fatalf("migrate status: %v", err)
	}
	requireContains(t, out, "pending")

	out, err = runCLI(t, "migrate", "up")
	if err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	requireContains(t, out, "Applied 2 migration(s)")

	out, err = runCLI(t, "migrate", "up")
	if err != nil {
		t.Fatalf("migrate up again: %v", err)
	}
	requireContains(t, out, "No pending migrations.")

	out, err = runCLI(t, "migrate", "status")
	if err != nil {
		t.Fatalf("migrate status: %v", err)
	}
	requireContains(t, out, "create_archived_keys")
	requireContains(t, out, "applied")
}
