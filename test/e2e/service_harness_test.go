package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"carealert/internal/app"
	"carealert/internal/clock"
	"carealert/internal/config"
	"carealert/test/testutil"
)

const stepTimeout = 8 * time.Second

// newServiceFromConfig creates Service from file config path for e2e scenarios.
// Params: test handle and absolute config path.
// Returns: initialized service instance.
func newServiceFromConfig(t *testing.T, path string) *app.Service {
	t.Helper()

	source, err := config.FromCLI(path, "")
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

// runService starts service in background with cancellable context.
// Params: test handle and initialized service.
// Returns: cancel callback and done channel with Run result.
func runService(t *testing.T, service *app.Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.Run(ctx)
	}()
	return cancel, done
}

// waitReady waits for /readyz endpoint to return 200.
func waitReady(t *testing.T, port int) {
	t.Helper()
	waitFor(t, stepTimeout, func() bool {
		response, err := http.Get(controlURL(port, "/readyz"))
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusOK
	})
}

// waitServiceStop asserts service Run exits without error after cancellation.
// Params: test handle and done channel returned by runService.
// Returns: test fails if stop timeout/error happens.
func waitServiceStop(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("service run error: %v", runErr)
		}
	case <-time.After(stepTimeout):
		t.Fatalf("service did not stop after cancel")
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func controlURL(port int, path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
}

// controlCall sends one request to the control API and decodes the JSON reply.
func controlCall(t *testing.T, method string, port int, path string) (int, map[string]any) {
	t.Helper()
	request, err := http.NewRequest(method, controlURL(port, path), nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer response.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return response.StatusCode, body
}

// backendStub serves the REST backend and the Telegram Bot API.
type backendStub struct {
	rest     *httptest.Server
	telegram *httptest.Server

	mu        sync.Mutex
	alerts    string
	confirmed []string
	messages  []string
}

func startBackendStub(t *testing.T) *backendStub {
	t.Helper()
	stub := &backendStub{alerts: "[]"}

	restMux := http.NewServeMux()
	restMux.HandleFunc("GET /alertas", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer e2e-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		stub.mu.Lock()
		body := stub.alerts
		stub.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
	restMux.HandleFunc("POST /alertas/{id}/confirmar", func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.confirmed = append(stub.confirmed, r.PathValue("id"))
		stub.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	stub.rest = httptest.NewServer(restMux)

	stub.telegram = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(2 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		stub.mu.Lock()
		stub.messages = append(stub.messages, r.FormValue("text"))
		stub.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":1,"chat":{"id":1,"type":"private"}}}`))
	}))

	t.Cleanup(func() {
		stub.rest.Close()
		stub.telegram.Close()
	})
	return stub
}

func (s *backendStub) setAlerts(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = body
}

func (s *backendStub) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func (s *backendStub) Confirmed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.confirmed...)
}

// serviceConfig renders one TOML config wired to the stubs.
// Params: websocket URL, backend stub, control port, push token, and storage section.
func serviceConfig(wsURL string, stub *backendStub, port int, pushToken, storage string) string {
	return fmt.Sprintf(`
[service]
subject = "cuidador@example.com"
push_token = %q

[log.console]
enabled = true
level = "error"
format = "line"

[auth]
type = "static"
token = "e2e-token"

[realtime]
url = %q
handshake_timeout_sec = 2

[rest]
base_url = %q

[poller]
interval_sec = 1

[notify]
sinks = ["telegram"]
title_template = "Alerta {{ .AlertID }}"

[notify.telegram]
bot_token = "123:e2e"
chat_id = "-1001"
api_base = %q

[control]
enabled = true
listen = "127.0.0.1:%d"

%s
`, pushToken, wsURL, stub.rest.URL, stub.telegram.URL, port, storage)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	port, err := testutil.FreePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	return port
}

func alertFrame(id int64, message string) []byte {
	return []byte(fmt.Sprintf(`{"tipo":"nueva_alerta","timestamp":"2026-10-19T10:00:00Z","alerta":{"id":%d,"leido":false,"mensaje":%q}}`, id, message))
}
