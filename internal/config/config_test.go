package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	serviceSection = `[service]
subject = "cuidador@example.com"
push_token = "ExponentPushToken[abc]"`
	authSection = `[auth]
type = "static"
token = "secret"`
	realtimeSection = `[realtime]
url = "wss://api.example.com/ws"`
	restSection = `[rest]
base_url = "https://api.example.com"`
)

func baseSections(extra ...string) string {
	return joinSections(append([]string{serviceSection, authSection, realtimeSection, restSection}, extra...)...)
}

func TestLoadSnapshotAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, baseSections())

	if cfg.Service.Name != "carealert" {
		t.Fatalf("unexpected service name %q", cfg.Service.Name)
	}
	if got := cfg.Realtime.ReconnectBaseDelay(); got != 3*time.Second {
		t.Fatalf("reconnect base %s, want 3s", got)
	}
	if cfg.Realtime.ReconnectMaxAttempts != 5 {
		t.Fatalf("max attempts %d, want 5", cfg.Realtime.ReconnectMaxAttempts)
	}
	if got := cfg.Realtime.HeartbeatInterval(); got != 30*time.Second {
		t.Fatalf("heartbeat %s, want 30s", got)
	}
	if cfg.Realtime.PingText != "ping" || cfg.Realtime.TokenParam != "token" {
		t.Fatalf("unexpected realtime defaults %+v", cfg.Realtime)
	}
	if got := cfg.Lockout.Duration(); got != 180*time.Second {
		t.Fatalf("lockout %s, want 180s", got)
	}
	if got := cfg.Lockout.SweepInterval(); got != 10*time.Second {
		t.Fatalf("sweep %s, want 10s", got)
	}
	if got := cfg.Poller.Interval(); got != 10*time.Second {
		t.Fatalf("poll interval %s, want 10s", got)
	}
	if cfg.REST.AlertsPath != "/alertas" || cfg.REST.ConfirmPath != "/alertas/{id}/confirmar" {
		t.Fatalf("unexpected REST paths %+v", cfg.REST)
	}
	if cfg.Storage.Backend != StorageBackendBadger {
		t.Fatalf("default storage %q, want badger", cfg.Storage.Backend)
	}
	if len(cfg.Notify.Sinks) != 1 || cfg.Notify.Sinks[0] != NotifySinkLog {
		t.Fatalf("default sinks %v", cfg.Notify.Sinks)
	}
	if !cfg.Log.Console.Enabled {
		t.Fatalf("console log must be enabled when no sink configured")
	}
	if cfg.Control.Enabled {
		t.Fatalf("control API must be opt-in")
	}
}

func TestPollerUsesFallback(t *testing.T) {
	t.Parallel()

	cfg := PollerConfig{SentinelPrefix: "SIMULATED-"}
	cases := []struct {
		token string
		want  bool
	}{
		{token: "SIMULATED-emulator-1", want: true},
		{token: "  SIMULATED-x", want: true},
		{token: "ExponentPushToken[abc]", want: false},
		{token: "", want: false},
	}
	for _, tc := range cases {
		if got := cfg.UsesFallback(tc.token); got != tc.want {
			t.Fatalf("UsesFallback(%q)=%v, want %v", tc.token, got, tc.want)
		}
	}
	forced := PollerConfig{Force: true}
	if !forced.UsesFallback("ExponentPushToken[abc]") {
		t.Fatalf("force must enable fallback for any token")
	}
}

func TestLoadSnapshotFromDirMergesSections(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfigFile(t, filepath.Join(dir, "10-base.toml"), baseSections())
	writeConfigFile(t, filepath.Join(dir, "20-realtime.toml"), `[realtime]
url = "ws://127.0.0.1:9000/ws"
reconnect_base_ms = 500
`)
	writeConfigFile(t, filepath.Join(dir, "README.md"), "ignored")

	cfg, err := LoadSnapshot(ConfigSource{Dir: dir})
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if cfg.Realtime.URL != "ws://127.0.0.1:9000/ws" {
		t.Fatalf("later fragment must win, got %q", cfg.Realtime.URL)
	}
	if got := cfg.Realtime.ReconnectBaseDelay(); got != 500*time.Millisecond {
		t.Fatalf("reconnect base %s, want 500ms", got)
	}
	if cfg.REST.BaseURL != "https://api.example.com" {
		t.Fatalf("untouched section lost: %q", cfg.REST.BaseURL)
	}
}

func TestLoadSnapshotFromEmptyDir(t *testing.T) {
	t.Parallel()

	if _, err := LoadSnapshot(ConfigSource{Dir: t.TempDir()}); err == nil || !strings.Contains(err.Error(), "no .toml files") {
		t.Fatalf("expected empty dir error, got %v", err)
	}
}

func TestLoadSnapshotValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing subject",
			content: joinSections(authSection, realtimeSection, restSection),
			want:    "service.subject is required",
		},
		{
			name:    "http realtime url",
			content: joinSections(serviceSection, authSection, `[realtime]`+"\n"+`url = "http://api.example.com/ws"`, restSection),
			want:    "realtime.url must be an absolute ws/wss URL",
		},
		{
			name:    "missing rest base",
			content: joinSections(serviceSection, authSection, realtimeSection),
			want:    "rest.base_url is required",
		},
		{
			name:    "confirm path without placeholder",
			content: joinSections(serviceSection, authSection, realtimeSection, `[rest]`+"\n"+`base_url = "https://api.example.com"`+"\n"+`confirm_path = "/alertas/confirmar"`),
			want:    "{id} placeholder",
		},
		{
			name:    "static auth without token",
			content: joinSections(serviceSection, `[auth]`+"\n"+`type = "static"`, realtimeSection, restSection),
			want:    "auth.token is required",
		},
		{
			name:    "oauth2 without client id",
			content: joinSections(serviceSection, `[auth]`+"\n"+`type = "oauth2"`+"\n"+`token_url = "https://idp.example.com/token"`, realtimeSection, restSection),
			want:    "auth.client_id is required",
		},
		{
			name:    "unknown auth type",
			content: joinSections(serviceSection, `[auth]`+"\n"+`type = "saml"`, realtimeSection, restSection),
			want:    "auth.type has unsupported value",
		},
		{
			name:    "unknown storage backend",
			content: baseSections(`[storage]` + "\n" + `backend = "sqlite"`),
			want:    "storage.backend has unsupported value",
		},
		{
			name:    "telegram without credentials",
			content: baseSections(`[notify]` + "\n" + `sinks = ["telegram"]`),
			want:    "notify.telegram.bot_token",
		},
		{
			name:    "duplicate sink",
			content: baseSections(`[notify]` + "\n" + `sinks = ["log", "LOG"]`),
			want:    "duplicate",
		},
		{
			name:    "broken body template",
			content: baseSections(`[notify]` + "\n" + `body_template = "{{ .Alert.ID "`),
			want:    "notify.body_template is invalid",
		},
		{
			name:    "unknown backoff",
			content: baseSections(`[notify.retry]` + "\n" + `enabled = true` + "\n" + `backoff = "random"`),
			want:    "notify.retry.backoff",
		},
		{
			name:    "file log without path",
			content: baseSections(`[log.file]` + "\n" + `enabled = true`),
			want:    "log.file.path is required",
		},
		{
			name:    "panic log level",
			content: baseSections(`[log.console]` + "\n" + `enabled = true` + "\n" + `level = "panic"`),
			want:    "log.console.level has unsupported value",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := loadSnapshotErr(t, tc.content)
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestLoadSnapshotRejectsRuntimeStateKeys(t *testing.T) {
	t.Parallel()

	err := loadSnapshotErr(t, baseSections("lastAlertId = 5"))
	if !strings.Contains(err.Error(), "runtime state keys") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadSnapshotNotifySinks(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, baseSections(`[notify]
sinks = ["log", "telegram", "http"]
title_template = "{{ upper .Kind }}"

[notify.retry]
enabled = true

[notify.telegram]
bot_token = "123:abc"
chat_id = "-1001"

[notify.http]
url = "https://hooks.example.com/carealert"
`))
	if len(cfg.Notify.Sinks) != 3 {
		t.Fatalf("sinks %v", cfg.Notify.Sinks)
	}
	if cfg.Notify.Retry.MaxAttempts != 3 || cfg.Notify.Retry.Backoff != "exponential" {
		t.Fatalf("retry defaults not applied: %+v", cfg.Notify.Retry)
	}
	if cfg.Notify.Telegram.APIBase != "https://api.telegram.org" {
		t.Fatalf("telegram api base %q", cfg.Notify.Telegram.APIBase)
	}
	if cfg.Notify.HTTP.Method != "POST" || cfg.Notify.HTTP.TimeoutSec != 10 {
		t.Fatalf("http defaults not applied: %+v", cfg.Notify.HTTP)
	}
}

func TestLoadSnapshotStorageBackends(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, baseSections(`[storage]
backend = " NATS "

[storage.nats]
url = [" nats://10.0.0.1:4222 ", ""]
allow_create_buckets = true
`))
	if cfg.Storage.Backend != StorageBackendNATS {
		t.Fatalf("backend %q", cfg.Storage.Backend)
	}
	if len(cfg.Storage.NATS.URL) != 1 || cfg.Storage.NATS.URL[0] != "nats://10.0.0.1:4222" {
		t.Fatalf("nats urls %v", cfg.Storage.NATS.URL)
	}
	if cfg.Storage.NATS.Bucket != "carealert" {
		t.Fatalf("nats bucket %q", cfg.Storage.NATS.Bucket)
	}
}

func TestFromCLI(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatalf("expected error without source")
	}
	if _, err := FromCLI("a.toml", "conf.d"); err == nil {
		t.Fatalf("expected error with both sources")
	}
	src, err := FromCLI(" a.toml ", "")
	if err != nil || src.File != "a.toml" {
		t.Fatalf("unexpected source %+v err=%v", src, err)
	}
}

func mustLoadSnapshot(t *testing.T, content string) Config {
	t.Helper()
	cfg, err := loadSnapshotFromContent(t, content)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return cfg
}

func loadSnapshotErr(t *testing.T, content string) error {
	t.Helper()
	_, err := loadSnapshotFromContent(t, content)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	return err
}

func loadSnapshotFromContent(t *testing.T, content string) (Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfigFile(t, path, content)
	return LoadSnapshot(ConfigSource{File: path})
}

func joinSections(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		nonEmpty = append(nonEmpty, trimmed)
	}
	return strings.Join(nonEmpty, "\n\n") + "\n"
}

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}
