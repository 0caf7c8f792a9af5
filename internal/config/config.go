package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"carealert/internal/templatefmt"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName          = "carealert"
	defaultReconnectBaseMS      = 3000
	defaultReconnectMaxAttempts = 5
	defaultHeartbeatSec         = 30
	defaultPingText             = "ping"
	defaultTokenParam           = "token"
	defaultHandshakeTimeoutSec  = 10
	defaultRESTTimeoutSec       = 10
	defaultAlertsPath           = "/alertas"
	defaultConfirmPath          = "/alertas/{id}/confirmar"
	defaultLockoutDurationMS    = 180000
	defaultLockoutSweepSec      = 10
	defaultPollIntervalSec      = 10
	defaultSentinelPrefix       = "SIMULATED-"
	defaultBadgerPath           = "./data/carealert"
	defaultNATSURL              = "nats://127.0.0.1:4222"
	defaultNATSBucket           = "carealert"
	defaultControlListen        = "127.0.0.1:8790"
	defaultNotifyTitle          = "Nueva alerta"
	defaultNotifyBody           = "{{ if .Alert.Message }}{{ .Alert.Message }}{{ else }}Alerta #{{ .Alert.ID }}{{ end }}"

	// StorageBackendMemory keeps durable keys in process memory only.
	StorageBackendMemory = "memory"
	// StorageBackendBadger keeps durable keys in an embedded on-device database.
	StorageBackendBadger = "badger"
	// StorageBackendNATS keeps durable keys in a JetStream KV bucket.
	StorageBackendNATS = "nats"

	// AuthTypeStatic reads bearer token from config.
	AuthTypeStatic = "static"
	// AuthTypeFile re-reads bearer token from a file on every connection attempt.
	AuthTypeFile = "file"
	// AuthTypeOAuth2 fetches bearer token with OAuth2 client credentials.
	AuthTypeOAuth2 = "oauth2"

	// NotifySinkLog writes local notifications to the process log.
	NotifySinkLog = "log"
	// NotifySinkTelegram sends local notifications to a Telegram chat.
	NotifySinkTelegram = "telegram"
	// NotifySinkHTTP posts local notifications to a webhook.
	NotifySinkHTTP = "http"
)

var legacyJSONKeyPattern = regexp.MustCompile(`(?mi)^\s*(?:lastAlertId|bloqueosYaVoy)\s*=`)

// Config holds client runtime settings.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Log      LogConfig      `toml:"log"`
	Auth     AuthConfig     `toml:"auth"`
	Realtime RealtimeConfig `toml:"realtime"`
	REST     RESTConfig     `toml:"rest"`
	Lockout  LockoutConfig  `toml:"lockout"`
	Poller   PollerConfig   `toml:"poller"`
	Storage  StorageConfig  `toml:"storage"`
	Notify   NotifyConfig   `toml:"notify"`
	Control  ControlConfig  `toml:"control"`
}

// ServiceConfig contains process-level settings.
// Params: service name, logged-in subject, and push token.
// Returns: session identity defaults.
type ServiceConfig struct {
	Name      string `toml:"name"`
	Subject   string `toml:"subject"`
	PushToken string `toml:"push_token"`
}

// AuthConfig selects the bearer token provider.
// Params: provider type and per-type settings.
// Returns: credential provider options.
type AuthConfig struct {
	Type         string   `toml:"type"`
	Token        string   `toml:"token"`
	TokenFile    string   `toml:"token_file"`
	TokenURL     string   `toml:"token_url"`
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	Scopes       []string `toml:"scopes"`
}

// RealtimeConfig defines the persistent channel endpoint and lifecycle timings.
// Params: websocket URL, reconnect policy, heartbeat, and handshake settings.
// Returns: connection manager options.
type RealtimeConfig struct {
	URL                  string `toml:"url"`
	TokenParam           string `toml:"token_param"`
	ReconnectBaseMS      int    `toml:"reconnect_base_ms"`
	ReconnectMaxAttempts int    `toml:"reconnect_max_attempts"`
	HeartbeatSec         int    `toml:"heartbeat_sec"`
	PingText             string `toml:"ping_text"`
	HandshakeTimeoutSec  int    `toml:"handshake_timeout_sec"`
}

// RESTConfig defines REST backend endpoint settings.
// Params: base URL, paths, and request timeout.
// Returns: REST client options.
type RESTConfig struct {
	BaseURL     string `toml:"base_url"`
	AlertsPath  string `toml:"alerts_path"`
	ConfirmPath string `toml:"confirm_path"`
	TimeoutSec  int    `toml:"timeout_sec"`
}

// LockoutConfig defines acknowledgment lockout window and sweep cadence.
// Params: lock duration in ms and sweep interval in seconds.
// Returns: lockout manager options.
type LockoutConfig struct {
	DurationMS int `toml:"duration_ms"`
	SweepSec   int `toml:"sweep_sec"`
}

// PollerConfig defines REST fallback polling.
// Params: force flag, interval, and push-token sentinel prefix.
// Returns: fallback poller options.
type PollerConfig struct {
	Force          bool   `toml:"force"`
	IntervalSec    int    `toml:"interval_sec"`
	SentinelPrefix string `toml:"sentinel_prefix"`
}

// StorageConfig selects durable key-value backend.
// Params: backend name and backend-specific settings.
// Returns: store options.
type StorageConfig struct {
	Backend string            `toml:"backend"`
	Badger  BadgerStoreConfig `toml:"badger"`
	NATS    NATSStoreConfig   `toml:"nats"`
}

// BadgerStoreConfig configures the embedded on-device store.
// Params: data directory and sync-writes toggle.
// Returns: badger store options.
type BadgerStoreConfig struct {
	Path       string `toml:"path"`
	SyncWrites bool   `toml:"sync_writes"`
}

// NATSStoreConfig configures JetStream KV store.
// Params: server URLs, bucket name, and bucket creation permission.
// Returns: NATS store options.
type NATSStoreConfig struct {
	URL                []string `toml:"url"`
	Bucket             string   `toml:"bucket"`
	AllowCreateBuckets bool     `toml:"allow_create_buckets"`
}

// NotifyConfig defines local notification sinks.
// Params: enabled sinks, message templates, retry policy, and sink settings.
// Returns: notifier options.
type NotifyConfig struct {
	Sinks         []string         `toml:"sinks"`
	TitleTemplate string           `toml:"title_template"`
	BodyTemplate  string           `toml:"body_template"`
	Retry         NotifyRetry      `toml:"retry"`
	Telegram      TelegramNotifier `toml:"telegram"`
	HTTP          HTTPNotifier     `toml:"http"`
}

// NotifyRetry configures outbound delivery retries.
// Params: retry toggle, backoff, attempt limits, and logging.
// Returns: retry policy for notifications.
type NotifyRetry struct {
	Enabled        bool   `toml:"enabled"`
	Backoff        string `toml:"backoff"`
	InitialMS      int    `toml:"initial_ms"`
	MaxMS          int    `toml:"max_ms"`
	MaxAttempts    int    `toml:"max_attempts"`
	LogEachAttempt bool   `toml:"log_each_attempt"`
}

// TelegramNotifier defines Telegram sink settings.
// Params: bot token, chat ID, and API base URL.
// Returns: Telegram sender configuration.
type TelegramNotifier struct {
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
	APIBase  string `toml:"api_base"`
}

// HTTPNotifier defines webhook sink settings.
// Params: URL, method, timeout, and optional static headers.
// Returns: HTTP sender configuration.
type HTTPNotifier struct {
	URL        string            `toml:"url"`
	Method     string            `toml:"method"`
	TimeoutSec int               `toml:"timeout_sec"`
	Headers    map[string]string `toml:"headers"`
}

// ControlConfig defines the local control HTTP API.
// Params: enable flag and listen address.
// Returns: control server options.
type ControlConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReconnectBaseDelay returns linear backoff unit.
// Params: realtime config.
// Returns: base delay duration.
func (c RealtimeConfig) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseMS) * time.Millisecond
}

// HeartbeatInterval returns liveness ping cadence.
// Params: realtime config.
// Returns: heartbeat interval.
func (c RealtimeConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSec) * time.Second
}

// Duration returns lockout window.
// Params: lockout config.
// Returns: lock duration.
func (c LockoutConfig) Duration() time.Duration {
	return time.Duration(c.DurationMS) * time.Millisecond
}

// SweepInterval returns expired-lock sweep cadence.
// Params: lockout config.
// Returns: sweep interval.
func (c LockoutConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepSec) * time.Second
}

// Interval returns poll cadence.
// Params: poller config.
// Returns: poll interval.
func (c PollerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// UsesFallback reports whether the push token is a stand-in without real push transport.
// Params: poller config and device push token.
// Returns: true when REST polling must replace push delivery.
func (c PollerConfig) UsesFallback(pushToken string) bool {
	if c.Force {
		return true
	}
	prefix := strings.TrimSpace(c.SentinelPrefix)
	return prefix != "" && strings.HasPrefix(strings.TrimSpace(pushToken), prefix)
}

// rejectUnsupportedSyntax catches durable-state keys placed into config by mistake.
// Params: raw TOML file body.
// Returns: error when unsupported syntax is detected.
func rejectUnsupportedSyntax(body []byte) error {
	if legacyJSONKeyPattern.Match(body) {
		return errors.New("lastAlertId/bloqueosYaVoy are runtime state keys and must not be configured")
	}
	return nil
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := rejectUnsupportedSyntax(body); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, err := loadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays non-empty sections of source onto destination.
// Params: destination config and next fragment.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if !isZeroAuth(src.Auth) {
		dst.Auth = src.Auth
	}
	if src.Realtime != (RealtimeConfig{}) {
		dst.Realtime = src.Realtime
	}
	if src.REST != (RESTConfig{}) {
		dst.REST = src.REST
	}
	if src.Lockout != (LockoutConfig{}) {
		dst.Lockout = src.Lockout
	}
	if src.Poller != (PollerConfig{}) {
		dst.Poller = src.Poller
	}
	if !isZeroStorage(src.Storage) {
		dst.Storage = src.Storage
	}
	if !isZeroNotify(src.Notify) {
		dst.Notify = src.Notify
	}
	if src.Control != (ControlConfig{}) {
		dst.Control = src.Control
	}
}

func isZeroAuth(cfg AuthConfig) bool {
	return cfg.Type == "" && cfg.Token == "" && cfg.TokenFile == "" && cfg.TokenURL == "" &&
		cfg.ClientID == "" && cfg.ClientSecret == "" && len(cfg.Scopes) == 0
}

func isZeroStorage(cfg StorageConfig) bool {
	return cfg.Backend == "" && cfg.Badger == (BadgerStoreConfig{}) &&
		len(cfg.NATS.URL) == 0 && cfg.NATS.Bucket == "" && !cfg.NATS.AllowCreateBuckets
}

func isZeroNotify(cfg NotifyConfig) bool {
	return len(cfg.Sinks) == 0 && cfg.TitleTemplate == "" && cfg.BodyTemplate == "" &&
		cfg.Retry == (NotifyRetry{}) && cfg.Telegram == (TelegramNotifier{}) &&
		cfg.HTTP.URL == "" && cfg.HTTP.Method == "" && cfg.HTTP.TimeoutSec == 0 && len(cfg.HTTP.Headers) == 0
}

// applyDefaults fills omitted settings.
// Params: config decoded from TOML.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	cfg.Auth.Type = strings.ToLower(strings.TrimSpace(cfg.Auth.Type))
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = AuthTypeStatic
	}

	if strings.TrimSpace(cfg.Realtime.TokenParam) == "" {
		cfg.Realtime.TokenParam = defaultTokenParam
	}
	if cfg.Realtime.ReconnectBaseMS <= 0 {
		cfg.Realtime.ReconnectBaseMS = defaultReconnectBaseMS
	}
	if cfg.Realtime.ReconnectMaxAttempts <= 0 {
		cfg.Realtime.ReconnectMaxAttempts = defaultReconnectMaxAttempts
	}
	if cfg.Realtime.HeartbeatSec <= 0 {
		cfg.Realtime.HeartbeatSec = defaultHeartbeatSec
	}
	if cfg.Realtime.PingText == "" {
		cfg.Realtime.PingText = defaultPingText
	}
	if cfg.Realtime.HandshakeTimeoutSec <= 0 {
		cfg.Realtime.HandshakeTimeoutSec = defaultHandshakeTimeoutSec
	}

	if strings.TrimSpace(cfg.REST.AlertsPath) == "" {
		cfg.REST.AlertsPath = defaultAlertsPath
	}
	if strings.TrimSpace(cfg.REST.ConfirmPath) == "" {
		cfg.REST.ConfirmPath = defaultConfirmPath
	}
	if cfg.REST.TimeoutSec <= 0 {
		cfg.REST.TimeoutSec = defaultRESTTimeoutSec
	}

	if cfg.Lockout.DurationMS <= 0 {
		cfg.Lockout.DurationMS = defaultLockoutDurationMS
	}
	if cfg.Lockout.SweepSec <= 0 {
		cfg.Lockout.SweepSec = defaultLockoutSweepSec
	}

	if cfg.Poller.IntervalSec <= 0 {
		cfg.Poller.IntervalSec = defaultPollIntervalSec
	}
	if cfg.Poller.SentinelPrefix == "" {
		cfg.Poller.SentinelPrefix = defaultSentinelPrefix
	}

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageBackendBadger
	}
	if strings.TrimSpace(cfg.Storage.Badger.Path) == "" {
		cfg.Storage.Badger.Path = defaultBadgerPath
	}
	cfg.Storage.NATS.URL = normalizeNATSURLs(cfg.Storage.NATS.URL)
	if len(cfg.Storage.NATS.URL) == 0 {
		cfg.Storage.NATS.URL = []string{defaultNATSURL}
	}
	if strings.TrimSpace(cfg.Storage.NATS.Bucket) == "" {
		cfg.Storage.NATS.Bucket = defaultNATSBucket
	}

	if len(cfg.Notify.Sinks) == 0 {
		cfg.Notify.Sinks = []string{NotifySinkLog}
	}
	for i := range cfg.Notify.Sinks {
		cfg.Notify.Sinks[i] = strings.ToLower(strings.TrimSpace(cfg.Notify.Sinks[i]))
	}
	if strings.TrimSpace(cfg.Notify.TitleTemplate) == "" {
		cfg.Notify.TitleTemplate = defaultNotifyTitle
	}
	if strings.TrimSpace(cfg.Notify.BodyTemplate) == "" {
		cfg.Notify.BodyTemplate = defaultNotifyBody
	}
	fillNotifyRetryDefaults(&cfg.Notify.Retry)
	if strings.TrimSpace(cfg.Notify.Telegram.APIBase) == "" {
		cfg.Notify.Telegram.APIBase = "https://api.telegram.org"
	}
	if strings.TrimSpace(cfg.Notify.HTTP.Method) == "" {
		cfg.Notify.HTTP.Method = "POST"
	}
	if cfg.Notify.HTTP.TimeoutSec <= 0 {
		cfg.Notify.HTTP.TimeoutSec = 10
	}

	if strings.TrimSpace(cfg.Control.Listen) == "" {
		cfg.Control.Listen = defaultControlListen
	}
}

// fillNotifyRetryDefaults fills retry defaults for enabled policies.
// Params: retry config pointer.
// Returns: defaults applied in place.
func fillNotifyRetryDefaults(retry *NotifyRetry) {
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = 500
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = 10000
	}
	if retry.MaxAttempts < 0 {
		retry.MaxAttempts = 0
	}
	if retry.Enabled && retry.MaxAttempts == 0 {
		retry.MaxAttempts = 3
	}
}

// validateConfig validates a defaulted config snapshot.
// Params: config with defaults applied.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Service.Subject) == "" {
		return errors.New("service.subject is required")
	}
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}
	if err := validateAuth(cfg.Auth); err != nil {
		return err
	}
	if err := validateEndpointURL("realtime.url", cfg.Realtime.URL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateEndpointURL("rest.base_url", cfg.REST.BaseURL, "http", "https"); err != nil {
		return err
	}
	if !strings.Contains(cfg.REST.ConfirmPath, "{id}") {
		return errors.New("rest.confirm_path must contain {id} placeholder")
	}

	switch cfg.Storage.Backend {
	case StorageBackendMemory, StorageBackendBadger, StorageBackendNATS:
	default:
		return fmt.Errorf("storage.backend has unsupported value %q", cfg.Storage.Backend)
	}

	seen := make(map[string]struct{}, len(cfg.Notify.Sinks))
	for _, sink := range cfg.Notify.Sinks {
		if _, dup := seen[sink]; dup {
			return fmt.Errorf("notify.sinks contains duplicate %q", sink)
		}
		seen[sink] = struct{}{}
		switch sink {
		case NotifySinkLog:
		case NotifySinkTelegram:
			if strings.TrimSpace(cfg.Notify.Telegram.BotToken) == "" || strings.TrimSpace(cfg.Notify.Telegram.ChatID) == "" {
				return errors.New("notify.telegram.bot_token and notify.telegram.chat_id are required when telegram sink is enabled")
			}
		case NotifySinkHTTP:
			if err := validateEndpointURL("notify.http.url", cfg.Notify.HTTP.URL, "http", "https"); err != nil {
				return err
			}
		default:
			return fmt.Errorf("notify.sinks has unsupported value %q", sink)
		}
	}
	if err := validateMessageTemplate("notify.title_template", cfg.Notify.TitleTemplate); err != nil {
		return err
	}
	if err := validateMessageTemplate("notify.body_template", cfg.Notify.BodyTemplate); err != nil {
		return err
	}
	switch cfg.Notify.Retry.Backoff {
	case "exponential", "linear", "fixed":
	default:
		return fmt.Errorf("notify.retry.backoff has unsupported value %q", cfg.Notify.Retry.Backoff)
	}
	if cfg.Notify.Retry.MaxMS < cfg.Notify.Retry.InitialMS {
		return errors.New("notify.retry.max_ms must be >= notify.retry.initial_ms")
	}
	return nil
}

// validateAuth checks credential provider settings.
// Params: auth config.
// Returns: validation error.
func validateAuth(cfg AuthConfig) error {
	switch cfg.Type {
	case AuthTypeStatic:
		if strings.TrimSpace(cfg.Token) == "" {
			return errors.New("auth.token is required for auth.type=static")
		}
	case AuthTypeFile:
		if strings.TrimSpace(cfg.TokenFile) == "" {
			return errors.New("auth.token_file is required for auth.type=file")
		}
	case AuthTypeOAuth2:
		if err := validateEndpointURL("auth.token_url", cfg.TokenURL, "http", "https"); err != nil {
			return err
		}
		if strings.TrimSpace(cfg.ClientID) == "" {
			return errors.New("auth.client_id is required for auth.type=oauth2")
		}
	default:
		return fmt.Errorf("auth.type has unsupported value %q", cfg.Type)
	}
	return nil
}

// validateEndpointURL checks that value is an absolute URL with allowed scheme.
// Params: config path, raw URL, and allowed schemes.
// Returns: validation error.
func validateEndpointURL(path, raw string, schemes ...string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%s is required", path)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", path, err)
	}
	for _, scheme := range schemes {
		if strings.EqualFold(parsed.Scheme, scheme) && parsed.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %s URL", path, strings.Join(schemes, "/"))
}

// normalizeNATSURLs trims and drops empty URLs.
// Params: configured URLs.
// Returns: cleaned URL list.
func normalizeNATSURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// validateMessageTemplate parses one notification template.
// Params: config path and template body.
// Returns: parse error.
func validateMessageTemplate(path, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return fmt.Errorf("%s is required", path)
	}
	if _, err := templatefmt.ParseNotificationTemplate(path, trimmed); err != nil {
		return fmt.Errorf("%s is invalid: %w", path, err)
	}
	return nil
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}

	return nil
}
