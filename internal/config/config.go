package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"healthwatch/internal/domain"
	"healthwatch/internal/msgfmt"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen         = ":8080"
	defaultHealthPath         = "/healthz"
	defaultReadyPath          = "/readyz"
	defaultReportPath         = "/reports"
	defaultAlertsPath         = "/alerts"
	defaultMaxBodyBytes       = 1 << 20
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultNATSSubject        = "healthwatch.reports"
	defaultNATSStream         = "HEALTHWATCH_REPORTS"
	defaultNATSConsumer       = "healthwatch-ingest"
	defaultNATSDeliverGroup   = "healthwatch-workers"
	defaultNATSAckWaitSec     = 30
	defaultNATSNackDelayMS    = 1000
	defaultNATSMaxDeliver     = -1
	defaultNATSMaxAckPending  = 2048
	defaultDedupeTTLSec       = 24 * 60 * 60
	defaultVillageQueueDepth  = 256
	defaultCompactIntervalSec = 60
	defaultNotifyTimeoutSec   = 10
	defaultRetryInitialMS     = 200
	defaultRetryMaxMS         = 5000
	defaultRetryMaxAttempts   = 3
	defaultKafkaTopic         = "healthwatch.alerts"
	defaultGlobalSubject      = "healthwatch.alerts.global"
	defaultVillagePrefix      = "healthwatch.alerts.village"

	// StateBackendMemory keeps alerts in process memory.
	StateBackendMemory = "memory"
	// StateBackendSQLite keeps alerts in a local SQLite file.
	StateBackendSQLite = "sqlite"

	// DedupeBackendMemory keeps the report-id cache in process memory.
	DedupeBackendMemory = "memory"
	// DedupeBackendRedis keeps the report-id cache in Redis for multi-instance intake.
	DedupeBackendRedis = "redis"

	// RuleTypeSymptomWindow counts one symptom over a trailing window.
	RuleTypeSymptomWindow = "symptom_window"
	// RuleTypeContaminationLevel matches one water-test contamination level.
	RuleTypeContaminationLevel = "contamination_level"
	// RuleTypeSeverityAtLeast matches report severity at or above a threshold.
	RuleTypeSeverityAtLeast = "severity_at_least"
	// RuleTypeSymptomPresence matches the mere presence of one symptom.
	RuleTypeSymptomPresence = "symptom_presence"
)

// Config holds service runtime settings and alert rules.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Log     LogConfig     `toml:"log"`
	Ingest  IngestConfig  `toml:"ingest"`
	State   StateConfig   `toml:"state"`
	Dedupe  DedupeConfig  `toml:"dedupe"`
	Notify  NotifyConfig  `toml:"notify"`
	Rule    []RuleConfig  `toml:"rule"`
}

// rawConfig mirrors the TOML model before runtime normalization.
// Params: decoded sections from one or more TOML sources.
// Returns: raw rule map keyed by rule name.
type rawConfig struct {
	Service ServiceConfig            `toml:"service"`
	Log     LogConfig                `toml:"log"`
	Ingest  IngestConfig             `toml:"ingest"`
	State   StateConfig              `toml:"state"`
	Dedupe  DedupeConfig             `toml:"dedupe"`
	Notify  NotifyConfig             `toml:"notify"`
	Rule    map[string]rawRuleConfig `toml:"rule"`
}

// rawRuleConfig stores one rule body from a `[rule.<name>]` table.
// Params: rule fields except the top-level key-derived name.
// Returns: intermediate rule body used for normalization.
type rawRuleConfig struct {
	Description     string       `toml:"description"`
	Type            string       `toml:"type"`
	Symptom         string       `toml:"symptom"`
	Level           string       `toml:"level"`
	MinSeverity     string       `toml:"min_severity"`
	Threshold       int          `toml:"threshold"`
	WindowSec       int          `toml:"window_sec"`
	Villages        []string     `toml:"villages"`
	Severity        string       `toml:"severity"`
	AlertType       string       `toml:"alert_type"`
	Active          *bool        `toml:"active"`
	MessageTemplate string       `toml:"message_template"`
	Channels        RuleChannels `toml:"channels"`
}

// ServiceConfig contains process-level settings.
// Params: service name and pipeline tuning knobs.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name               string `toml:"name"`
	VillageQueueDepth  int    `toml:"village_queue_depth"`
	CompactIntervalSec int    `toml:"compact_interval_sec"`
}

// LogConfig defines console and file log sinks.
// Params: per-sink enabled flag, level, format, and path.
// Returns: logging setup input.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig is one log output destination.
// Params: enabled flag, level name, format (line/json), and file path.
// Returns: sink settings for logger construction.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// IngestConfig defines inbound report interfaces.
// Params: embedded HTTP and NATS subscription controls.
// Returns: ingestion runtime options.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig defines the report-intake and admin HTTP surface.
// Params: listen address, paths, and request body cap.
// Returns: HTTP server settings.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	ReportPath   string `toml:"report_path"`
	AlertsPath   string `toml:"alerts_path"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig defines the JetStream report subscription.
// Params: connection URLs and durable consumer settings.
// Returns: NATS ingest settings.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// StateConfig selects the durable alert store backend.
// Params: backend name and SQLite path.
// Returns: state store settings.
type StateConfig struct {
	Backend string `toml:"backend"`
	SQLite  struct {
		Path string `toml:"path"`
	} `toml:"sqlite"`
}

// DedupeConfig controls report-id idempotency caching.
// Params: TTL, backend selection, and Redis connection settings.
// Returns: dedupe cache settings.
type DedupeConfig struct {
	TTLSec  int    `toml:"ttl_sec"`
	Backend string `toml:"backend"`
	Redis   struct {
		Addr      string `toml:"addr"`
		Password  string `toml:"password"`
		DB        int    `toml:"db"`
		KeyPrefix string `toml:"key_prefix"`
	} `toml:"redis"`
}

// NotifyRetry defines one publisher retry policy.
// Params: attempts, backoff bounds, and backoff mode.
// Returns: retry policy consumed by the dispatcher.
type NotifyRetry struct {
	Enabled     bool   `toml:"enabled"`
	MaxAttempts int    `toml:"max_attempts"`
	InitialMS   int    `toml:"initial_ms"`
	MaxMS       int    `toml:"max_ms"`
	Backoff     string `toml:"backoff"`
}

// NotifyConfig defines outbound alert publishers.
// Params: publish timeout, retry policy, and per-transport settings.
// Returns: notification runtime options.
type NotifyConfig struct {
	TimeoutSec int              `toml:"timeout_sec"`
	QueueDepth int              `toml:"queue_depth"`
	Retry      NotifyRetry      `toml:"retry"`
	NATS       NATSNotifier     `toml:"nats"`
	Kafka      KafkaNotifier    `toml:"kafka"`
	Telegram   TelegramNotifier `toml:"telegram"`
	Webhook    WebhookNotifier  `toml:"webhook"`
}

// NATSNotifier publishes alert events on per-scope subjects.
// Params: connection URLs and subject layout.
// Returns: NATS publisher settings.
type NATSNotifier struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	GlobalSubject string   `toml:"global_subject"`
	VillagePrefix string   `toml:"village_prefix"`
}

// KafkaNotifier publishes alert events to one topic keyed by scope.
// Params: broker list and topic.
// Returns: Kafka publisher settings.
type KafkaNotifier struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// TelegramNotifier pushes alert messages to admin and village chats.
// Params: bot credentials, global chat, and per-village chat map.
// Returns: Telegram publisher settings.
type TelegramNotifier struct {
	Enabled      bool              `toml:"enabled"`
	BotToken     string            `toml:"bot_token"`
	APIBase      string            `toml:"api_base"`
	GlobalChatID string            `toml:"global_chat_id"`
	VillageChats map[string]string `toml:"village_chats"`
}

// WebhookNotifier posts alert event JSON to one HTTP endpoint.
// Params: endpoint URL, timeout, and static headers.
// Returns: webhook publisher settings.
type WebhookNotifier struct {
	Enabled    bool              `toml:"enabled"`
	URL        string            `toml:"url"`
	TimeoutSec int               `toml:"timeout_sec"`
	Headers    map[string]string `toml:"headers"`
}

// RuleChannels selects notification scopes for one rule.
// Params: admin-wide, village-scoped, and webhook flags.
// Returns: per-rule fan-out selection.
type RuleChannels struct {
	Admins  bool `toml:"admins"`
	Village bool `toml:"village"`
	Webhook bool `toml:"webhook"`
}

// RuleConfig is one normalized alert rule.
// Params: condition type, threshold values, scope, and assignment fields.
// Returns: immutable rule snapshot read per evaluation cycle.
type RuleConfig struct {
	Name            string
	Description     string
	Type            string
	Symptom         string
	Level           domain.ContaminationLevel
	MinSeverity     domain.Severity
	Threshold       int
	Window          time.Duration
	Villages        []string
	Severity        domain.Severity
	AlertType       domain.AlertType
	Active          bool
	MessageTemplate string
	Channels        RuleChannels
}

// AppliesTo reports whether the rule scope includes the village.
// Params: village name.
// Returns: true when the village list is empty or contains the village.
func (r RuleConfig) AppliesTo(village string) bool {
	if len(r.Villages) == 0 {
		return true
	}
	for _, scoped := range r.Villages {
		if strings.EqualFold(scoped, village) {
			return true
		}
	}
	return false
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI validates CLI source flags into one config source.
// Params: file path and directory path flag values.
// Returns: source descriptor or flag usage error.
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

// LoadSnapshot loads, normalizes, and validates one config snapshot.
// Params: config source descriptor.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var raw rawConfig
	var err error
	if src.File != "" {
		err = decodeInto(&raw, src.File)
	} else {
		err = decodeDir(&raw, src.Dir)
	}
	if err != nil {
		return Config{}, err
	}

	cfg, err := normalizeRawConfig(raw)
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeInto overlays one TOML file onto the accumulated raw config.
// Params: mutable raw config and file path.
// Returns: read/decode error.
func decodeInto(raw *rawConfig, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := toml.Unmarshal(body, raw); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	return nil
}

// decodeDir overlays all .toml fragments from a directory in name order.
// Params: mutable raw config and directory path.
// Returns: read/decode error.
func decodeDir(raw *rawConfig, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read config dir %q: %w", dir, err)
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
		return fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	for _, file := range files {
		if err := decodeInto(raw, file); err != nil {
			return err
		}
	}
	return nil
}

// normalizeRawConfig converts the raw rule map into sorted rule configs.
// Params: raw decoded config.
// Returns: runtime config or normalization error.
func normalizeRawConfig(raw rawConfig) (Config, error) {
	cfg := Config{
		Service: raw.Service,
		Log:     raw.Log,
		Ingest:  raw.Ingest,
		State:   raw.State,
		Dedupe:  raw.Dedupe,
		Notify:  raw.Notify,
	}

	names := make([]string, 0, len(raw.Rule))
	for name := range raw.Rule {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rule, err := normalizeRule(name, raw.Rule[name])
		if err != nil {
			return Config{}, fmt.Errorf("rule %q: %w", name, err)
		}
		cfg.Rule = append(cfg.Rule, rule)
	}
	return cfg, nil
}

// normalizeRule converts one raw rule body into a runtime rule.
// Params: rule name from the table key and raw body.
// Returns: normalized rule or field error.
func normalizeRule(name string, raw rawRuleConfig) (RuleConfig, error) {
	rule := RuleConfig{
		Name:            strings.TrimSpace(name),
		Description:     strings.TrimSpace(raw.Description),
		Type:            strings.ToLower(strings.TrimSpace(raw.Type)),
		Symptom:         strings.ToLower(strings.TrimSpace(raw.Symptom)),
		Threshold:       raw.Threshold,
		Window:          time.Duration(raw.WindowSec) * time.Second,
		Active:          true,
		MessageTemplate: raw.MessageTemplate,
		Channels:        raw.Channels,
	}
	if raw.Active != nil {
		rule.Active = *raw.Active
	}

	for _, village := range raw.Villages {
		village = strings.TrimSpace(village)
		if village == "" {
			return RuleConfig{}, errors.New("villages must not contain empty names")
		}
		rule.Villages = append(rule.Villages, village)
	}

	if raw.Level != "" {
		level, err := domain.ParseContaminationLevel(raw.Level)
		if err != nil {
			return RuleConfig{}, err
		}
		rule.Level = level
	}
	if raw.MinSeverity != "" {
		severity, err := domain.ParseSeverity(raw.MinSeverity)
		if err != nil {
			return RuleConfig{}, fmt.Errorf("min_severity: %w", err)
		}
		rule.MinSeverity = severity
	}

	assigned := strings.TrimSpace(raw.Severity)
	if assigned == "" {
		assigned = string(domain.SeverityHigh)
	}
	severity, err := domain.ParseSeverity(assigned)
	if err != nil {
		return RuleConfig{}, fmt.Errorf("severity: %w", err)
	}
	rule.Severity = severity

	alertType, err := resolveAlertType(rule.Type, raw.AlertType)
	if err != nil {
		return RuleConfig{}, err
	}
	rule.AlertType = alertType

	return rule, nil
}

// resolveAlertType derives the alert category from rule type with optional override.
// Params: normalized rule type and raw alert_type override.
// Returns: alert type or error for unknown override values.
func resolveAlertType(ruleType, override string) (domain.AlertType, error) {
	if override = strings.ToLower(strings.TrimSpace(override)); override != "" {
		switch typed := domain.AlertType(override); typed {
		case domain.AlertTypeWaterContamination, domain.AlertTypeDiseaseOutbreak,
			domain.AlertTypeWaterShortage, domain.AlertTypeInfrastructure, domain.AlertTypeSystem:
			return typed, nil
		default:
			return "", fmt.Errorf("unsupported alert_type %q", override)
		}
	}
	switch ruleType {
	case RuleTypeContaminationLevel:
		return domain.AlertTypeWaterContamination, nil
	default:
		return domain.AlertTypeDiseaseOutbreak, nil
	}
}

// applyDefaults fills zero-valued settings with service defaults.
// Params: mutable config snapshot.
// Returns: config mutated in place.
func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "healthwatch"
	}
	if cfg.Service.VillageQueueDepth <= 0 {
		cfg.Service.VillageQueueDepth = defaultVillageQueueDepth
	}
	if cfg.Service.CompactIntervalSec <= 0 {
		cfg.Service.CompactIntervalSec = defaultCompactIntervalSec
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
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

	httpCfg := &cfg.Ingest.HTTP
	if httpCfg.Listen == "" {
		httpCfg.Listen = defaultHTTPListen
	}
	if httpCfg.ReportPath == "" {
		httpCfg.ReportPath = defaultReportPath
	}
	if httpCfg.AlertsPath == "" {
		httpCfg.AlertsPath = defaultAlertsPath
	}
	if httpCfg.HealthPath == "" {
		httpCfg.HealthPath = defaultHealthPath
	}
	if httpCfg.ReadyPath == "" {
		httpCfg.ReadyPath = defaultReadyPath
	}
	if httpCfg.MaxBodyBytes <= 0 {
		httpCfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	natsCfg := &cfg.Ingest.NATS
	if len(natsCfg.URL) == 0 {
		natsCfg.URL = []string{defaultNATSURL}
	}
	if natsCfg.Subject == "" {
		natsCfg.Subject = defaultNATSSubject
	}
	if natsCfg.Stream == "" {
		natsCfg.Stream = defaultNATSStream
	}
	if natsCfg.ConsumerName == "" {
		natsCfg.ConsumerName = defaultNATSConsumer
	}
	if natsCfg.DeliverGroup == "" {
		natsCfg.DeliverGroup = defaultNATSDeliverGroup
	}
	if natsCfg.AckWaitSec <= 0 {
		natsCfg.AckWaitSec = defaultNATSAckWaitSec
	}
	if natsCfg.NackDelayMS <= 0 {
		natsCfg.NackDelayMS = defaultNATSNackDelayMS
	}
	if natsCfg.MaxDeliver == 0 {
		natsCfg.MaxDeliver = defaultNATSMaxDeliver
	}
	if natsCfg.MaxAckPending <= 0 {
		natsCfg.MaxAckPending = defaultNATSMaxAckPending
	}

	if cfg.State.Backend == "" {
		cfg.State.Backend = StateBackendMemory
	}
	if cfg.State.SQLite.Path == "" {
		cfg.State.SQLite.Path = "healthwatch.db"
	}

	if cfg.Dedupe.TTLSec <= 0 {
		cfg.Dedupe.TTLSec = defaultDedupeTTLSec
	}
	if cfg.Dedupe.Backend == "" {
		cfg.Dedupe.Backend = DedupeBackendMemory
	}
	if cfg.Dedupe.Redis.Addr == "" {
		cfg.Dedupe.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Dedupe.Redis.KeyPrefix == "" {
		cfg.Dedupe.Redis.KeyPrefix = "healthwatch:report:"
	}

	notifyCfg := &cfg.Notify
	if notifyCfg.TimeoutSec <= 0 {
		notifyCfg.TimeoutSec = defaultNotifyTimeoutSec
	}
	if notifyCfg.QueueDepth <= 0 {
		notifyCfg.QueueDepth = defaultVillageQueueDepth
	}
	if notifyCfg.Retry.MaxAttempts <= 0 {
		notifyCfg.Retry.MaxAttempts = defaultRetryMaxAttempts
	}
	if notifyCfg.Retry.InitialMS <= 0 {
		notifyCfg.Retry.InitialMS = defaultRetryInitialMS
	}
	if notifyCfg.Retry.MaxMS <= 0 {
		notifyCfg.Retry.MaxMS = defaultRetryMaxMS
	}
	if notifyCfg.Retry.Backoff == "" {
		notifyCfg.Retry.Backoff = "exponential"
	}
	if len(notifyCfg.NATS.URL) == 0 {
		notifyCfg.NATS.URL = []string{defaultNATSURL}
	}
	if notifyCfg.NATS.GlobalSubject == "" {
		notifyCfg.NATS.GlobalSubject = defaultGlobalSubject
	}
	if notifyCfg.NATS.VillagePrefix == "" {
		notifyCfg.NATS.VillagePrefix = defaultVillagePrefix
	}
	if notifyCfg.Kafka.Topic == "" {
		notifyCfg.Kafka.Topic = defaultKafkaTopic
	}
	if notifyCfg.Webhook.TimeoutSec <= 0 {
		notifyCfg.Webhook.TimeoutSec = defaultNotifyTimeoutSec
	}
}

// validateConfig validates the full snapshot after defaults.
// Params: config snapshot.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	if err := validateLogSink("console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("file", cfg.Log.File, true); err != nil {
		return err
	}

	switch cfg.State.Backend {
	case StateBackendMemory, StateBackendSQLite:
	default:
		return fmt.Errorf("unsupported state backend %q", cfg.State.Backend)
	}
	switch cfg.Dedupe.Backend {
	case DedupeBackendMemory, DedupeBackendRedis:
	default:
		return fmt.Errorf("unsupported dedupe backend %q", cfg.Dedupe.Backend)
	}

	if cfg.Notify.Telegram.Enabled && strings.TrimSpace(cfg.Notify.Telegram.BotToken) == "" {
		return errors.New("notify.telegram.bot_token is required when telegram is enabled")
	}
	if cfg.Notify.Telegram.Enabled && strings.TrimSpace(cfg.Notify.Telegram.GlobalChatID) == "" {
		return errors.New("notify.telegram.global_chat_id is required when telegram is enabled")
	}
	if cfg.Notify.Kafka.Enabled && len(cfg.Notify.Kafka.Brokers) == 0 {
		return errors.New("notify.kafka.brokers is required when kafka is enabled")
	}
	if cfg.Notify.Webhook.Enabled && strings.TrimSpace(cfg.Notify.Webhook.URL) == "" {
		return errors.New("notify.webhook.url is required when webhook is enabled")
	}

	seen := make(map[string]struct{}, len(cfg.Rule))
	for _, rule := range cfg.Rule {
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("duplicate rule name %q", rule.Name)
		}
		seen[rule.Name] = struct{}{}
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
	}
	return nil
}

// validateRule checks one normalized rule for contract violations.
// Params: normalized rule.
// Returns: first field error.
func validateRule(rule RuleConfig) error {
	if rule.Name == "" {
		return errors.New("name is required")
	}

	switch rule.Type {
	case RuleTypeSymptomWindow:
		// Symptom is optional: empty means any symptom in the report.
		if rule.Threshold <= 0 {
			return errors.New("threshold must be >0 for symptom_window")
		}
		if rule.Window <= 0 {
			return errors.New("window_sec must be >0 for symptom_window")
		}
	case RuleTypeContaminationLevel:
		if rule.Level == "" {
			return errors.New("level is required for contamination_level")
		}
	case RuleTypeSeverityAtLeast:
		if rule.MinSeverity == "" {
			return errors.New("min_severity is required for severity_at_least")
		}
	case RuleTypeSymptomPresence:
		if rule.Symptom == "" {
			return errors.New("symptom is required for symptom_presence")
		}
	default:
		return fmt.Errorf("unsupported rule type %q", rule.Type)
	}

	if rule.MessageTemplate != "" {
		if _, err := msgfmt.ParseAlertTemplate(rule.Name, rule.MessageTemplate); err != nil {
			return fmt.Errorf("message_template: %w", err)
		}
	}
	return nil
}

// validateLogSink checks one sink configuration.
// Params: sink name, sink settings, and whether path is mandatory.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}
	switch sink.Format {
	case "line", "json":
	default:
		return fmt.Errorf("log.%s: unsupported format %q", name, sink.Format)
	}
	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("log.%s: path is required", name)
	}
	return nil
}

// ActiveRules returns the active rules applicable to one village.
// Params: rule snapshot and village name.
// Returns: filtered rule list in stable name order.
func ActiveRules(rules []RuleConfig, village string) []RuleConfig {
	out := make([]RuleConfig, 0, len(rules))
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		if !rule.AppliesTo(village) {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// MaxRuleWindow returns the widest window referenced by the rule set.
// Params: rule snapshot.
// Returns: maximum window duration, zero when no windowed rule exists.
func MaxRuleWindow(rules []RuleConfig) time.Duration {
	var max time.Duration
	for _, rule := range rules {
		if rule.Window > max {
			max = rule.Window
		}
	}
	return max
}
