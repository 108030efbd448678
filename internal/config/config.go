// Package config loads migration settings from the environment (prefix
// MIG_, nested delimiter __), an optional .env file, and an optional TOML
// file for non-secret defaults. It returns an immutable Config value to be
// passed by reference into each component constructor — there is no
// process-wide singleton.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lu-zhengda/icloud-to-gmail/internal/migerr"
)

// Config holds validated application configuration. IMAP and Gmail are
// pointers: nil means the required fields for that section were never
// supplied, which is valid for commands that do not need them (e.g.
// `migrate --dry-run` needs no Gmail settings at all).
type Config struct {
	IMAP        *IMAPConfig
	Gmail       *GmailConfig
	Filter      FilterConfig
	Storage     StorageConfig
	Concurrency ConcurrencyConfig
	Logging     LoggingConfig
}

type IMAPConfig struct {
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Username      string   `toml:"username"`
	AppPassword   string   `toml:"app_password"`
	SSL           bool     `toml:"ssl"`
	Connections   int      `toml:"connections"`
	BatchSize     int      `toml:"batch_size"`
	SearchQuery   string   `toml:"search_query"`
	FolderInclude []string `toml:"folder_include"`
	FolderExclude []string `toml:"folder_exclude"`
}

// IngestMode selects the Gmail API call used to create a message.
type IngestMode string

const (
	ModeImport IngestMode = "import"
	ModeInsert IngestMode = "insert"
)

// InternalDateSource selects where Gmail's internalDate comes from.
type InternalDateSource string

const (
	DateSourceHeader   InternalDateSource = "dateHeader"
	DateSourceReceived InternalDateSource = "receivedTime"
)

type GmailConfig struct {
	TargetUserEmail    string             `toml:"target_user_email"`
	CredentialsFile    string             `toml:"credentials_file"`
	TokenFile          string             `toml:"token_file"`
	Mode               IngestMode         `toml:"mode"`
	InternalDateSource InternalDateSource `toml:"internal_date_source"`
	LabelPrefix        string             `toml:"label_prefix"`
}

type FilterConfig struct {
	TargetAddresses   []string `toml:"target_addresses"`
	IncludeSender     bool     `toml:"include_sender"`
	IncludeRecipients bool     `toml:"include_recipients"`
}

type StorageConfig struct {
	RootDir              string `toml:"root_dir"`
	EvidenceDir          string `toml:"evidence_dir"`
	ReportsDir           string `toml:"reports_dir"`
	SqlitePath           string `toml:"sqlite_path"`
	FingerprintBodyBytes int    `toml:"fingerprint_body_bytes"`
}

type ConcurrencyConfig struct {
	GmailWorkers         int `toml:"gmail_workers"`
	ImapFetchConcurrency int `toml:"imap_fetch_concurrency"`
	QueueMaxSize         int `toml:"queue_maxsize"`
}

type LoggingConfig struct {
	Level    string `toml:"level"`
	JSONLogs bool   `toml:"json_logs"`
}

// Load resolves configuration from (in ascending precedence) an optional
// TOML file, an optional .env file, and the process environment under the
// MIG_ prefix with __ as the nesting delimiter (MIG_IMAP__USERNAME ->
// imap.username). envFile and tomlFile may both be empty.
func Load(envFile, tomlFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, migerr.New(migerr.ConfigInvalid, "load .env file", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("MIG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	setDefaults(v)

	if tomlFile != "" {
		if data, err := os.ReadFile(tomlFile); err == nil {
			var tomlDefaults map[string]any
			if err := toml.Unmarshal(data, &tomlDefaults); err != nil {
				return nil, migerr.New(migerr.ConfigInvalid, "parse TOML config file", err)
			}
			for k, val := range flattenTOML("", tomlDefaults) {
				v.SetDefault(k, val)
			}
		} else if !os.IsNotExist(err) {
			return nil, migerr.New(migerr.ConfigInvalid, "read TOML config file", err)
		}
	}

	cfg := &Config{
		Filter:      buildFilter(v),
		Storage:     buildStorage(v),
		Concurrency: buildConcurrency(v),
		Logging:     buildLogging(v),
	}

	if imapCfg := buildIMAP(v); imapCfg.Username != "" && imapCfg.AppPassword != "" {
		cfg.IMAP = imapCfg
	}
	if gmailCfg := buildGmail(v); gmailCfg.TargetUserEmail != "" && gmailCfg.CredentialsFile != "" {
		cfg.Gmail = gmailCfg
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("imap.host", "imap.mail.me.com")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.ssl", true)
	v.SetDefault("imap.connections", 2)
	v.SetDefault("imap.batch_size", 50)
	v.SetDefault("imap.search_query", "ALL")

	v.SetDefault("gmail.mode", string(ModeImport))
	v.SetDefault("gmail.internal_date_source", string(DateSourceHeader))
	v.SetDefault("gmail.label_prefix", "iCloud")
	v.SetDefault("gmail.token_file", filepath.Join(".secrets", "gmail-token.json"))

	v.SetDefault("filter.include_sender", true)
	v.SetDefault("filter.include_recipients", true)

	v.SetDefault("storage.root_dir", "./data")
	v.SetDefault("storage.fingerprint_body_bytes", 4096)

	v.SetDefault("concurrency.gmail_workers", 10)
	v.SetDefault("concurrency.imap_fetch_concurrency", 5)
	v.SetDefault("concurrency.queue_maxsize", 1000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json_logs", true)
}

func buildIMAP(v *viper.Viper) *IMAPConfig {
	bindEnv(v, "imap.host", "imap.port", "imap.username", "imap.app_password", "imap.ssl",
		"imap.connections", "imap.batch_size", "imap.search_query", "imap.folder_include", "imap.folder_exclude")
	return &IMAPConfig{
		Host:          v.GetString("imap.host"),
		Port:          v.GetInt("imap.port"),
		Username:      v.GetString("imap.username"),
		AppPassword:   v.GetString("imap.app_password"),
		SSL:           v.GetBool("imap.ssl"),
		Connections:   v.GetInt("imap.connections"),
		BatchSize:     v.GetInt("imap.batch_size"),
		SearchQuery:   v.GetString("imap.search_query"),
		FolderInclude: splitList(v.GetString("imap.folder_include")),
		FolderExclude: splitList(v.GetString("imap.folder_exclude")),
	}
}

func buildGmail(v *viper.Viper) *GmailConfig {
	bindEnv(v, "gmail.target_user_email", "gmail.credentials_file", "gmail.token_file",
		"gmail.mode", "gmail.internal_date_source", "gmail.label_prefix")
	return &GmailConfig{
		TargetUserEmail:    v.GetString("gmail.target_user_email"),
		CredentialsFile:    v.GetString("gmail.credentials_file"),
		TokenFile:          v.GetString("gmail.token_file"),
		Mode:               IngestMode(v.GetString("gmail.mode")),
		InternalDateSource: InternalDateSource(v.GetString("gmail.internal_date_source")),
		LabelPrefix:        v.GetString("gmail.label_prefix"),
	}
}

func buildFilter(v *viper.Viper) FilterConfig {
	bindEnv(v, "filter.target_addresses", "filter.include_sender", "filter.include_recipients")
	return FilterConfig{
		TargetAddresses:   splitList(v.GetString("filter.target_addresses")),
		IncludeSender:     v.GetBool("filter.include_sender"),
		IncludeRecipients: v.GetBool("filter.include_recipients"),
	}
}

func buildStorage(v *viper.Viper) StorageConfig {
	bindEnv(v, "storage.root_dir", "storage.evidence_dir", "storage.reports_dir",
		"storage.sqlite_path", "storage.fingerprint_body_bytes")
	root := v.GetString("storage.root_dir")
	s := StorageConfig{
		RootDir:              root,
		EvidenceDir:          v.GetString("storage.evidence_dir"),
		ReportsDir:           v.GetString("storage.reports_dir"),
		SqlitePath:           v.GetString("storage.sqlite_path"),
		FingerprintBodyBytes: v.GetInt("storage.fingerprint_body_bytes"),
	}
	if s.EvidenceDir == "" {
		s.EvidenceDir = filepath.Join(root, "evidence")
	}
	if s.ReportsDir == "" {
		s.ReportsDir = filepath.Join(root, "reports")
	}
	if s.SqlitePath == "" {
		s.SqlitePath = filepath.Join(root, "state.sqlite3")
	}
	return s
}

func buildConcurrency(v *viper.Viper) ConcurrencyConfig {
	bindEnv(v, "concurrency.gmail_workers", "concurrency.imap_fetch_concurrency", "concurrency.queue_maxsize")
	return ConcurrencyConfig{
		GmailWorkers:         v.GetInt("concurrency.gmail_workers"),
		ImapFetchConcurrency: v.GetInt("concurrency.imap_fetch_concurrency"),
		QueueMaxSize:         v.GetInt("concurrency.queue_maxsize"),
	}
}

func buildLogging(v *viper.Viper) LoggingConfig {
	bindEnv(v, "logging.level", "logging.json_logs")
	return LoggingConfig{
		Level:    v.GetString("logging.level"),
		JSONLogs: v.GetBool("logging.json_logs"),
	}
}

// bindEnv forces viper to resolve each key against the environment.
// AutomaticEnv alone only checks the environment for keys that have
// already been asked for via Get, so every key the struct builders read
// is bound explicitly here first.
func bindEnv(v *viper.Viper, keys ...string) {
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

// splitList accepts either a JSON array string (`["a","b"]`) or a
// comma-separated string, matching spec.md's "JSON list or CSV" contract
// for TARGET_ADDRESSES and the folder include/exclude lists.
func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		raw = strings.Trim(raw, "[]")
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// flattenTOML turns nested TOML tables into dotted viper keys so a single
// [storage] table with fingerprint_body_bytes = 1024 becomes the viper
// default key "storage.fingerprint_body_bytes".
func flattenTOML(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flattenTOML(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
