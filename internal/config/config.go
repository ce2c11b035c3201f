// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken  = "TELEGRAM_TOKEN"
	KeyBotOwner       = "BOT_OWNER"
	KeyMongoURI       = "MONGO_URI"
	KeyMongoDB        = "MONGO_DB"
	KeyAppEnv         = "APP_ENV"
	KeyLogLevel       = "LOG_LEVEL"
	KeyHTTPPort       = "HTTP_PORT"
	KeyAlertLog       = "ALERT_LOG"
	KeyPluginFlag     = "PLUGIN_FLAG"
	KeyCommandRateTTL = "COMMAND_RATE_TTL"
	KeyCommandRateMax = "COMMAND_RATE_MAX"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv         = EnvProduction
	DefaultLogLevel       = "info"
	DefaultHTTPPort       = 8080
	DefaultCommandRateTTL = 10 * time.Second
	DefaultCommandRateMax = 3

	// Recommended database names by environment.
	DefaultMongoDBProd = "riakmaw"
	DefaultMongoDBDev  = "riakmaw_dev"

	redactedSuffix = "redacted"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyBotOwner,
		Example:     "123456789",
		Required:    true,
		Description: "Telegram user_id of the bot owner; always part of the dev staff.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Required:    true,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
	{
		Key:         KeyAlertLog,
		Example:     "-1001234567890#12",
		Description: "Chat (and optional topic thread) receiving command failure alerts.",
		Notes:       "Format chat_id or chat_id#thread_id. Alerts are only logged when unset.",
	},
	{
		Key:         KeyPluginFlag,
		Example:     "disable_stats_plugin;disable_admins_plugin",
		Description: "Semicolon separated flags disabling plugins by lower-cased name.",
	},
	{
		Key:         KeyCommandRateTTL,
		Example:     DefaultCommandRateTTL.String(),
		Default:     DefaultCommandRateTTL.String(),
		Description: "Window of the per-sender command rate limiter.",
	},
	{
		Key:         KeyCommandRateMax,
		Example:     strconv.Itoa(DefaultCommandRateMax),
		Default:     strconv.Itoa(DefaultCommandRateMax),
		Description: "Commands a sender may issue inside one rate limiter window.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken  string
	BotOwnerID     int64
	MongoURI       string
	MongoDB        string
	AppEnv         string
	LogLevel       string
	HTTPPort       int
	AlertChatID    int64
	AlertThreadID  int
	PluginFlags    []string
	CommandRateTTL time.Duration
	CommandRateMax int
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:         firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:  strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		MongoURI:       strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:        strings.TrimSpace(os.Getenv(KeyMongoDB)),
		LogLevel:       firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:       DefaultHTTPPort,
		PluginFlags:    parsePluginFlags(os.Getenv(KeyPluginFlag)),
		CommandRateTTL: DefaultCommandRateTTL,
		CommandRateMax: DefaultCommandRateMax,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	ownerRaw := strings.TrimSpace(os.Getenv(KeyBotOwner))
	if ownerRaw == "" {
		missing = append(missing, KeyBotOwner)
	} else {
		ownerID, parseErr := strconv.ParseInt(ownerRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyBotOwner, parseErr)
		}
		cfg.BotOwnerID = ownerID
	}

	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}

	if cfg.MongoDB == "" {
		missing = append(missing, KeyMongoDB)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if err := validateMongoURI(cfg.MongoURI); err != nil {
		return Config{}, err
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	if alertRaw := strings.TrimSpace(os.Getenv(KeyAlertLog)); alertRaw != "" {
		chatID, threadID, parseErr := parseAlertTarget(alertRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyAlertLog, parseErr)
		}
		cfg.AlertChatID = chatID
		cfg.AlertThreadID = threadID
	}

	if ttlRaw := strings.TrimSpace(os.Getenv(KeyCommandRateTTL)); ttlRaw != "" {
		ttl, parseErr := time.ParseDuration(ttlRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyCommandRateTTL, parseErr)
		}
		if ttl <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyCommandRateTTL)
		}
		cfg.CommandRateTTL = ttl
	}

	if maxRaw := strings.TrimSpace(os.Getenv(KeyCommandRateMax)); maxRaw != "" {
		limit, parseErr := strconv.Atoi(maxRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyCommandRateMax, parseErr)
		}
		if limit <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyCommandRateMax)
		}
		cfg.CommandRateMax = limit
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// PluginDisabled reports whether PLUGIN_FLAG carries disable_<name>_plugin.
func (c Config) PluginDisabled(name string) bool {
	flag := "disable_" + strings.ToLower(strings.TrimSpace(name)) + "_plugin"
	for _, f := range c.PluginFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// AlertTarget returns the alert chat and thread; ok is false when ALERT_LOG is unset.
func (c Config) AlertTarget() (chatID int64, threadID int, ok bool) {
	if c.AlertChatID == 0 {
		return 0, 0, false
	}
	return c.AlertChatID, c.AlertThreadID, true
}

// Secrets lists values that must never leave the process (log lines, chat replies).
// A secret that changes under HTML escaping is listed in both forms, so text
// escaped before redaction is still masked.
func (c Config) Secrets() []string {
	secrets := make([]string, 0, 4)
	for _, secret := range []string{c.TelegramToken, c.MongoURI} {
		if secret == "" {
			continue
		}
		secrets = append(secrets, secret)
		if escaped := html.EscapeString(secret); escaped != secret {
			secrets = append(secrets, escaped)
		}
	}
	return secrets
}

// FormatRedacted renders the resolved configuration with secrets masked.
func FormatRedacted(c Config) string {
	alert := "disabled"
	if chatID, threadID, ok := c.AlertTarget(); ok {
		alert = strconv.FormatInt(chatID, 10)
		if threadID != 0 {
			alert += "#" + strconv.Itoa(threadID)
		}
	}

	lines := []string{
		"app_env: " + c.AppEnv,
		"telegram_token: " + redactToken(c.TelegramToken),
		"bot_owner: " + strconv.FormatInt(c.BotOwnerID, 10),
		"mongo_uri: " + redactURI(c.MongoURI),
		"mongo_db: " + c.MongoDB,
		"log_level: " + c.LogLevel,
		"http_port: " + strconv.Itoa(c.HTTPPort),
		"alert_log: " + alert,
		"plugin_flag: " + strings.Join(c.PluginFlags, ";"),
		"command_rate_ttl: " + c.CommandRateTTL.String(),
		"command_rate_max: " + strconv.Itoa(c.CommandRateMax),
	}

	return strings.Join(lines, "\n")
}

func redactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "..." + redactedSuffix
	}
	return token[:4] + "..." + redactedSuffix
}

func redactURI(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return redactedSuffix
	}
	parsed.User = nil
	return parsed.String()
}

func validateMongoURI(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", KeyMongoURI, err)
	}
	if parsed.Scheme != "mongodb" && parsed.Scheme != "mongodb+srv" {
		return fmt.Errorf("invalid %s: scheme must be mongodb or mongodb+srv", KeyMongoURI)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid %s: host is required", KeyMongoURI)
	}
	return nil
}

func parseAlertTarget(raw string) (int64, int, error) {
	chatRaw, threadRaw, hasThread := strings.Cut(raw, "#")

	chatID, err := strconv.ParseInt(strings.TrimSpace(chatRaw), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("chat id: %w", err)
	}
	if chatID == 0 {
		return 0, 0, errors.New("chat id must not be 0")
	}

	if !hasThread {
		return chatID, 0, nil
	}

	threadID, err := strconv.Atoi(strings.TrimSpace(threadRaw))
	if err != nil {
		return 0, 0, fmt.Errorf("thread id: %w", err)
	}

	return chatID, threadID, nil
}

func parsePluginFlags(raw string) []string {
	flags := make([]string, 0)
	for _, part := range strings.Split(raw, ";") {
		if flag := strings.ToLower(strings.TrimSpace(part)); flag != "" {
			flags = append(flags, flag)
		}
	}
	return flags
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
