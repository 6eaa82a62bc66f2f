package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"dialcron/internal/core"
)

const envPrefix = "DIALCRON_"

// Serving modes.
const (
	ModeHTTP = "http"
	ModeMCP  = "mcp"
	ModeBoth = "both"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr          string
	AuthToken     string
	Mode          string
	ShutdownGrace time.Duration
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level          string
	Format         string
	AuditRetention time.Duration
}

// SchedulerConfig tunes the tick loop.
type SchedulerConfig struct {
	TickInterval      time.Duration
	DueTolerance      time.Duration
	MaxConcurrentRuns int
	RunStaleAfter     time.Duration
	UseUTC            bool
}

// RunConfig tunes a single automation run.
type RunConfig struct {
	CallPacing      time.Duration
	CallTimeout     time.Duration
	ContactCooldown time.Duration
	HistoryKeep     int
	DryRun          bool
}

// TwilioConfig holds the call provider credentials.
type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	FromNumber     string
	WebhookBaseURL string
}

// Configured reports whether any Twilio credential was supplied.
func (t TwilioConfig) Configured() bool {
	return t.AccountSID != "" || t.AuthToken != "" || t.FromNumber != ""
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Scheduler    SchedulerConfig
	Run          RunConfig
	Twilio       TwilioConfig
	Notification NotificationConfig

	StateDir string
	RedisURL string
}

const (
	defaultAddr              = "0.0.0.0:7070"
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
	defaultShutdownGrace     = 10 * time.Second
	defaultTickInterval      = 5 * time.Minute
	defaultDueTolerance      = 5 * time.Minute
	defaultCallPacing        = 2 * time.Second
	defaultCallTimeout       = 30 * time.Second
	defaultContactCooldown   = 24 * time.Hour
	defaultMaxConcurrentRuns = 2
	defaultRunStaleAfter     = time.Hour
	defaultRunHistoryKeep    = 50
	defaultAuditRetention    = 30 * 24 * time.Hour
)

func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		return strings.TrimSpace(val)
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse reads configuration from os.Args, the environment and .env files.
// Priority: CLI flags > environment variables > .env file > defaults.
func Parse() (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "dialcron", ".env"))
	}
	for _, f := range envFiles {
		// Missing files are fine; godotenv never overrides variables already set.
		_ = godotenv.Load(f)
	}
	return ParseArgs(os.Args[1:])
}

// ParseArgs builds the configuration from the environment and args.
func ParseArgs(args []string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:          getEnvString("ADDR", defaultAddr),
			AuthToken:     getEnvString("AUTH_TOKEN", ""),
			Mode:          strings.ToLower(getEnvString("MODE", ModeHTTP)),
			ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE", defaultShutdownGrace),
		},
		Log: LogConfig{
			Level:          getEnvString("LOG_LEVEL", defaultLogLevel),
			Format:         getEnvString("LOG_FORMAT", defaultLogFormat),
			AuditRetention: getEnvDuration("AUDIT_RETENTION", defaultAuditRetention),
		},
		Scheduler: SchedulerConfig{
			TickInterval:      getEnvDuration("TICK_INTERVAL", defaultTickInterval),
			DueTolerance:      getEnvDuration("DUE_TOLERANCE", defaultDueTolerance),
			MaxConcurrentRuns: getEnvInt("MAX_CONCURRENT_RUNS", defaultMaxConcurrentRuns),
			RunStaleAfter:     getEnvDuration("RUN_STALE_AFTER", defaultRunStaleAfter),
			UseUTC:            getEnvBool("USE_UTC", false),
		},
		Run: RunConfig{
			CallPacing:      getEnvDuration("CALL_PACING", defaultCallPacing),
			CallTimeout:     getEnvDuration("CALL_TIMEOUT", defaultCallTimeout),
			ContactCooldown: getEnvDuration("CONTACT_COOLDOWN", defaultContactCooldown),
			HistoryKeep:     getEnvInt("RUN_HISTORY_KEEP", defaultRunHistoryKeep),
			DryRun:          getEnvBool("DRY_RUN", false),
		},
		Twilio: TwilioConfig{
			AccountSID:     getEnvString("TWILIO_ACCOUNT_SID", ""),
			AuthToken:      getEnvString("TWILIO_AUTH_TOKEN", ""),
			FromNumber:     getEnvString("TWILIO_FROM_NUMBER", ""),
			WebhookBaseURL: getEnvString("WEBHOOK_BASE_URL", ""),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("BARK_URL", ""),
				Enabled: getEnvBool("BARK_ENABLED", false),
			},
		},
		StateDir: getEnvString("STATE_DIR", ""),
		RedisURL: getEnvString("REDIS_URL", ""),
	}

	fs := flag.NewFlagSet("dialcrond", flag.ContinueOnError)
	addr := fs.String("addr", "", "HTTP listen address (overrides env)")
	mode := fs.String("mode", "", "Serving mode: http, mcp or both")
	stateDir := fs.String("state-dir", "", "Directory holding the SQLite database")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "Log format (text, json)")
	useUTC := fs.Bool("use-utc", false, "Evaluate schedules in UTC instead of system local time")
	dryRun := fs.Bool("dry-run", false, "Log calls instead of placing them")
	tickInterval := fs.Duration("tick-interval", 0, "How often the scheduler looks for due automations")
	shutdownGrace := fs.Duration("shutdown-grace", 0, "Grace period when shutting down")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *mode != "" {
		cfg.Server.Mode = strings.ToLower(*mode)
	}
	if *stateDir != "" {
		cfg.StateDir = *stateDir
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *tickInterval > 0 {
		cfg.Scheduler.TickInterval = *tickInterval
	}
	// Bool and zero-valued flags only apply when explicitly set.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "use-utc":
			cfg.Scheduler.UseUTC = *useUTC
		case "dry-run":
			cfg.Run.DryRun = *dryRun
		case "shutdown-grace":
			cfg.Server.ShutdownGrace = *shutdownGrace
		}
	})

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location returns the default timezone for schedule evaluation.
func (c *Config) Location() *time.Location {
	if c.Scheduler.UseUTC {
		return time.UTC
	}
	return time.Local
}

// ServesHTTP reports whether the HTTP API should be started.
func (c *Config) ServesHTTP() bool {
	return c.Server.Mode == ModeHTTP || c.Server.Mode == ModeBoth
}

// ServesMCPStdio reports whether MCP should be served over stdio.
func (c *Config) ServesMCPStdio() bool {
	return c.Server.Mode == ModeMCP || c.Server.Mode == ModeBoth
}

func (c *Config) validate() error {
	var errs []error
	switch c.Server.Mode {
	case ModeHTTP, ModeMCP, ModeBoth:
	default:
		errs = append(errs, fmt.Errorf("mode %q must be one of http, mcp, both", c.Server.Mode))
	}
	if c.Scheduler.TickInterval < time.Second {
		errs = append(errs, fmt.Errorf("tick interval %s must be at least 1s", c.Scheduler.TickInterval))
	}
	if c.Scheduler.DueTolerance <= 0 {
		errs = append(errs, errors.New("due tolerance must be positive"))
	}
	if c.Scheduler.MaxConcurrentRuns < 1 {
		errs = append(errs, errors.New("max concurrent runs must be at least 1"))
	}
	if c.Run.CallPacing < 0 {
		errs = append(errs, errors.New("call pacing must not be negative"))
	}
	if c.Run.ContactCooldown < 0 {
		errs = append(errs, errors.New("contact cooldown must not be negative"))
	}
	if c.Run.HistoryKeep < 1 {
		c.Run.HistoryKeep = defaultRunHistoryKeep
	}
	// The stale marker and the redis lock TTL must outlive the longest run.
	if longest := core.LongestRun(c.Run.CallPacing, c.Run.CallTimeout); c.Scheduler.RunStaleAfter < longest {
		c.Scheduler.RunStaleAfter = longest
	}
	if !c.Run.DryRun && !c.Twilio.Configured() {
		errs = append(errs, errors.New("twilio credentials are required unless dry run is enabled"))
	}
	if c.Notification.Bark.Enabled && c.Notification.Bark.URL == "" {
		errs = append(errs, errors.New("bark is enabled but no bark url is set"))
	}
	return errors.Join(errs...)
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "dialcron")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
