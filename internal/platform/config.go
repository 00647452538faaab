package platform

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. SCRIPTHUB_HTTP_PORT.
const EnvPrefix = "scripthub"

// FlagsConfig holds all boolean or string flags for the app.
type FlagsConfig struct {
	// Headless disables the HTTP server when true.
	Headless bool
	LogLevel slog.Level
}

// ConsoleConfig tunes the child process supervisor.
type ConsoleConfig struct {
	UnbufferedFlag string
	SearchPaths    []string
	DrainTimeout   time.Duration
}

// AppConfig contains the configuration for the app.
type AppConfig struct {
	Flags      *FlagsConfig
	NatsCfg    *EmbeddedServerConfig
	HTTPSrvCfg *HTTPServerConfig
	ConsoleCfg *ConsoleConfig
}

// envOverrides lists every setting that can come from the environment.
// Unset variables leave the defaults untouched.
type envOverrides struct {
	Headless bool   `envconfig:"HEADLESS"`
	LogLevel string `envconfig:"LOG_LEVEL"`

	HTTPPort     int           `envconfig:"HTTP_PORT"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `envconfig:"HTTP_IDLE_TIMEOUT"`
	EnableTLS    bool          `envconfig:"TLS"`
	CertFile     string        `envconfig:"TLS_CERT"`
	KeyFile      string        `envconfig:"TLS_KEY"`
	SessionKey   string        `envconfig:"SESSION_KEY"`

	NATSInProcess   bool   `envconfig:"NATS_IN_PROCESS"`
	NATSLogging     bool   `envconfig:"NATS_LOGGING"`
	JetStreamDomain string `envconfig:"JETSTREAM_DOMAIN"`
	StoreDir        string `envconfig:"STORE_DIR"`
	LeafNodeURL     string `envconfig:"LEAF_NODE_URL"`
	LeafNodeCreds   string `envconfig:"LEAF_NODE_CREDS"`

	UnbufferedFlag string        `envconfig:"UNBUFFERED_FLAG"`
	SearchPaths    []string      `envconfig:"SEARCH_PATHS"`
	DrainTimeout   time.Duration `envconfig:"DRAIN_TIMEOUT"`
}

// LoadAppConfig builds the configuration from defaults, a .env file in the
// working directory (if any) and SCRIPTHUB_* environment variables.
func LoadAppConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &AppConfig{
		Flags:      defaultFlagsCfg(),
		NatsCfg:    defaultNatsCfg(),
		HTTPSrvCfg: defaultHTTPServerCfg(),
		ConsoleCfg: defaultConsoleCfg(),
	}

	env := cfg.toEnv()
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.fromEnv(env); err != nil {
		return nil, err
	}
	if _, ok := os.LookupEnv(sessionKeyEnv); !ok {
		slog.Warn("No session key configured, using a random one; browser sessions end on restart", "env", sessionKeyEnv)
	}
	return cfg, nil
}

var sessionKeyEnv = strings.ToUpper(EnvPrefix) + "_SESSION_KEY"

// randomSessionKey returns a fresh 256-bit cookie signing key.
func randomSessionKey() string {
	return hex.EncodeToString(securecookie.GenerateRandomKey(32))
}

func (c *AppConfig) toEnv() envOverrides {
	return envOverrides{
		Headless:        c.Flags.Headless,
		LogLevel:        c.Flags.LogLevel.String(),
		HTTPPort:        c.HTTPSrvCfg.Port,
		ReadTimeout:     c.HTTPSrvCfg.ReadTimeout,
		WriteTimeout:    c.HTTPSrvCfg.WriteTimeout,
		IdleTimeout:     c.HTTPSrvCfg.IdleTimeout,
		EnableTLS:       c.HTTPSrvCfg.EnableTLS,
		CertFile:        c.HTTPSrvCfg.CertFile,
		KeyFile:         c.HTTPSrvCfg.KeyFile,
		SessionKey:      c.HTTPSrvCfg.SessionKey,
		NATSInProcess:   c.NatsCfg.InProcess,
		NATSLogging:     c.NatsCfg.EnableLogging,
		JetStreamDomain: c.NatsCfg.JetStreamDomain,
		StoreDir:        c.NatsCfg.StoreDir,
		LeafNodeURL:     c.NatsCfg.LeafNodeURL,
		LeafNodeCreds:   c.NatsCfg.LeafNodeCreds,
		UnbufferedFlag:  c.ConsoleCfg.UnbufferedFlag,
		SearchPaths:     c.ConsoleCfg.SearchPaths,
		DrainTimeout:    c.ConsoleCfg.DrainTimeout,
	}
}

func (c *AppConfig) fromEnv(env envOverrides) error {
	level := slog.LevelInfo
	if raw := strings.TrimSpace(env.LogLevel); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return fmt.Errorf("invalid %s_LOG_LEVEL %q: %w", strings.ToUpper(EnvPrefix), env.LogLevel, err)
		}
	}
	if env.HTTPPort <= 0 || env.HTTPPort > 65535 {
		return fmt.Errorf("invalid %s_HTTP_PORT %d", strings.ToUpper(EnvPrefix), env.HTTPPort)
	}

	c.Flags.Headless = env.Headless
	c.Flags.LogLevel = level

	c.HTTPSrvCfg.Port = env.HTTPPort
	c.HTTPSrvCfg.ReadTimeout = env.ReadTimeout
	c.HTTPSrvCfg.WriteTimeout = env.WriteTimeout
	c.HTTPSrvCfg.IdleTimeout = env.IdleTimeout
	c.HTTPSrvCfg.EnableTLS = env.EnableTLS
	c.HTTPSrvCfg.CertFile = env.CertFile
	c.HTTPSrvCfg.KeyFile = env.KeyFile
	c.HTTPSrvCfg.SessionKey = env.SessionKey

	c.NatsCfg.InProcess = env.NATSInProcess
	c.NatsCfg.EnableLogging = env.NATSLogging
	c.NatsCfg.JetStreamDomain = env.JetStreamDomain
	c.NatsCfg.StoreDir = env.StoreDir
	c.NatsCfg.LeafNodeURL = env.LeafNodeURL
	c.NatsCfg.LeafNodeCreds = env.LeafNodeCreds

	c.ConsoleCfg.UnbufferedFlag = env.UnbufferedFlag
	c.ConsoleCfg.SearchPaths = env.SearchPaths
	c.ConsoleCfg.DrainTimeout = env.DrainTimeout
	return nil
}

// defaultFlagsCfg returns the default FlagsConfig.
func defaultFlagsCfg() *FlagsConfig {
	return &FlagsConfig{
		Headless: false,
		LogLevel: slog.LevelInfo,
	}
}

// defaultHTTPServerCfg returns sane defaults for the HTTP server.
func defaultHTTPServerCfg() *HTTPServerConfig {
	return &HTTPServerConfig{
		Port:         8080,
		ReadTimeout:  -1,
		WriteTimeout: -1,
		IdleTimeout:  -1,
		EnableTLS:    false,
		CertFile:     "./local_certs/localhost+2.pem",
		KeyFile:      "./local_certs/localhost+2-key.pem",
		SessionKey:   randomSessionKey(),
	}
}

// defaultNatsCfg returns the default EmbeddedServerConfig.
func defaultNatsCfg() *EmbeddedServerConfig {
	return &EmbeddedServerConfig{
		InProcess:       true,
		EnableLogging:   true,
		JetStream:       true,
		JetStreamDomain: "",
		StoreDir:        "./store/js",
	}
}

// defaultConsoleCfg mirrors the supervisor's own defaults.
func defaultConsoleCfg() *ConsoleConfig {
	return &ConsoleConfig{
		UnbufferedFlag: "-u",
		SearchPaths:    []string{"~/.local/bin", "/opt/homebrew/bin", "/usr/local/bin"},
		DrainTimeout:   2 * time.Second,
	}
}
