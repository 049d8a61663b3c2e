package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TLS modes.
const (
	TLSOff        = "off"
	TLSFiles      = "files"
	TLSSelfSigned = "self-signed"
	TLSAutocert   = "autocert"
)

type Config struct {
	Port     string
	LogLevel string
	LogFile  string

	TLSMode     string
	TLSCertFile string
	TLSKeyFile  string
	Domain      string

	OpenTok OpenTokConfig
	Callers CallersConfig
	Agent   AgentConfig
	VAPID   VAPIDConfig
}

type OpenTokConfig struct {
	APIKey         string
	APISecret      string
	BaseURL        string
	GatewayTimeout time.Duration
	SignalTimeout  time.Duration
	TokenTTL       time.Duration
}

type CallersConfig struct {
	// TTL evicts callers idle for this long. Callers with a connected agent
	// are exempt, so long calls are never cut off.
	TTL             time.Duration
	MaxCallers      int
	CleanupInterval time.Duration
}

type AgentConfig struct {
	// PasswordHash is a bcrypt hash. Empty disables the agent gate.
	PasswordHash string
	JWTSecret    string
	SessionTTL   time.Duration
}

type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string

	// StorePath is the SQLite file for agent subscriptions. Empty keeps
	// them in memory.
	StorePath string
}

// Load reads the configuration from the environment. Command-line flags
// override the TLS mode when set.
func Load(httpOnly, selfSigned bool) (*Config, error) {
	var errs []error

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:     strings.TrimSpace(os.Getenv("LOG_FILE")),
		TLSMode:     strings.ToLower(getEnv("TLS_MODE", "")),
		TLSCertFile: getEnv("TLS_CERT_FILE", "cert.pem"),
		TLSKeyFile:  getEnv("TLS_KEY_FILE", "key.pem"),
		Domain:      strings.TrimSpace(os.Getenv("DOMAIN")),
		OpenTok: OpenTokConfig{
			APIKey:    strings.TrimSpace(os.Getenv("OPENTOK_API_KEY")),
			APISecret: os.Getenv("OPENTOK_API_SECRET"),
			BaseURL:   getEnv("OPENTOK_API_URL", "https://api.opentok.com"),
		},
		Agent: AgentConfig{
			PasswordHash: strings.TrimSpace(os.Getenv("AGENT_PASSWORD_HASH")),
			JWTSecret:    os.Getenv("AGENT_JWT_SECRET"),
		},
		VAPID: VAPIDConfig{
			PublicKey:  strings.TrimSpace(os.Getenv("VAPID_PUBLIC_KEY")),
			PrivateKey: strings.TrimSpace(os.Getenv("VAPID_PRIVATE_KEY")),
			Subject:    getEnv("VAPID_SUBJECT", "mailto:desk@example.com"),
			StorePath:  strings.TrimSpace(os.Getenv("PUSH_DB_PATH")),
		},
	}

	cfg.OpenTok.GatewayTimeout = getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second, &errs)
	cfg.OpenTok.SignalTimeout = getEnvDuration("SIGNAL_TIMEOUT", 5*time.Second, &errs)
	cfg.OpenTok.TokenTTL = getEnvDuration("TOKEN_TTL", time.Hour, &errs)
	cfg.Callers.TTL = getEnvDuration("CALLER_TTL", 0, &errs)
	cfg.Callers.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Minute, &errs)
	cfg.Callers.MaxCallers = getEnvInt("CALLER_MAX", 0, &errs)
	cfg.Agent.SessionTTL = getEnvDuration("AGENT_SESSION_TTL", 12*time.Hour, &errs)

	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSOff
		if secure := os.Getenv("SECURE"); secure != "" && secure != "0" {
			cfg.TLSMode = TLSFiles
		}
	}
	switch {
	case httpOnly:
		cfg.TLSMode = TLSOff
	case selfSigned:
		cfg.TLSMode = TLSSelfSigned
	}

	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.OpenTok.APIKey == "" {
		errs = append(errs, errors.New("OPENTOK_API_KEY is required"))
	}
	if c.OpenTok.APISecret == "" {
		errs = append(errs, errors.New("OPENTOK_API_SECRET is required"))
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be a valid port, got %q", c.Port))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel))
	}

	switch c.TLSMode {
	case TLSOff, TLSSelfSigned:
	case TLSFiles:
		if c.TLSCertFile == "" || c.TLSKeyFile == "" {
			errs = append(errs, errors.New("TLS_CERT_FILE and TLS_KEY_FILE are required for TLS_MODE=files"))
		}
	case TLSAutocert:
		if c.Domain == "" {
			errs = append(errs, errors.New("DOMAIN is required for TLS_MODE=autocert"))
		}
	default:
		errs = append(errs, fmt.Errorf("TLS_MODE must be one of off, files, self-signed, autocert, got %q", c.TLSMode))
	}

	if c.OpenTok.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	if c.OpenTok.SignalTimeout <= 0 {
		errs = append(errs, errors.New("SIGNAL_TIMEOUT must be positive"))
	}
	if c.OpenTok.TokenTTL <= 0 || c.OpenTok.TokenTTL > 30*24*time.Hour {
		errs = append(errs, errors.New("TOKEN_TTL must be between 0 and 30 days"))
	}
	if c.Callers.TTL < 0 {
		errs = append(errs, errors.New("CALLER_TTL must not be negative"))
	}
	if c.Callers.MaxCallers < 0 {
		errs = append(errs, errors.New("CALLER_MAX must not be negative"))
	}
	if c.Callers.TTL > 0 && c.Callers.CleanupInterval <= 0 {
		errs = append(errs, errors.New("CLEANUP_INTERVAL must be positive when CALLER_TTL is set"))
	}

	if c.Agent.PasswordHash != "" && c.Agent.SessionTTL <= 0 {
		errs = append(errs, errors.New("AGENT_SESSION_TTL must be positive"))
	}
	if (c.VAPID.PublicKey == "") != (c.VAPID.PrivateKey == "") {
		errs = append(errs, errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together"))
	}

	return joinErrors(errs)
}

// AgentGateEnabled reports whether agent routes require a session token.
func (c *Config) AgentGateEnabled() bool {
	return c.Agent.PasswordHash != ""
}

func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a duration, got %q", key, value))
		return defaultValue
	}
	return d
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
