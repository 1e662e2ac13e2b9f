package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "STOCKROOM"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabaseType  = "sqlite"
	defaultDatabasePath  = "stockroom.db"
	defaultLogLevel      = "info"
	defaultCookieName    = "app_session"
	defaultIssuer        = "stockroom"
	defaultHubPeer       = "hub"
	defaultSyncInterval  = 5 * time.Minute
	defaultProbeInterval = 30 * time.Second
	defaultTokenTTL      = 30 * 24 * time.Hour
	defaultIDStride      = 1
	defaultMaxResponse   = 64 << 20
)

// AppConfig captures runtime configuration for the hub server and the replica agent.
type AppConfig struct {
	HTTPAddress string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	LogLevel string

	SigningSecret string
	CookieName    string
	Issuer        string
	TokenTTL      time.Duration

	HubURL   string
	HubToken string
	// HubPeer names the hub in the replica's sync state.
	HubPeer string
	// HubMaxResponseBytes bounds one sync answer from the hub.
	HubMaxResponseBytes int64

	// IDStride and IDOffset select the id stripe this process creates
	// entities in. The hub owns offset 0; every replica needs its own offset.
	IDStride int64
	IDOffset int64

	SyncInterval      time.Duration
	SyncProbeInterval time.Duration
	SyncAuto          bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseType)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("token.ttl", defaultTokenTTL)
	configViper.SetDefault("hub.peer", defaultHubPeer)
	configViper.SetDefault("hub.max_response_bytes", defaultMaxResponse)
	configViper.SetDefault("ids.stride", defaultIDStride)
	configViper.SetDefault("ids.offset", 0)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.probe_interval", defaultProbeInterval)
	configViper.SetDefault("sync.auto", true)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabaseDriver:      strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:        configViper.GetString("database.path"),
		DatabaseDSN:         configViper.GetString("database.dsn"),
		LogLevel:            configViper.GetString("log.level"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		CookieName:          configViper.GetString("auth.cookie_name"),
		Issuer:              configViper.GetString("auth.issuer"),
		TokenTTL:            configViper.GetDuration("token.ttl"),
		HubURL:              strings.TrimSpace(configViper.GetString("hub.url")),
		HubToken:            strings.TrimSpace(configViper.GetString("hub.token")),
		HubPeer:             strings.TrimSpace(configViper.GetString("hub.peer")),
		HubMaxResponseBytes: configViper.GetInt64("hub.max_response_bytes"),
		IDStride:            configViper.GetInt64("ids.stride"),
		IDOffset:            configViper.GetInt64("ids.offset"),
		SyncInterval:        configViper.GetDuration("sync.interval"),
		SyncProbeInterval:   configViper.GetDuration("sync.probe_interval"),
		SyncAuto:            configViper.GetBool("sync.auto"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.SyncProbeInterval <= 0 {
		return fmt.Errorf("sync.probe_interval must be positive")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl must be positive")
	}
	if c.HubMaxResponseBytes <= 0 {
		return fmt.Errorf("hub.max_response_bytes must be positive")
	}
	if c.IDStride < 1 {
		return fmt.Errorf("ids.stride must be at least 1")
	}
	if c.IDOffset < 0 || c.IDOffset >= c.IDStride {
		return fmt.Errorf("ids.offset must be in [0, ids.stride)")
	}
	return nil
}

// RequireSigningSecret reports an error unless a signing secret is configured.
// Only the hub and token minting need one.
func (c AppConfig) RequireSigningSecret() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	return nil
}

// RequireHub reports an error unless the replica knows where its hub is.
func (c AppConfig) RequireHub() error {
	if c.HubURL == "" {
		return fmt.Errorf("hub.url is required")
	}
	if c.HubPeer == "" {
		return fmt.Errorf("hub.peer is required")
	}
	if c.IDOffset == 0 {
		return fmt.Errorf("ids.offset must be set to this replica's own stripe; offset 0 belongs to the hub")
	}
	return nil
}
