package server

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds server configuration. Values are layered from built-in
// defaults, then a TOML config file, then TAILGATE_* environment variables;
// command-line flags override all of these (applied by the caller).
type Config struct {
	ListenAddr      string
	LogLevel        string
	DBPath          string
	GoogleClientID  string
	GoogleCertsURL  string // empty selects Google's published endpoint
	APIBaseURL      string
	OAuthSecretPath string
	AuthKeyTags     []string
	CORSOrigins     []string
	AdminToken      string
}

// fileConfig mirrors the config.toml layout.
type fileConfig struct {
	Server struct {
		ListenAddr string `toml:"listen_addr"`
		LogLevel   string `toml:"log_level"`
	} `toml:"server"`
	Google struct {
		ClientID string `toml:"client_id"`
		CertsURL string `toml:"certs_url"`
	} `toml:"google"`
	Tailnet struct {
		APIURL          string   `toml:"api_url"`
		OAuthSecretPath string   `toml:"oauth_secret_path"`
		AuthKeyTags     []string `toml:"auth_key_tags"`
	} `toml:"tailnet"`
	Database struct {
		Path string `toml:"path"`
	} `toml:"database"`
	CORS struct {
		Origins []string `toml:"origins"`
	} `toml:"cors"`
	Admin struct {
		Token string `toml:"token"`
	} `toml:"admin"`
}

// LoadConfig loads configuration from the given TOML file path layered over
// built-in defaults, then applies environment variables on top. A missing
// file is only an error when its path was set explicitly.
func LoadConfig(configPath string, pathExplicit bool) (*Config, error) {
	cfg := &Config{
		ListenAddr: ":3000",
		LogLevel:   "info",
		DBPath:     "tailgate.db",
		APIBaseURL: "https://api.tailscale.com/api/v2",
	}

	if err := cfg.applyFile(configPath, pathExplicit); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string, explicit bool) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !explicit {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.ListenAddr, fc.Server.ListenAddr)
	setString(&c.LogLevel, fc.Server.LogLevel)
	setString(&c.GoogleClientID, fc.Google.ClientID)
	setString(&c.GoogleCertsURL, fc.Google.CertsURL)
	setString(&c.APIBaseURL, fc.Tailnet.APIURL)
	setString(&c.OAuthSecretPath, fc.Tailnet.OAuthSecretPath)
	setString(&c.DBPath, fc.Database.Path)
	setString(&c.AdminToken, fc.Admin.Token)
	if len(fc.Tailnet.AuthKeyTags) > 0 {
		c.AuthKeyTags = fc.Tailnet.AuthKeyTags
	}
	if len(fc.CORS.Origins) > 0 {
		c.CORSOrigins = fc.CORS.Origins
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, os.Getenv("TAILGATE_LISTEN_ADDR"))
	setString(&c.LogLevel, os.Getenv("TAILGATE_LOG_LEVEL"))
	setString(&c.DBPath, os.Getenv("TAILGATE_DB_PATH"))
	setString(&c.GoogleClientID, os.Getenv("TAILGATE_GOOGLE_CLIENT_ID"))
	setString(&c.GoogleCertsURL, os.Getenv("TAILGATE_GOOGLE_CERTS_URL"))
	setString(&c.APIBaseURL, os.Getenv("TAILGATE_API_URL"))
	setString(&c.OAuthSecretPath, os.Getenv("TAILGATE_OAUTH_SECRET_PATH"))
	setString(&c.AdminToken, os.Getenv("TAILGATE_ADMIN_TOKEN"))
	if v := os.Getenv("TAILGATE_AUTH_KEY_TAGS"); v != "" {
		c.AuthKeyTags = splitList(v)
	}
	if v := os.Getenv("TAILGATE_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
}

func (c *Config) validate() error {
	if c.GoogleClientID == "" {
		return fmt.Errorf("google client id is required (TAILGATE_GOOGLE_CLIENT_ID or google.client_id)")
	}
	if c.OAuthSecretPath == "" {
		return fmt.Errorf("oauth secret path is required (TAILGATE_OAUTH_SECRET_PATH or tailnet.oauth_secret_path)")
	}
	if c.AdminToken != "" && len(c.AdminToken) < 16 {
		return fmt.Errorf("admin token must be at least 16 characters")
	}
	return nil
}

// ReadOAuthSecret reads the tailnet OAuth client secret from the configured
// file, trimmed of surrounding whitespace.
func (c *Config) ReadOAuthSecret() (string, error) {
	data, err := os.ReadFile(c.OAuthSecretPath)
	if err != nil {
		return "", fmt.Errorf("read oauth secret: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
