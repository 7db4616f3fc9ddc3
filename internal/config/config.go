package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/snapetech/iptvguide/internal/fetch"
	"github.com/snapetech/iptvguide/internal/sources"
)

const envPrefix = "IPTV_GUIDE_"

// Config holds service settings. Precedence: environment, then the optional
// YAML file named by IPTV_GUIDE_CONFIG, then defaults.
type Config struct {
	Listen string // HTTP API listen address
	DBPath string // sqlite settings store; "" = in-memory

	// Initial guide source, used only when nothing is persisted yet.
	SourceURL      string
	AutoRefresh    bool
	RefreshMinutes int

	FetchTimeout     time.Duration // per attempt
	MaxDocumentBytes int64
	// Proxies are relay templates tried after a direct fetch fails ({url} or
	// {raw} placeholder). Empty disables relays.
	Proxies   []string
	UserAgent string
	HostRate  float64 // requests/sec per upstream host; 0 = unlimited

	PlaylistURL    string // optional M3U used for suggestions and logo enrichment
	LogoDB         string // iptv-org channels.json path
	AliasFile      string // JSON name -> guide id overrides
	ResolveCacheMB int

	Metrics   bool
	LogLevel  string
	LogFormat string // "json" | "console"
	LogFile   string

	// Sources is the built-in catalog. Nil means sources.Builtins.
	Sources []sources.Descriptor

	File string // config file actually read, if any
}

// fileConfig is the YAML layout. Pointers distinguish "unset" from zero.
type fileConfig struct {
	Listen           string               `yaml:"listen"`
	DB               string               `yaml:"db"`
	SourceURL        string               `yaml:"source_url"`
	AutoRefresh      *bool                `yaml:"auto_refresh"`
	RefreshMinutes   int                  `yaml:"refresh_minutes"`
	FetchTimeout     time.Duration        `yaml:"fetch_timeout"`
	MaxDocumentBytes int64                `yaml:"max_document_bytes"`
	Proxies          *[]string            `yaml:"proxies"`
	UserAgent        string               `yaml:"user_agent"`
	HostRate         *float64             `yaml:"host_rate"`
	PlaylistURL      string               `yaml:"playlist_url"`
	LogoDB           string               `yaml:"logo_db"`
	AliasFile        string               `yaml:"alias_file"`
	ResolveCacheMB   *int                 `yaml:"resolve_cache_mb"`
	Metrics          *bool                `yaml:"metrics"`
	Log              struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`
	Sources []sources.Descriptor `yaml:"sources"`
}

func defaults() *Config {
	return &Config{
		Listen:           ":8089",
		DBPath:           "./iptv-guide.db",
		RefreshMinutes:   360,
		FetchTimeout:     60 * time.Second,
		MaxDocumentBytes: fetch.DefaultMaxBytes,
		Proxies:          append([]string(nil), fetch.DefaultProxyTemplates...),
		HostRate:         2,
		ResolveCacheMB:   8,
		Metrics:          true,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// Load reads config from the YAML file (if IPTV_GUIDE_CONFIG is set) and the
// environment. Call LoadEnvFile(".env") first to use a .env file.
func Load() (*Config, error) {
	c := defaults()
	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := c.applyFile(path); err != nil {
			return nil, err
		}
	}
	c.applyEnv()

	if c.RefreshMinutes <= 0 {
		c.RefreshMinutes = 360
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 60 * time.Second
	}
	if c.MaxDocumentBytes <= 0 {
		c.MaxDocumentBytes = fetch.DefaultMaxBytes
	}
	if c.ResolveCacheMB < 0 {
		c.ResolveCacheMB = 0
	}
	return c, nil
}

func (c *Config) applyFile(path string) error {
	path = filepath.Clean(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.File = path
	setString(&c.Listen, f.Listen)
	setString(&c.DBPath, f.DB)
	setString(&c.SourceURL, f.SourceURL)
	if f.AutoRefresh != nil {
		c.AutoRefresh = *f.AutoRefresh
	}
	if f.RefreshMinutes != 0 {
		c.RefreshMinutes = f.RefreshMinutes
	}
	if f.FetchTimeout != 0 {
		c.FetchTimeout = f.FetchTimeout
	}
	if f.MaxDocumentBytes != 0 {
		c.MaxDocumentBytes = f.MaxDocumentBytes
	}
	if f.Proxies != nil {
		c.Proxies = *f.Proxies
	}
	setString(&c.UserAgent, f.UserAgent)
	if f.HostRate != nil {
		c.HostRate = *f.HostRate
	}
	setString(&c.PlaylistURL, f.PlaylistURL)
	setString(&c.LogoDB, f.LogoDB)
	setString(&c.AliasFile, f.AliasFile)
	if f.ResolveCacheMB != nil {
		c.ResolveCacheMB = *f.ResolveCacheMB
	}
	if f.Metrics != nil {
		c.Metrics = *f.Metrics
	}
	setString(&c.LogLevel, f.Log.Level)
	setString(&c.LogFormat, f.Log.Format)
	setString(&c.LogFile, f.Log.File)
	if len(f.Sources) > 0 {
		c.Sources = f.Sources
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Listen = getEnv(envPrefix+"LISTEN", c.Listen)
	c.DBPath = getEnv(envPrefix+"DB", c.DBPath)
	c.SourceURL = getEnv(envPrefix+"SOURCE_URL", c.SourceURL)
	c.AutoRefresh = getEnvBool(envPrefix+"AUTO_REFRESH", c.AutoRefresh)
	c.RefreshMinutes = getEnvInt(envPrefix+"REFRESH_MINUTES", c.RefreshMinutes)
	c.FetchTimeout = getEnvDuration(envPrefix+"FETCH_TIMEOUT", c.FetchTimeout)
	c.MaxDocumentBytes = int64(getEnvInt(envPrefix+"MAX_DOCUMENT_BYTES", int(c.MaxDocumentBytes)))
	if v, ok := os.LookupEnv(envPrefix + "PROXIES"); ok {
		c.Proxies = splitList(v)
	}
	c.UserAgent = getEnv(envPrefix+"USER_AGENT", c.UserAgent)
	c.HostRate = getEnvFloat(envPrefix+"HOST_RATE", c.HostRate)
	c.PlaylistURL = getEnv(envPrefix+"PLAYLIST_URL", c.PlaylistURL)
	c.LogoDB = getEnv(envPrefix+"LOGO_DB", c.LogoDB)
	c.AliasFile = getEnv(envPrefix+"ALIASES", c.AliasFile)
	c.ResolveCacheMB = getEnvInt(envPrefix+"RESOLVE_CACHE_MB", c.ResolveCacheMB)
	c.Metrics = getEnvBool(envPrefix+"METRICS", c.Metrics)
	c.LogLevel = getEnv(envPrefix+"LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv(envPrefix+"LOG_FORMAT", c.LogFormat)
	c.LogFile = getEnv(envPrefix+"LOG_FILE", c.LogFile)
}

// splitList splits a comma list. "none" (or an empty value) yields an empty,
// non-nil list.
func splitList(s string) []string {
	out := []string{}
	if strings.EqualFold(strings.TrimSpace(s), "none") {
		return out
	}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
