package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Generation classes
const (
	ClassStatic  = "static"
	ClassDynamic = "dynamic"
)

// Config represents the application configuration
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Cache    CacheConfig    `yaml:"cache"`
	Routes   RoutesConfig   `yaml:"routes"`
	Queue    QueueConfig    `yaml:"queue"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port  int         `yaml:"port"`
	HTTPS HTTPSConfig `yaml:"https"`
}

// HTTPSConfig contains TLS interception settings
type HTTPSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CACertFile      string `yaml:"ca_cert_file"`
	CAKeyFile       string `yaml:"ca_key_file"`
	TransparentPort int    `yaml:"transparent_port"`
}

// UpstreamConfig points at the journal server
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	Folder      string             `yaml:"folder"`
	OfflineURL  string             `yaml:"offline_url"`
	Generations []GenerationConfig `yaml:"generations"`
}

// GenerationConfig describes one versioned cache bucket
type GenerationConfig struct {
	Name    string   `yaml:"name"`
	Class   string   `yaml:"class"` // "static" or "dynamic"
	Version int      `yaml:"version"`
	Members []string `yaml:"members"`
}

// StorageName is the directory name of the generation, e.g. learningpwa-static-v6
func (g GenerationConfig) StorageName() string {
	return fmt.Sprintf("%s-v%d", g.Name, g.Version)
}

// RoutesConfig controls request classification
type RoutesConfig struct {
	APIPrefixes   []string `yaml:"api_prefixes"`
	WarmEndpoints []string `yaml:"warm_endpoints"`
}

// QueueConfig contains pending write queue settings
type QueueConfig struct {
	Path       string `yaml:"path"`
	JournalKey string `yaml:"journal_key"`
	ScoreKey   string `yaml:"score_key"`
}

// MonitorConfig contains connectivity monitor settings
type MonitorConfig struct {
	ProbePath         string `yaml:"probe_path"`
	Interval          string `yaml:"interval"`
	MaxInterval       string `yaml:"max_interval"`
	OnlineBannerDelay string `yaml:"online_banner_delay"`
	SyncedBannerDelay string `yaml:"synced_banner_delay"`
}

// Default returns the configuration used when no file overrides a value
func Default() Config {
	return Config{
		LogLevel: "info",
		Server:   ServerConfig{Port: 8080},
		Upstream: UpstreamConfig{BaseURL: "http://localhost:5000"},
		Cache: CacheConfig{
			Folder:     "./cache",
			OfflineURL: "/offline.html",
		},
		Routes: RoutesConfig{
			APIPrefixes:   []string{"/reflections", "/api/questions", "/api/leaderboard"},
			WarmEndpoints: []string{"/reflections", "/api/questions/technical"},
		},
		Queue: QueueConfig{
			Path:       "./pending.db",
			JournalKey: "pendingReflections",
			ScoreKey:   "pendingScores",
		},
		Monitor: MonitorConfig{
			ProbePath:         "/api/health",
			Interval:          "10s",
			MaxInterval:       "2m",
			OnlineBannerDelay: "3.5s",
			SyncedBannerDelay: "3s",
		},
	}
}

// DefaultGenerations mirrors the app shell of the journal
func DefaultGenerations() []GenerationConfig {
	return []GenerationConfig{
		{
			Name:    "learningpwa-static",
			Class:   ClassStatic,
			Version: 6,
			Members: []string{
				"/", "/index.html", "/about.html", "/journal.html", "/projects.html", "/quiz.html",
				"/journal", "/about", "/projects", "/quiz",
				"/css/style.css",
				"/js/main.js", "/js/script.js", "/js/storage.js", "/js/browser.js",
				"/js/journal-data.js", "/js/thirdparty.js", "/js/quiz.js",
				"/images/icon-192.png", "/images/icon-512.png", "/images/logo.png", "/images/profile.jpeg",
				"/manifest.json",
				"/offline.html",
			},
		},
		{
			Name:    "learningpwa-data",
			Class:   ClassDynamic,
			Version: 2,
		},
	}
}

// Load loads configuration from a YAML file, on top of Default()
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "yaml"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Set defaults
	if len(config.Cache.Generations) == 0 {
		config.Cache.Generations = DefaultGenerations()
	}

	return &config, nil
}

// Generation returns the configured generation of the given class
func (c *Config) Generation(class string) (GenerationConfig, bool) {
	for _, g := range c.Cache.Generations {
		if g.Class == class {
			return g, true
		}
	}
	return GenerationConfig{}, false
}

// ActiveGenerations returns the storage names that survive activation
func (c *Config) ActiveGenerations() []string {
	names := make([]string, 0, len(c.Cache.Generations))
	for _, g := range c.Cache.Generations {
		names = append(names, g.StorageName())
	}
	return names
}

// UpstreamURL parses the upstream base URL
func (c *Config) UpstreamURL() (*url.URL, error) {
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base URL must be absolute, got %q", c.Upstream.BaseURL)
	}
	return u, nil
}

// GetProbeInterval parses the monitor probe interval
func (c *Config) GetProbeInterval() (time.Duration, error) {
	return time.ParseDuration(c.Monitor.Interval)
}

// GetMaxProbeInterval parses the upper bound of the offline probe backoff
func (c *Config) GetMaxProbeInterval() (time.Duration, error) {
	return time.ParseDuration(c.Monitor.MaxInterval)
}

// GetOnlineBannerDelay parses how long the "back online" banner stays visible
func (c *Config) GetOnlineBannerDelay() (time.Duration, error) {
	return time.ParseDuration(c.Monitor.OnlineBannerDelay)
}

// GetSyncedBannerDelay parses how long the "entries synced" banner stays visible
func (c *Config) GetSyncedBannerDelay() (time.Duration, error) {
	return time.ParseDuration(c.Monitor.SyncedBannerDelay)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if _, err := c.UpstreamURL(); err != nil {
		return fmt.Errorf("invalid upstream: %w", err)
	}

	if c.Cache.Folder == "" {
		return fmt.Errorf("cache folder is required")
	}

	if !strings.HasPrefix(c.Cache.OfflineURL, "/") {
		return fmt.Errorf("offline URL must be an absolute path, got: %q", c.Cache.OfflineURL)
	}

	if err := c.validateGenerations(); err != nil {
		return err
	}

	for _, prefix := range c.Routes.APIPrefixes {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("API prefix must start with '/', got: %q", prefix)
		}
	}

	if c.Queue.Path == "" {
		return fmt.Errorf("queue path is required")
	}
	if c.Queue.JournalKey == "" || c.Queue.ScoreKey == "" {
		return fmt.Errorf("queue storage keys are required")
	}
	if c.Queue.JournalKey == c.Queue.ScoreKey {
		return fmt.Errorf("queue storage keys must differ, both are %q", c.Queue.JournalKey)
	}

	durations := map[string]string{
		"monitor interval":            c.Monitor.Interval,
		"monitor max interval":        c.Monitor.MaxInterval,
		"monitor online banner delay": c.Monitor.OnlineBannerDelay,
		"monitor synced banner delay": c.Monitor.SyncedBannerDelay,
	}
	for name, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, value)
		}
	}

	return nil
}

func (c *Config) validateGenerations() error {
	seen := map[string]bool{}
	classes := map[string]int{}
	for _, g := range c.Cache.Generations {
		if g.Name == "" {
			return fmt.Errorf("generation name is required")
		}
		if g.Class != ClassStatic && g.Class != ClassDynamic {
			return fmt.Errorf("generation class must be 'static' or 'dynamic', got: %s", g.Class)
		}
		if g.Version < 0 {
			return fmt.Errorf("generation %s has negative version %d", g.Name, g.Version)
		}
		if seen[g.StorageName()] {
			return fmt.Errorf("duplicate generation: %s", g.StorageName())
		}
		seen[g.StorageName()] = true
		classes[g.Class]++
	}

	for _, class := range []string{ClassStatic, ClassDynamic} {
		if classes[class] != 1 {
			return fmt.Errorf("exactly one %s generation is required, got %d", class, classes[class])
		}
	}
	return nil
}
