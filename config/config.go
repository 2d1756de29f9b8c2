package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultWebAddr        = ":8080"
	defaultReconnectDelay = 3 * time.Second
	defaultMaxVisible     = 5
	defaultMaxQueued      = 20
)

// Config holds the runtime configuration for the notification service.
type Config struct {
	StreamURL  string
	APIBaseURL string
	APIToken   string

	WebAddr     string
	TLSDomains  []string
	TLSCacheDir string

	ReconnectDelay        time.Duration
	DismissCompletedAfter time.Duration
	DismissFailedAfter    time.Duration

	ToastMaxVisible int
	ToastMaxQueued  int
}

type configTmp struct {
	StreamURL  string `yaml:"stream_url"`
	APIBaseURL string `yaml:"api_base_url"`

	WebAddr     string   `yaml:"web_addr"`
	TLSDomains  []string `yaml:"tls_domains,omitempty"`
	TLSCacheDir string   `yaml:"tls_cache_dir,omitempty"`

	ReconnectDelay        time.Duration `yaml:"reconnect_delay,omitempty"`
	DismissCompletedAfter time.Duration `yaml:"dismiss_completed_after,omitempty"`
	DismissFailedAfter    time.Duration `yaml:"dismiss_failed_after,omitempty"`

	ToastMaxVisible int `yaml:"toast_max_visible,omitempty"`
	ToastMaxQueued  int `yaml:"toast_max_queued,omitempty"`
}

// Get reads configuration from a yaml file when --config is provided,
// otherwise from CLI flags. The API token always comes from the
// NOTIFIER_API_TOKEN environment variable, never from files or flags.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	streamURL := flag.String("stream", "ws://localhost:9000/ws/actions", "websocket action stream url")
	apiBaseURL := flag.String("api", "http://localhost:9000", "bot REST API base url")
	webAddr := flag.String("addr", defaultWebAddr, "address for the notification web server")
	flag.Parse()

	var cfg Config
	var err error
	if *configPath != "" {
		cfg, err = getYaml(*configPath)
		if err != nil {
			return Config{}, err
		}
	} else {
		cfg = Config{
			StreamURL:  *streamURL,
			APIBaseURL: *apiBaseURL,
			WebAddr:    *webAddr,
		}
	}

	cfg.APIToken = os.Getenv("NOTIFIER_API_TOKEN")
	applyDefaults(&cfg)

	if cfg.StreamURL == "" {
		return Config{}, fmt.Errorf("stream url is required")
	}
	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("api base url is required")
	}
	return cfg, nil
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp configTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, fmt.Errorf("incorrect yaml config: %w", err)
	}

	if tmp.ToastMaxVisible < 0 {
		return Config{}, fmt.Errorf("incorrect 'toast_max_visible' param in yaml config: %d", tmp.ToastMaxVisible)
	}
	if tmp.ToastMaxQueued < 0 {
		return Config{}, fmt.Errorf("incorrect 'toast_max_queued' param in yaml config: %d", tmp.ToastMaxQueued)
	}
	if tmp.ReconnectDelay < 0 {
		return Config{}, fmt.Errorf("incorrect 'reconnect_delay' param in yaml config: %s", tmp.ReconnectDelay)
	}

	return Config{
		StreamURL:             tmp.StreamURL,
		APIBaseURL:            tmp.APIBaseURL,
		WebAddr:               tmp.WebAddr,
		TLSDomains:            tmp.TLSDomains,
		TLSCacheDir:           tmp.TLSCacheDir,
		ReconnectDelay:        tmp.ReconnectDelay,
		DismissCompletedAfter: tmp.DismissCompletedAfter,
		DismissFailedAfter:    tmp.DismissFailedAfter,
		ToastMaxVisible:       tmp.ToastMaxVisible,
		ToastMaxQueued:        tmp.ToastMaxQueued,
	}, nil
}

func applyDefaults(cfg *Config) {
	if cfg.WebAddr == "" {
		cfg.WebAddr = defaultWebAddr
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.DismissCompletedAfter == 0 {
		cfg.DismissCompletedAfter = 10 * time.Second
	}
	if cfg.DismissFailedAfter == 0 {
		cfg.DismissFailedAfter = 30 * time.Second
	}
	if cfg.ToastMaxVisible == 0 {
		cfg.ToastMaxVisible = defaultMaxVisible
	}
	if cfg.ToastMaxQueued == 0 {
		cfg.ToastMaxQueued = defaultMaxQueued
	}
}
