package main

import (
	"os"
	"os/exec"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable, loadable from a YAML file with command-line
// flags taking precedence.
type Config struct {
	Listen  string `yaml:"listen"`
	Verbose int    `yaml:"verbose"`
	LogFile string `yaml:"log_file"`

	HTTPTimeoutSec  int    `yaml:"http_timeout"`
	CrtshTimeoutSec int    `yaml:"crtsh_timeout"`
	CrtshUserAgent  string `yaml:"crtsh_user_agent"`

	ResolverConcurrency int      `yaml:"resolver_concurrency"`
	ProbeConcurrency    int      `yaml:"probe_concurrency"`
	DNSServers          []string `yaml:"dns_servers"`

	BruteforceWords         []string `yaml:"bruteforce_words"`
	BruteforceExtraWordlist string   `yaml:"bruteforce_extra_wordlist"`
	SeclistsWordlist        string   `yaml:"seclists_wordlist"`
	SeclistsMinWords        int      `yaml:"seclists_min_words"`

	MassdnsBin           string `yaml:"massdns_bin"`
	MassdnsResolversFile string `yaml:"massdns_resolvers_file"`
	MassdnsBatchSize     int    `yaml:"massdns_batch_size"`

	DatabasePath          string `yaml:"database"`
	RecentScansLimit      int    `yaml:"recent_scans_limit"`
	PerDomainHistoryLimit int    `yaml:"per_domain_history_limit"`

	RateLimitRequests  int  `yaml:"rate_limit_requests"`
	RateLimitWindowSec int  `yaml:"rate_limit_window"`
	TrustXForwardedFor bool `yaml:"trust_x_forwarded_for"`

	SlackWebhook  string `yaml:"slack_webhook"`
	ScreenshotDir string `yaml:"screenshot_dir"`
}

func defaultConfig() Config {
	return Config{
		Listen:                ":8080",
		Verbose:               1,
		HTTPTimeoutSec:        8,
		CrtshTimeoutSec:       20,
		CrtshUserAgent:        "subfind/" + version,
		ResolverConcurrency:   100,
		ProbeConcurrency:      20,
		BruteforceWords:       defaultBruteforceWords,
		SeclistsMinWords:      500,
		MassdnsResolversFile:  "resolvers.txt",
		MassdnsBatchSize:      400,
		RecentScansLimit:      50,
		PerDomainHistoryLimit: 10,
		RateLimitRequests:     60,
		RateLimitWindowSec:    60,
	}
}

// loadConfig reads a YAML config file over the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) httpTimeout() time.Duration {
	if c.HTTPTimeoutSec <= 0 {
		return 8 * time.Second
	}
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

func (c Config) crtshTimeout() time.Duration {
	if c.CrtshTimeoutSec <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.CrtshTimeoutSec) * time.Second
}

func (c Config) rateLimitWindow() time.Duration {
	if c.RateLimitWindowSec <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSec) * time.Second
}

// massdnsPath probes for a usable massdns binary: the configured path, the
// conventional install location, then $PATH. Empty means unavailable.
func (c Config) massdnsPath() string {
	candidates := []string{c.MassdnsBin, "/opt/massdns/massdns"}
	if found, err := exec.LookPath("massdns"); err == nil {
		candidates = append(candidates, found)
	}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		return candidate
	}
	return ""
}
