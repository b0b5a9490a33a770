// Package config loads mirror settings from the environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// GitHub: a token, or App credentials, or neither for anonymous access
	GitHubToken          string `envconfig:"GITHUB_TOKEN"`
	GitHubAppID          int64  `envconfig:"GITHUB_APP_ID"`
	GitHubInstallationID int64  `envconfig:"GITHUB_INSTALLATION_ID"`
	GitHubPrivateKeyPath string `envconfig:"GITHUB_PRIVATE_KEY_PATH"`
	GitHubWebhookSecret  string `envconfig:"GITHUB_WEBHOOK_SECRET"`
	GitHubAPIURL         string `envconfig:"GITHUB_API_URL"` // GitHub Enterprise Server base URL

	// Collection
	Repo      string `envconfig:"MIRROR_REPO"` // owner/name
	OutputDir string `envconfig:"MIRROR_OUTPUT_DIR" default:"issues"`
	StateDir  string `envconfig:"MIRROR_STATE_DIR" default:".issuemirror"`

	// Fetch filters
	IssueState      string `envconfig:"MIRROR_ISSUE_STATE" default:"all"`
	Labels          string `envconfig:"MIRROR_LABELS"` // comma-separated
	Assignee        string `envconfig:"MIRROR_ASSIGNEE"`
	Milestone       string `envconfig:"MIRROR_MILESTONE"`
	IncludeComments bool   `envconfig:"MIRROR_INCLUDE_COMMENTS" default:"true"`

	// Response cache
	CacheTTL        time.Duration `envconfig:"MIRROR_CACHE_TTL" default:"5m"`
	CacheMaxEntries int           `envconfig:"MIRROR_CACHE_MAX_ENTRIES" default:"500"`

	FetchConcurrency int           `envconfig:"MIRROR_FETCH_CONCURRENCY" default:"5"`
	WatchInterval    time.Duration `envconfig:"MIRROR_WATCH_INTERVAL" default:"5m"`
	HistoryRetention time.Duration `envconfig:"MIRROR_HISTORY_RETENTION" default:"720h"`

	// Observability
	ListenAddr      string `envconfig:"MIRROR_LISTEN_ADDR"` // /metrics and /webhook in watch mode
	MetricsTextfile string `envconfig:"MIRROR_METRICS_TEXTFILE"`
}

// RepoOwnerName splits Repo into owner and name.
func (c *Config) RepoOwnerName() (owner, name string, err error) {
	parts := strings.Split(strings.TrimSpace(c.Repo), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("MIRROR_REPO %q must be owner/name", c.Repo)
	}
	return parts[0], parts[1], nil
}

// Collection is the name the ledger, cache and history are keyed by.
func (c *Config) Collection() string {
	return strings.ToLower(strings.TrimSpace(c.Repo))
}

// collectionDir is the per-collection directory under StateDir.
func (c *Config) collectionDir() string {
	return filepath.Join(c.StateDir, strings.ReplaceAll(c.Collection(), "/", "__"))
}

// LedgerPath is where the collection's ledger is persisted.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.collectionDir(), "ledger.json")
}

// CacheDir is where the collection's response cache lives.
func (c *Config) CacheDir() string {
	return filepath.Join(c.collectionDir(), "cache")
}

// HistoryPath is the SQLite run history shared by all collections.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.StateDir, "history.db")
}

// LabelList returns the parsed label filter.
func (c *Config) LabelList() []string {
	if c.Labels == "" {
		return nil
	}
	parts := strings.Split(c.Labels, ",")
	labels := make([]string, 0, len(parts))
	for _, l := range parts {
		l = strings.TrimSpace(l)
		if l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}

// GitHubAppEnabled returns true if GitHub App credentials are configured.
func (c *Config) GitHubAppEnabled() bool {
	return c.GitHubAppID > 0 && c.GitHubPrivateKeyPath != ""
}

// Validate checks the settings a sync pass needs.
func (c *Config) Validate() error {
	if _, _, err := c.RepoOwnerName(); err != nil {
		return err
	}
	if c.OutputDir == "" {
		return fmt.Errorf("MIRROR_OUTPUT_DIR must not be empty")
	}
	if c.StateDir == "" {
		return fmt.Errorf("MIRROR_STATE_DIR must not be empty")
	}
	switch c.IssueState {
	case "open", "closed", "all":
	default:
		return fmt.Errorf("MIRROR_ISSUE_STATE %q must be open, closed or all", c.IssueState)
	}
	if c.GitHubAppID > 0 && (c.GitHubInstallationID == 0 || c.GitHubPrivateKeyPath == "") {
		return fmt.Errorf("GITHUB_APP_ID requires GITHUB_INSTALLATION_ID and GITHUB_PRIVATE_KEY_PATH")
	}
	if c.CacheMaxEntries < 0 {
		return fmt.Errorf("MIRROR_CACHE_MAX_ENTRIES must not be negative")
	}
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("MIRROR_FETCH_CONCURRENCY must be at least 1")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
