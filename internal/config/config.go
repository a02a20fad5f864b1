package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DivergencePolicy defines what happens when the upstream branch cannot be
// fast-forwarded onto
type DivergencePolicy string

const (
	DivergedFail DivergencePolicy = "fail"
	DivergedWarn DivergencePolicy = "warn"
)

const (
	DefaultRemoteName    = "origin"
	DefaultPushRef       = "refs/heads/master"
	DefaultInterval      = 60 * time.Second
	DefaultDebounce      = 60 * time.Second
	DefaultCommitMessage = "Autocommit: Push commit"
	DefaultListenAddr    = "127.0.0.1:8787"
)

// Config represents the complete git-watch configuration
type Config struct {
	Remote RemoteConfig `yaml:"remote"`
	Sync   SyncConfig   `yaml:"sync"`
	Commit CommitConfig `yaml:"commit"`
	Auth   AuthConfig   `yaml:"auth"`
	Serve  ServeConfig  `yaml:"serve"`
}

// RemoteConfig selects the remote to synchronize with
type RemoteConfig struct {
	Name    string `yaml:"name"`
	PushRef string `yaml:"push_ref"`
}

// SyncConfig configures the sync loop
type SyncConfig struct {
	// Interval is the pause between two cycles.
	Interval time.Duration `yaml:"interval"`
	// Debounce is how long a file must stay unmodified before it is staged.
	// An explicit 0 stages modifications immediately; leaving the key out
	// selects DefaultDebounce.
	Debounce   time.Duration    `yaml:"debounce"`
	OnDiverged DivergencePolicy `yaml:"on_diverged"`

	debounceSet bool
}

// UnmarshalYAML decodes the sync section and records whether debounce was
// given, so that an explicit zero survives applyDefaults.
func (s *SyncConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain SyncConfig
	if err := value.Decode((*plain)(s)); err != nil {
		return err
	}
	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			if value.Content[i].Value == "debounce" && value.Content[i+1].ShortTag() != "!!null" {
				s.debounceSet = true
			}
		}
	}
	return nil
}

// CommitConfig configures the automatic commits
type CommitConfig struct {
	Message     string `yaml:"message"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// AuthConfig configures SSH authentication
type AuthConfig struct {
	SSHKeyFile            string `yaml:"ssh_key_file"`
	SSHPublicKeyFile      string `yaml:"ssh_public_key_file"`
	SSHKeyPassphraseFile  string `yaml:"ssh_key_passphrase_file"`
	KnownHostsFile        string `yaml:"known_hosts_file"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key"`
}

// ServeConfig configures the optional webhook wake-up server
type ServeConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
	AllowedRefs             []string `yaml:"allowed_refs"`
}

// Default returns the configuration used when no config file exists
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in path and address fields
func (c *Config) expandEnv() {
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.SSHPublicKeyFile = os.ExpandEnv(c.Auth.SSHPublicKeyFile)
	c.Auth.SSHKeyPassphraseFile = os.ExpandEnv(c.Auth.SSHKeyPassphraseFile)
	c.Auth.KnownHostsFile = os.ExpandEnv(c.Auth.KnownHostsFile)
	c.Commit.AuthorName = os.ExpandEnv(c.Commit.AuthorName)
	c.Commit.AuthorEmail = os.ExpandEnv(c.Commit.AuthorEmail)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Remote.Name == "" {
		c.Remote.Name = DefaultRemoteName
	}
	if c.Remote.PushRef == "" {
		c.Remote.PushRef = DefaultPushRef
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = DefaultInterval
	}
	if c.Sync.Debounce == 0 && !c.Sync.debounceSet {
		c.Sync.Debounce = DefaultDebounce
	}
	if c.Sync.OnDiverged == "" {
		c.Sync.OnDiverged = DivergedFail
	}
	if c.Commit.Message == "" {
		c.Commit.Message = DefaultCommitMessage
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = DefaultListenAddr
	}
	if len(c.Serve.AllowedEventTypes) == 0 {
		c.Serve.AllowedEventTypes = []string{"push"}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Remote.Name == "" {
		return fmt.Errorf("remote.name is required")
	}
	if !strings.HasPrefix(c.Remote.PushRef, "refs/") {
		return fmt.Errorf("remote.push_ref must be a full reference name (refs/...): %s", c.Remote.PushRef)
	}

	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive: %s", c.Sync.Interval)
	}
	if c.Sync.Debounce < 0 {
		return fmt.Errorf("sync.debounce must not be negative: %s", c.Sync.Debounce)
	}

	switch c.Sync.OnDiverged {
	case DivergedFail, DivergedWarn:
		// valid
	default:
		return fmt.Errorf("invalid sync.on_diverged policy: %s (must be fail or warn)", c.Sync.OnDiverged)
	}

	if strings.TrimSpace(c.Commit.Message) == "" {
		return fmt.Errorf("commit.message must not be blank")
	}
	if (c.Commit.AuthorName == "") != (c.Commit.AuthorEmail == "") {
		return fmt.Errorf("commit.author_name and commit.author_email must be set together")
	}

	if c.Auth.InsecureIgnoreHostKey && c.Auth.KnownHostsFile != "" {
		return fmt.Errorf("auth: only one of known_hosts_file or insecure_ignore_host_key may be set")
	}
	if c.Auth.SSHPublicKeyFile != "" && c.Auth.SSHKeyFile == "" {
		return fmt.Errorf("auth.ssh_public_key_file requires auth.ssh_key_file")
	}

	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

// AuthMethod returns a description of the configured host key policy
func (c *Config) AuthMethod() string {
	switch {
	case c.Auth.InsecureIgnoreHostKey:
		return "ssh (host key ignored)"
	case c.Auth.KnownHostsFile != "":
		return "ssh (known hosts: " + c.Auth.KnownHostsFile + ")"
	default:
		return "ssh"
	}
}
