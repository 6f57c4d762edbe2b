package rentald

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pkt.systems/rentald/internal/participant"
)

const (
	// DefaultListen is the UDP endpoint the participant binds to.
	DefaultListen = ":5001"
	// DefaultSelfName is the peer name coordinators address this
	// participant by.
	DefaultSelfName = "CarProvider"
	// DefaultStore points the server at the in-memory backend when no
	// store is configured.
	DefaultStore = "mem://"
	// DefaultJournalDir is where per-transaction journal records live.
	DefaultJournalDir = "journal"
	// DefaultDecisionTimeout mirrors the state machine default.
	DefaultDecisionTimeout = participant.DefaultDecisionTimeout
	// DefaultGCDelay mirrors the state machine default.
	DefaultGCDelay = participant.DefaultGCDelay
	// DefaultMetricsListen is the Prometheus scrape endpoint; empty
	// disables metrics.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the pprof debug listener; empty disables it.
	DefaultPprofListen = ""
)

// Config holds everything the server needs to run.
type Config struct {
	// Listen is the UDP bind address (for example ":5001").
	Listen string `yaml:"listen"`
	// SelfName is this participant's name inside coordinator contexts.
	SelfName string `yaml:"self-name"`
	// Store is the backend DSN (mem:// or postgres://...).
	Store string `yaml:"store"`
	// JournalDir is the directory holding one journal record per
	// transaction.
	JournalDir string `yaml:"journal-dir"`
	// DecisionTimeout is how long an in-doubt transaction waits for the
	// coordinator before asking the other participants.
	DecisionTimeout time.Duration `yaml:"decision-timeout"`
	// GCDelay is how long a decided transaction lingers before its journal
	// record and registry entry are collected.
	GCDelay time.Duration `yaml:"gc-delay"`
	// MetricsListen is the metrics endpoint bind address; empty disables
	// metrics.
	MetricsListen string `yaml:"metrics-listen"`
	// PprofListen is the pprof endpoint bind address; empty disables pprof.
	PprofListen string `yaml:"pprof-listen"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return Config{
		Listen:          DefaultListen,
		SelfName:        DefaultSelfName,
		Store:           DefaultStore,
		JournalDir:      DefaultJournalDir,
		DecisionTimeout: DefaultDecisionTimeout,
		GCDelay:         DefaultGCDelay,
		MetricsListen:   DefaultMetricsListen,
		PprofListen:     DefaultPprofListen,
	}
}

// Validate fills zero values with defaults and rejects configurations the
// server cannot serve.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = DefaultListen
	}
	c.SelfName = strings.TrimSpace(c.SelfName)
	if c.SelfName == "" {
		c.SelfName = DefaultSelfName
	}
	if strings.TrimSpace(c.Store) == "" {
		c.Store = DefaultStore
	}
	switch {
	case strings.HasPrefix(c.Store, "mem://"):
	case strings.HasPrefix(c.Store, "postgres://"), strings.HasPrefix(c.Store, "postgresql://"):
	default:
		return fmt.Errorf("config: unknown store scheme in %q (mem:// or postgres://)", c.Store)
	}
	if strings.TrimSpace(c.JournalDir) == "" {
		c.JournalDir = DefaultJournalDir
	}
	if c.DecisionTimeout == 0 {
		c.DecisionTimeout = DefaultDecisionTimeout
	} else if c.DecisionTimeout < 0 {
		return fmt.Errorf("config: decision timeout must be > 0")
	}
	if c.GCDelay == 0 {
		c.GCDelay = DefaultGCDelay
	} else if c.GCDelay < 0 {
		return fmt.Errorf("config: gc delay must be > 0")
	}
	return nil
}

// configFile mirrors Config for YAML decoding. Durations arrive as
// strings ("10s") and pointer fields distinguish unset keys from zero
// values so a partial file overrides only what it names.
type configFile struct {
	Listen          *string `yaml:"listen"`
	SelfName        *string `yaml:"self-name"`
	Store           *string `yaml:"store"`
	JournalDir      *string `yaml:"journal-dir"`
	DecisionTimeout *string `yaml:"decision-timeout"`
	GCDelay         *string `yaml:"gc-delay"`
	MetricsListen   *string `yaml:"metrics-listen"`
	PprofListen     *string `yaml:"pprof-listen"`
}

// LoadConfigFile reads a YAML config file into cfg, overriding only the
// keys the file sets.
func LoadConfigFile(path string, cfg *Config) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var file configFile
	if err := yaml.Unmarshal(body, &file); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if file.Listen != nil {
		cfg.Listen = *file.Listen
	}
	if file.SelfName != nil {
		cfg.SelfName = *file.SelfName
	}
	if file.Store != nil {
		cfg.Store = *file.Store
	}
	if file.JournalDir != nil {
		cfg.JournalDir = *file.JournalDir
	}
	if file.DecisionTimeout != nil {
		d, err := time.ParseDuration(*file.DecisionTimeout)
		if err != nil {
			return fmt.Errorf("config: parse decision-timeout: %w", err)
		}
		cfg.DecisionTimeout = d
	}
	if file.GCDelay != nil {
		d, err := time.ParseDuration(*file.GCDelay)
		if err != nil {
			return fmt.Errorf("config: parse gc-delay: %w", err)
		}
		cfg.GCDelay = d
	}
	if file.MetricsListen != nil {
		cfg.MetricsListen = *file.MetricsListen
	}
	if file.PprofListen != nil {
		cfg.PprofListen = *file.PprofListen
	}
	return nil
}
