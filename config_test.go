package rentald_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"pkt.systems/rentald"
)

func TestValidateFillsDefaults(t *testing.T) {
	t.Parallel()

	cfg := rentald.Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Listen != rentald.DefaultListen {
		t.Fatalf("listen = %q", cfg.Listen)
	}
	if cfg.SelfName != rentald.DefaultSelfName {
		t.Fatalf("self name = %q", cfg.SelfName)
	}
	if cfg.Store != rentald.DefaultStore {
		t.Fatalf("store = %q", cfg.Store)
	}
	if cfg.DecisionTimeout != rentald.DefaultDecisionTimeout || cfg.GCDelay != rentald.DefaultGCDelay {
		t.Fatalf("timers = %v / %v", cfg.DecisionTimeout, cfg.GCDelay)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg := rentald.Config{Store: "redis://localhost"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown store scheme accepted")
	}
	cfg = rentald.Config{DecisionTimeout: -time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative decision timeout accepted")
	}
	cfg = rentald.Config{GCDelay: -time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative gc delay accepted")
	}
}

func TestLoadConfigFileOverridesOnlySetKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rentald.yaml")
	body := "listen: \":6001\"\nself-name: HotelProvider\ndecision-timeout: 3s\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := rentald.DefaultConfig()
	if err := rentald.LoadConfigFile(path, &cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":6001" || cfg.SelfName != "HotelProvider" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.DecisionTimeout != 3*time.Second {
		t.Fatalf("decision timeout = %v", cfg.DecisionTimeout)
	}
	if cfg.Store != rentald.DefaultStore || cfg.JournalDir != rentald.DefaultJournalDir {
		t.Fatalf("unset keys clobbered: %+v", cfg)
	}

	if err := rentald.LoadConfigFile(filepath.Join(t.TempDir(), "absent.yaml"), &cfg); err == nil {
		t.Fatal("missing file accepted")
	}
}
