package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/rentald"
	"pkt.systems/rentald/internal/svcfields"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("RENTALD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "rentald")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(logger pslog.Logger) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "rentald",
		Short:         "Car-rental reservation participant (2PC over UDP)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(v)
			if err != nil {
				return err
			}
			srv, err := rentald.New(cfg, rentald.WithLogger(svcfields.WithSubsystem(logger, "server")))
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}

	registerFlags(cmd.Flags())
	bindFlags(v, cmd.Flags())

	cmd.AddCommand(newVersionCommand())
	return cmd
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a YAML config file")
	flags.String("listen", rentald.DefaultListen, "UDP bind address")
	flags.String("self-name", rentald.DefaultSelfName, "participant name inside coordinator contexts")
	flags.String("store", rentald.DefaultStore, "reservation store DSN (mem:// or postgres://)")
	flags.String("journal-dir", rentald.DefaultJournalDir, "directory for per-transaction journal records")
	flags.Duration("decision-timeout", rentald.DefaultDecisionTimeout, "in-doubt wait before asking peers for the decision")
	flags.Duration("gc-delay", rentald.DefaultGCDelay, "grace before decided transactions are collected")
	flags.String("metrics-listen", rentald.DefaultMetricsListen, "Prometheus metrics bind address (empty disables)")
	flags.String("pprof-listen", rentald.DefaultPprofListen, "pprof bind address (empty disables)")
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(flag *pflag.Flag) {
		_ = v.BindPFlag(flag.Name, flag)
	})
	v.SetEnvPrefix("RENTALD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// resolveConfig layers defaults, then the config file, then flags and
// RENTALD_* environment variables.
func resolveConfig(v *viper.Viper) (rentald.Config, error) {
	cfg := rentald.DefaultConfig()
	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		if err := rentald.LoadConfigFile(path, &cfg); err != nil {
			return rentald.Config{}, err
		}
	}
	if v.IsSet("listen") {
		cfg.Listen = v.GetString("listen")
	}
	if v.IsSet("self-name") {
		cfg.SelfName = v.GetString("self-name")
	}
	if v.IsSet("store") {
		cfg.Store = v.GetString("store")
	}
	if v.IsSet("journal-dir") {
		cfg.JournalDir = v.GetString("journal-dir")
	}
	if v.IsSet("decision-timeout") {
		cfg.DecisionTimeout = v.GetDuration("decision-timeout")
	}
	if v.IsSet("gc-delay") {
		cfg.GCDelay = v.GetDuration("gc-delay")
	}
	if v.IsSet("metrics-listen") {
		cfg.MetricsListen = v.GetString("metrics-listen")
	}
	if v.IsSet("pprof-listen") {
		cfg.PprofListen = v.GetString("pprof-listen")
	}
	if err := cfg.Validate(); err != nil {
		return rentald.Config{}, err
	}
	return cfg, nil
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
