package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/irkeyd/irkeyd"
	"github.com/irkeyd/irkeyd/internal/svcfields"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("IRKEYD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "irkeyd")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".irkeyd", irkeyd.DefaultConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}

	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg irkeyd.Config

	cmd := &cobra.Command{
		Use:           "irkeyd",
		Short:         "irkeyd serves a web remote control that transmits IR key presses, with hold-to-repeat",
		SilenceErrors: true,
		Example: `
  # Serve key.json from the working directory on :8000
  irkeyd

  # Custom device, key table and button layout
  irkeyd --device /dev/lirc1 --keyfile /etc/irkeyd/key.json --layout /etc/irkeyd/layout.json

  # Faster repeat, shorter safety release
  irkeyd --repeat-interval 50ms --max-hold 2s

  # Expose Prometheus metrics on a sidecar listener
  irkeyd --metrics-listen 127.0.0.1:9090
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := svcfields.WithSubsystem(logger, "cli.root")
			ctx := cmd.Context()
			cmd.SilenceUsage = true

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}

			if err := bindConfig(&cfg); err != nil {
				return err
			}

			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = "info"
			}
			if level, ok := pslog.ParseLevel(logLevel); ok {
				logger = logger.LogLevel(level)
				cliLogger = svcfields.WithSubsystem(logger, "cli.root")
			}

			server, err := irkeyd.NewServer(cfg, irkeyd.WithLogger(logger))
			if err != nil {
				return err
			}

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					cliLogger.Error("shutdown failed", "error", err)
				}
			}()

			err = server.Start()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.irkeyd/"+irkeyd.DefaultConfigFileName+")")

	flags := cmd.Flags()
	flags.String("listen", irkeyd.DefaultListen, "listen address")
	flags.String("listen-proto", irkeyd.DefaultListenProto, "listen network (tcp, tcp4, tcp6)")
	flags.StringP("device", "d", irkeyd.DefaultDevice, "IR transmit device")
	flags.StringP("keyfile", "k", irkeyd.DefaultKeyFile, "key definition table (JSON, or YAML by extension)")
	flags.String("layout", "", "optional button layout file for the remote page (JSON)")
	flags.String("protocol", irkeyd.DefaultProtocol, "scancode protocol applied to bare scancodes")
	flags.String("transmit-tool", "", "override the transmit binary (defaults to ir-ctl)")
	flags.Duration("repeat-interval", irkeyd.DefaultRepeatInterval, "delay between repeat sends while a key is held")
	flags.Duration("max-hold", irkeyd.DefaultMaxHold, "auto-release a held key after this duration")
	flags.Bool("serialize-transmit", false, "serialize whole-key sends across concurrent sessions")
	flags.String("json-max", humanizeBytes(irkeyd.DefaultJSONMaxBytes), "maximum JSON request body size")
	flags.String("metrics-listen", irkeyd.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	flags.String("pprof-listen", irkeyd.DefaultPprofListen, "pprof listen address (debug/pprof endpoints; empty disables)")
	flags.Duration("shutdown-timeout", irkeyd.DefaultShutdownTimeout, "overall shutdown timeout")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	bindFlag := func(name string) {
		flag := lookupFlag(cmd, name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("IRKEYD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	names := []string{
		"config",
		"listen", "listen-proto", "device", "keyfile", "layout", "protocol", "transmit-tool",
		"repeat-interval", "max-hold", "serialize-transmit", "json-max",
		"metrics-listen", "pprof-listen", "shutdown-timeout", "log-level",
	}
	for _, name := range names {
		bindFlag(name)
	}

	cmd.AddCommand(newVersionCommand())
	return cmd
}

func bindConfig(cfg *irkeyd.Config) error {
	cfg.Listen = viper.GetString("listen")
	cfg.ListenProto = viper.GetString("listen-proto")
	cfg.Device = viper.GetString("device")
	cfg.KeyFile = viper.GetString("keyfile")
	cfg.LayoutFile = viper.GetString("layout")
	cfg.Protocol = viper.GetString("protocol")
	cfg.TransmitTool = viper.GetString("transmit-tool")
	cfg.RepeatInterval = viper.GetDuration("repeat-interval")
	cfg.MaxHold = viper.GetDuration("max-hold")
	cfg.SerializeTransmit = viper.GetBool("serialize-transmit")
	if maxBytes := viper.GetString("json-max"); maxBytes != "" {
		size, err := humanize.ParseBytes(maxBytes)
		if err != nil {
			return fmt.Errorf("parse json-max: %w", err)
		}
		cfg.JSONMaxBytes = int64(size)
	}
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.PprofListen = viper.GetString("pprof-listen")
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")

	if cfg.KeyFile != "" {
		expanded, err := expandPath(cfg.KeyFile)
		if err != nil {
			return fmt.Errorf("expand keyfile path %q: %w", cfg.KeyFile, err)
		}
		cfg.KeyFile = expanded
	}
	if cfg.LayoutFile != "" {
		expanded, err := expandPath(cfg.LayoutFile)
		if err != nil {
			return fmt.Errorf("expand layout path %q: %w", cfg.LayoutFile, err)
		}
		cfg.LayoutFile = expanded
	}
	return nil
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.PersistentFlags().Lookup(name)
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
