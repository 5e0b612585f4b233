package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/edgecli/xplnet/internal/app"
	"github.com/edgecli/xplnet/internal/config"
	"github.com/edgecli/xplnet/internal/instanceid"
	"github.com/edgecli/xplnet/internal/logging"
	"github.com/edgecli/xplnet/internal/metrics"
	"github.com/edgecli/xplnet/internal/status"
	"github.com/edgecli/xplnet/internal/transport"
	"github.com/edgecli/xplnet/internal/ui"
	"github.com/edgecli/xplnet/internal/xpl"
)

var (
	// Version is set at build time
	Version = "dev"
	// Commit is set at build time
	Commit = "none"
)

// pollTimeout bounds every Poll so shutdown signals are noticed promptly.
const pollTimeout = 250 * time.Millisecond

const stopHint = "Press Ctrl+C to stop"

var rootCmd = &cobra.Command{
	Use:   "xpl",
	Short: "xpl - xPL hub, bridge and network tools",
	Long: `xpl runs the pieces of an xPL home automation network: a hub that
relays traffic between the applications on one host, a bridge that joins two
networks, and tools to watch and send xPL messages.

Use "xpl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ~/.xpl/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(hubCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(debugCmd)
}

// versionCmd shows version info
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("xpl\n")
		fmt.Printf("  Version:  %s\n", Version)
		fmt.Printf("  Commit:   %s\n", Commit)
		fmt.Printf("  Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// env is what every networked command needs: resolved configuration, the
// process logger and the metrics registry.
type env struct {
	cfg      *config.Config
	paths    *config.Paths
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// loadConfig resolves paths and configuration from the global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Paths, error) {
	configPath, _ := cmd.Flags().GetString("config")
	var paths *config.Paths
	if configPath != "" {
		paths = config.PathsIn(filepath.Dir(configPath))
		paths.ConfigFile = configPath
	} else {
		p, err := config.GetPaths()
		if err != nil {
			return nil, nil, err
		}
		paths = p
	}

	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Verbose = true
	}
	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, paths, nil
}

func setup(cmd *cobra.Command) (*env, error) {
	noColor, _ := cmd.Flags().GetBool("no-color")
	ui.SetNoColor(noColor)

	cfg, paths, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &env{
		cfg:      cfg,
		paths:    paths,
		logger:   logger,
		registry: reg,
		metrics:  metrics.New(reg),
	}, nil
}

func (e *env) appOptions() []app.Option {
	return []app.Option{app.WithLogger(e.logger), app.WithMetrics(e.metrics)}
}

// instance returns the persistent instance id of this host.
func (e *env) instance() (string, error) {
	return instanceid.GetOrCreate(e.paths.ConfigDir)
}

// deviceOptions resolves the CLI's own device, preferring configuration
// received over the network and persisted earlier.
func (e *env) deviceOptions() (app.DeviceOptions, config.DeviceConfig, error) {
	dc := e.cfg.Device
	if dc.Configurable {
		saved, ok, err := config.LoadDevice(e.paths.DeviceFile)
		if err != nil {
			return app.DeviceOptions{}, dc, err
		}
		if ok {
			dc = saved
		}
	}
	instance, err := e.instance()
	if err != nil {
		return app.DeviceOptions{}, dc, err
	}
	opts, err := dc.Options(instance)
	return opts, dc, err
}

// addDevice registers and enables the CLI's device on a and persists
// configuration it receives.
func (e *env) addDevice(a *app.Application) (*app.Device, error) {
	opts, dc, err := e.deviceOptions()
	if err != nil {
		return nil, err
	}
	d, err := a.AddDevice(opts)
	if err != nil {
		return nil, err
	}
	d.OnConfigured(func(v app.ConfigValues) {
		if err := config.SaveDevice(e.paths.DeviceFile, dc.Apply(v)); err != nil {
			e.logger.Error().Err(err).Msg("failed to save device configuration")
		}
	})
	d.Enable()
	return d, nil
}

func (e *env) startStatus() (*status.Server, error) {
	return status.Start(status.Config{
		GRPCListen:    e.cfg.Status.GRPCListen,
		MetricsListen: e.cfg.Status.MetricsListen,
	}, e.registry, e.logger)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// serve polls ep until ctx is done or its transport is gone, calling each
// after every poll when non-nil, then closes ep.
func serve(ctx context.Context, ep app.Endpoint, st *status.Server, logger zerolog.Logger, each func()) error {
	if st != nil {
		st.SetServing(true)
		defer st.Close()
	}
	for ctx.Err() == nil {
		if err := ep.Poll(pollTimeout); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				logger.Error().Err(err).Msg("transport closed unexpectedly")
				break
			}
			logPollError(logger, err)
		}
		if each != nil {
			each()
		}
	}
	if st != nil {
		st.SetServing(false)
	}
	logger.Info().Msg("shutting down")
	return ep.Close()
}

// logPollError keeps malformed traffic at debug and everything else at warn.
func logPollError(logger zerolog.Logger, err error) {
	if errors.Is(err, xpl.ErrValidation) {
		logger.Debug().Err(err).Msg("poll")
		return
	}
	logger.Warn().Err(err).Msg("poll")
}
