// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/config"
	"github.com/Thermoquad/tamcoord/pkg/coordinator"
	"github.com/Thermoquad/tamcoord/pkg/experiments"
	"github.com/Thermoquad/tamcoord/pkg/feed"
	"github.com/spf13/cobra"
)

// Exit codes
const (
	ExitOK     = 0
	ExitLink   = 1
	ExitConfig = 2
)

// exitError carries the process exit code for an error
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error { return &exitError{code: ExitConfig, err: err} }
func linkError(err error) error   { return &exitError{code: ExitLink, err: err} }

// ExitCode maps an error returned by Execute to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra's own argument and flag errors
	return ExitConfig
}

var (
	configPath string

	// Connection flags
	bridgeURL   string
	noSSLVerify bool

	// Logging flags
	logLevel  string
	logFormat string

	// Run flags
	experimentName string
	duration       time.Duration
	feedAddr       string
	seed           int64
	useTUI         bool
)

var rootCmd = &cobra.Command{
	Use:   "coordinator <serial_device> [<baud>]",
	Short: "XBee DigiMesh coordinator for TAM experiments",
	Long: `Coordinator - drives a swarm of Task Abstraction Modules (TAMs) over an
XBee DigiMesh network.

The coordinator discovers TAMs, tracks their robot and LED state, and runs an
experiment that attaches a controller to every TAM.

Connection modes:
  Serial:    coordinator /dev/ttyUSB0 [9600]
  WebSocket: coordinator --url ws://host/path   (serial bridge)

Experiments: ` + fmt.Sprint(experiments.Names()) + `

Exit codes:
  0 - Clean shutdown
  1 - Serial or link failure
  2 - Configuration error`,
	Args:          cobra.MaximumNArgs(2),
	RunE:          runCoordinator,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       "1.0.0",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	pf.StringVarP(&bridgeURL, "url", "u", "", "WebSocket serial bridge URL (ws:// or wss://)")
	pf.BoolVar(&noSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "", "Log format (auto, json, console)")

	f := rootCmd.Flags()
	f.StringVarP(&experimentName, "experiment", "e", "", "Experiment to run")
	f.DurationVarP(&duration, "duration", "d", 0, "Stop the experiment after this long (0 runs until interrupted)")
	f.StringVar(&feedAddr, "feed", "", "Serve the status feed on this address (e.g. :8090)")
	f.Int64Var(&seed, "seed", 0, "Random seed for controllers (0 derives one from the clock)")
	f.BoolVar(&useTUI, "tui", false, "Show the monitor TUI instead of log output")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig builds the configuration from file, environment, positional
// arguments and flags, in increasing precedence
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, configError(err)
		}
	} else {
		cfg = config.Default()
		if err := cfg.OverrideFromEnv(); err != nil {
			return nil, configError(err)
		}
	}

	if len(args) > 0 {
		cfg.Serial.Device = args[0]
	}
	if len(args) > 1 {
		baud, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, configError(fmt.Errorf("%w: baud %q is not a number", config.ErrInvalid, args[1]))
		}
		cfg.Serial.Baud = baud
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.Bridge.URL = bridgeURL
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Bridge.NoSSLVerify = noSSLVerify
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if flags.Lookup("experiment") != nil && flags.Changed("experiment") {
		cfg.Experiment.Name = experimentName
	}
	if flags.Lookup("duration") != nil && flags.Changed("duration") {
		cfg.Experiment.Duration = duration
	}
	if flags.Lookup("feed") != nil && flags.Changed("feed") {
		cfg.Feed.Addr = feedAddr
	}
	if flags.Lookup("seed") != nil && flags.Changed("seed") {
		cfg.Coordinator.Seed = seed
	}

	if err := cfg.Validate(); err != nil {
		return nil, configError(err)
	}
	if cfg.Serial.Device == "" && cfg.Bridge.URL == "" {
		return nil, configError(fmt.Errorf("%w: a serial device or --url is required", config.ErrInvalid))
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	var monitor *monitorProgram
	if useTUI {
		monitor = newMonitorProgram(connectionLabel(cfg))
	}

	logger := newLogger(cfg.Logging, os.Stderr, monitor)
	logger.Info().Str("config", cfg.String()).Msg("Starting")

	ctx, stop := signalContext()
	defer stop()

	l, info, err := openLink(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open radio")
		return linkError(err)
	}
	logger.Info().Str("connection", info).Msg("Radio connected")

	exp, err := experiments.New(cfg.Experiment.Name, cfg.ExperimentOptions(logger))
	if err != nil {
		l.Close()
		return configError(err)
	}

	c := coordinator.New(l, exp, cfg.CoordinatorOptions(), logger)
	c.Subscribe(func(ev coordinator.Event) { logEvent(logger, ev) })

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Feed.Addr != "" {
		srv := feed.NewServer(c, cfg.Feed.Interval, c.Clock(), logger)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Feed.Addr); err != nil {
				logger.Error().Err(err).Str("addr", cfg.Feed.Addr).Msg("Status feed stopped")
			}
		}()
	}

	if monitor != nil {
		go monitor.follow(ctx, c, c.Clock(), cfg.Feed.Interval)
		go func() {
			monitor.run()
			// Quitting the TUI ends the run
			cancel()
		}()
	}

	runErr := c.Run(ctx)
	if monitor != nil {
		monitor.quit()
	}
	if runErr != nil {
		return linkError(runErr)
	}
	return nil
}
