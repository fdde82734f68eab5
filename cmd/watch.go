// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/Thermoquad/tamcoord/pkg/config"
	"github.com/Thermoquad/tamcoord/pkg/feed"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <feed_url>",
	Short: "Monitor a running coordinator through its status feed",
	Long: `Connect to the status feed of a coordinator started with --feed and show
its TAMs in the monitor TUI. The connection is retried with backoff until
you quit.

Examples:
  coordinator watch ws://lab-pc:8090/tams
  coordinator watch lab-pc:8090`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// feedURL completes a host:port into a feed websocket URL
func feedURL(arg string) string {
	if !strings.Contains(arg, "://") {
		arg = "ws://" + arg
	}
	if !strings.HasSuffix(arg, feed.Path) && strings.Count(arg, "/") == 2 {
		arg += feed.Path
	}
	return arg
}

func runWatch(cmd *cobra.Command, args []string) error {
	url := feedURL(args[0])
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return configError(fmt.Errorf("feed URL must use ws:// or wss://: %s", url))
	}

	logCfg := config.Default().Logging
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		logCfg.Level = f.Value.String()
	}

	monitor := newMonitorProgram(url)
	logger := newLogger(logCfg, cmd.ErrOrStderr(), monitor)

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := feed.NewClient(feed.DefaultClientConfig(url), monitor.snapshot, logger)
	client.OnState(monitor.connState)

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		client.Run(ctx)
	}()

	err := monitor.run()
	cancel()
	<-clientDone
	return err
}
