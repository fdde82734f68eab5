// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/link"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
	"github.com/Thermoquad/tamcoord/pkg/xbee"
	"github.com/spf13/cobra"
)

var (
	rawLogHex   bool
	rawLogStats time.Duration
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log [<serial_device> [<baud>]]",
	Short: "Display every API frame in human-readable format",
	Long: `Continuously decode and display XBee API frames as they arrive.

Explicit RX frames on the TAM cluster are further decoded as TAM payloads.
Nothing is sent to the radio.

Supports both serial and WebSocket connections.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogHex, "hex", false, "Also print the raw frame data")
	rawLogCmd.Flags().DurationVar(&rawLogStats, "stats", 0, "Print link statistics at this interval (0 disables)")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr(), nil)

	ctx, stop := signalContext()
	defer stop()

	l, info, err := openLink(ctx, cfg, logger)
	if err != nil {
		return linkError(err)
	}
	defer l.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Coordinator - Raw Frame Log\n")
	fmt.Fprintf(out, "Connection: %s\n", info)
	fmt.Fprintf(out, "Press Ctrl+C to exit\n\n")

	frames := make(chan *xbee.Frame, link.DefaultQueueSize)
	l.SubscribeAll(func(f *xbee.Frame) {
		select {
		case frames <- f:
		default:
			logger.Warn().Stringer("kind", f.Kind()).Msg("Display is behind, dropping frame")
		}
	})
	l.Start()

	var statsC <-chan time.Time
	if rawLogStats > 0 {
		t := time.NewTicker(rawLogStats)
		defer t.Stop()
		statsC = t.C
	}

	for {
		select {
		case f := <-frames:
			printFrame(out, f, rawLogHex)
		case <-statsC:
			fmt.Fprintf(out, "[STATS] %s\n", formatCounters(l.Stats()))
		case <-l.Done():
			if err := l.Err(); err != nil {
				return linkError(err)
			}
			return nil
		case <-ctx.Done():
			fmt.Fprintf(out, "\n[STATS] %s\n", formatCounters(l.Stats()))
			return nil
		}
	}
}

func printFrame(w io.Writer, f *xbee.Frame, withHex bool) {
	fmt.Fprint(w, xbee.FormatFrame(f))
	if f.Kind() == xbee.KindExplicitRx {
		if rx, err := xbee.ParseExplicitRx(f); err == nil && rx.Cluster == xbee.DefaultCluster {
			fmt.Fprintf(w, "  TAM: %s\n", tamproto.FormatPayload(rx.Data))
		}
	}
	if withHex {
		fmt.Fprintf(w, "  Data: %s\n", xbee.FormatHex(f.Data()))
	}
}

func formatCounters(c xbee.Counters) string {
	return fmt.Sprintf("frames=%d valid=%d checksum_errors=%d decode_errors=%d sent=%d",
		c.TotalFrames, c.ValidFrames, c.ChecksumErrors, c.DecodeErrors, c.SentFrames)
}
