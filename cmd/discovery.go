// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/xbee"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var discoveryTimeout time.Duration

var discoveryCmd = &cobra.Command{
	Use:   "discovery [<serial_device> [<baud>]]",
	Short: "List the nodes on the DigiMesh network",
	Long: `Send one node discovery (AT ND) through the local radio and print every
node that answers.

The radio ends discovery with an empty reply once its discovery window (NT)
closes; the command also stops at --timeout.

Examples:
  coordinator discovery /dev/ttyUSB0
  coordinator discovery --url ws://bridge.local/serial

Exit codes:
  0 - At least one node found
  1 - No nodes found
  2 - Connection error`,
	Args: cobra.MaximumNArgs(2),
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().DurationVar(&discoveryTimeout, "timeout", 15*time.Second, "Give up waiting for replies after this long")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr(), nil)

	ctx, stop := signalContext()
	defer stop()

	l, info, err := openLink(ctx, cfg, zerolog.Nop())
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("connection error: %w", err)}
	}
	defer l.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Coordinator - Node Discovery\n")
	fmt.Fprintf(out, "Connection: %s\n", info)
	fmt.Fprintf(out, "Timeout: %v\n\n", discoveryTimeout)

	replies := make(chan *xbee.Frame, 16)
	l.Subscribe(xbee.KindNodeDiscover, func(f *xbee.Frame) {
		select {
		case replies <- f:
		default:
		}
	})
	l.Start()

	frameID := l.NextFrameID()
	if err := l.Send(xbee.NewNodeDiscover(frameID)); err != nil {
		return &exitError{code: 2, err: fmt.Errorf("sending ND: %w", err)}
	}
	fmt.Fprintf(out, "Sending ND (frame id %d)...\n", frameID)

	nodes := 0
	timeout := time.NewTimer(discoveryTimeout)
	defer timeout.Stop()

collect:
	for {
		select {
		case f := <-replies:
			// An empty reply closes the discovery window
			if len(f.Data()) <= 4 {
				fmt.Fprintf(out, "\nDiscovery window closed\n")
				break collect
			}
			nd, err := xbee.ParseNodeDiscover(f)
			if err != nil {
				logger.Warn().Err(err).Msg("Undecodable ND reply")
				continue
			}
			nodes++
			fmt.Fprintf(out, "\nNode found:\n")
			fmt.Fprintf(out, "  Address:     %s\n", addressString(nd.Address64))
			fmt.Fprintf(out, "  Identifier:  %q\n", nd.Identifier)
			fmt.Fprintf(out, "  Network:     0x%04X\n", nd.Address16)
			fmt.Fprintf(out, "  Device type: %d\n", nd.DeviceType)

		case <-l.Done():
			return &exitError{code: 2, err: fmt.Errorf("link closed: %w", l.Err())}

		case <-timeout.C:
			fmt.Fprintf(out, "\nTIMEOUT after %v\n", discoveryTimeout)
			break collect

		case <-ctx.Done():
			break collect
		}
	}

	fmt.Fprintf(out, "\n--- Discovery summary ---\n")
	fmt.Fprintf(out, "Nodes found: %d\n", nodes)
	if nodes == 0 {
		fmt.Fprintf(out, "No nodes answered. Check the radio's network settings and node power.\n")
		return &exitError{code: 1, err: fmt.Errorf("no nodes found")}
	}
	return nil
}
