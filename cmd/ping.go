// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/xbee"
	"github.com/spf13/cobra"
)

var (
	pingTimeout time.Duration
	pingCount   int
	pingRemote  string
)

var pingCmd = &cobra.Command{
	Use:   "ping [<serial_device> [<baud>]]",
	Short: "Query a radio's firmware version (AT VR)",
	Long: `Send AT VR to the local radio, or with --remote to a TAM's radio, and
print the firmware version it reports.

This is useful for verifying:
  - the serial port or bridge is wired to an XBee in API mode 2
  - the radio answers commands
  - a TAM is reachable over the mesh (--remote)

Exit codes:
  0 - All pings answered
  1 - One or more pings failed or timed out
  2 - Connection error`,
	Args: cobra.MaximumNArgs(2),
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 2*time.Second, "Timeout for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
	pingCmd.Flags().StringVar(&pingRemote, "remote", "", "64-bit address of a remote radio (hex)")
}

// parseAddress parses a 64-bit radio address written in hex
func parseAddress(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

// pingReply is the part of a local or remote AT response ping cares about
type pingReply struct {
	frameID byte
	status  byte
	data    []byte
}

func runPing(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	if pingCount < 1 {
		return configError(fmt.Errorf("--count must be at least 1"))
	}

	var remote uint64
	if pingRemote != "" {
		remote, err = parseAddress(pingRemote)
		if err != nil {
			return configError(fmt.Errorf("--remote %q: %w", pingRemote, err))
		}
	}
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr(), nil)

	ctx, stop := signalContext()
	defer stop()

	l, info, err := openLink(ctx, cfg, logger)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("connection error: %w", err)}
	}
	defer l.Close()

	replies := make(chan pingReply, 4)
	deliver := func(r pingReply) {
		select {
		case replies <- r:
		default:
		}
	}
	l.Subscribe(xbee.KindATResponse, func(f *xbee.Frame) {
		if resp, err := xbee.ParseATResponse(f); err == nil && resp.Command == "VR" {
			deliver(pingReply{resp.FrameID, resp.Status, resp.Data})
		}
	})
	l.Subscribe(xbee.KindRemoteATResponse, func(f *xbee.Frame) {
		if resp, err := xbee.ParseRemoteATResponse(f); err == nil && resp.Command == "VR" && resp.Source64 == remote {
			deliver(pingReply{resp.FrameID, resp.Status, resp.Data})
		}
	})
	l.Start()

	target := "local radio"
	if pingRemote != "" {
		target = addressString(remote)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Coordinator - Radio Ping\n")
	fmt.Fprintf(out, "Connection: %s\n", info)
	fmt.Fprintf(out, "Target: %s\n", target)
	fmt.Fprintf(out, "Timeout: %v per ping\n\n", pingTimeout)

	ok := 0
	for i := 1; i <= pingCount; i++ {
		fmt.Fprintf(out, "Ping %d/%d: ", i, pingCount)

		frameID := l.NextFrameID()
		var f *xbee.Frame
		if pingRemote != "" {
			f = xbee.NewRemoteATCommand(frameID, remote, "VR", nil, false)
		} else {
			f = xbee.NewATCommand(frameID, "VR", nil)
		}

		start := time.Now()
		if err := l.Send(f); err != nil {
			fmt.Fprintf(out, "SEND FAILED: %v\n", err)
			continue
		}

		if pingWait(ctx.Done(), l.Done(), replies, frameID, out, start) {
			ok++
		}
		if ctx.Err() != nil {
			break
		}
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Fprintf(out, "\n--- Ping statistics ---\n")
	fmt.Fprintf(out, "%d pings sent, %d answered, %.0f%% loss\n",
		pingCount, ok, float64(pingCount-ok)/float64(pingCount)*100)

	if ok < pingCount {
		return &exitError{code: 1, err: fmt.Errorf("%d of %d pings failed", pingCount-ok, pingCount)}
	}
	return nil
}

func pingWait(cancel, linkDone <-chan struct{}, replies <-chan pingReply, frameID byte, out io.Writer, start time.Time) bool {
	timeout := time.NewTimer(pingTimeout)
	defer timeout.Stop()

	for {
		select {
		case r := <-replies:
			if r.frameID != frameID {
				continue
			}
			if r.status != xbee.ATStatusOK {
				fmt.Fprintf(out, "ERROR (%s)\n", xbee.FormatATStatus(r.status))
				return false
			}
			fmt.Fprintf(out, "firmware=%s rtt=%v\n", xbee.FormatHex(r.data), time.Since(start).Round(time.Millisecond))
			return true
		case <-timeout.C:
			fmt.Fprintf(out, "TIMEOUT (no response in %v)\n", pingTimeout)
			return false
		case <-linkDone:
			fmt.Fprintf(out, "LINK CLOSED\n")
			return false
		case <-cancel:
			fmt.Fprintf(out, "CANCELLED\n")
			return false
		}
	}
}
