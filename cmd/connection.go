// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/Thermoquad/tamcoord/pkg/config"
	"github.com/Thermoquad/tamcoord/pkg/link"
	"github.com/rs/zerolog"
)

// connectionLabel describes where the radio is reached
func connectionLabel(cfg *config.Config) string {
	if cfg.Bridge.URL != "" {
		return fmt.Sprintf("WebSocket: %s", cfg.Bridge.URL)
	}
	return fmt.Sprintf("Serial: %s @ %d baud", cfg.Serial.Device, cfg.Serial.Baud)
}

// openConnection opens the bridge when a URL is configured, else the
// serial device
func openConnection(ctx context.Context, cfg *config.Config) (link.Connection, string, error) {
	if cfg.Bridge.URL != "" {
		conn, err := link.OpenWebSocket(ctx, cfg.Bridge.URL, cfg.Bridge.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, connectionLabel(cfg), nil
	}

	if cfg.Serial.Device != "" {
		conn, err := link.OpenSerial(cfg.Serial.Device, cfg.Serial.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, connectionLabel(cfg), nil
	}

	return nil, "", fmt.Errorf("either a serial device or --url must be specified")
}

// openLink opens the connection and wraps it in a link. The link is not
// started.
func openLink(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*link.Link, string, error) {
	conn, info, err := openConnection(ctx, cfg)
	if err != nil {
		return nil, "", err
	}
	return link.New(conn, logger), info, nil
}

// addressString formats a 64-bit radio address
func addressString(addr uint64) string {
	return fmt.Sprintf("%016X", addr)
}
