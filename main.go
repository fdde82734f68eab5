// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Coordinator - XBee DigiMesh coordinator for Task Abstraction Modules
//
// Discovers TAMs on the mesh, keeps their robot and LED state in sync, and
// runs an experiment controller per TAM.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/tamcoord/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cmd.ExitCode(err))
	}
}
