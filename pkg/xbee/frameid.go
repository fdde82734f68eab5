// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xbee

import "sync/atomic"

// FrameIDAllocator hands out 8-bit frame ids, wrapping modulo 256 and
// skipping 0, which asks the radio for no status frame.
// Safe for concurrent use.
type FrameIDAllocator struct {
	n atomic.Uint32
}

// Next returns the next non-zero frame id
func (a *FrameIDAllocator) Next() byte {
	for {
		id := byte(a.n.Add(1))
		if id != 0 {
			return id
		}
	}
}
