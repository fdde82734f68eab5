// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xbee

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Counters is a point-in-time copy of link statistics
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	TotalFrames    uint64
	ValidFrames    uint64
	ChecksumErrors uint64
	DecodeErrors   uint64
	UnknownFrames  uint64
	SentFrames     uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// Statistics tracks frame statistics and error rates.
// Safe for concurrent use.
type Statistics struct {
	mu sync.Mutex
	c  Counters
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		c: Counters{StartTime: now, LastUpdateTime: now},
	}
}

// Update updates statistics based on a decoded frame or decode error
func (s *Statistics) Update(frame *Frame, decodeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.TotalFrames++
	s.c.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrChecksum) {
			s.c.ChecksumErrors++
		} else {
			s.c.DecodeErrors++
		}
		return
	}

	if frame != nil && frame.Kind() == KindUnknown {
		s.c.UnknownFrames++
		return
	}

	s.c.ValidFrames++
}

// RecordSent counts an outbound frame
func (s *Statistics) RecordSent() {
	s.mu.Lock()
	s.c.SentFrames++
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters with rates calculated
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.c
	elapsed := time.Since(c.StartTime).Seconds()
	if elapsed > 0 {
		c.FrameRate = float64(c.TotalFrames) / elapsed
		c.ErrorRate = float64(c.ChecksumErrors+c.DecodeErrors) / elapsed
	}
	return c
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	c := s.Snapshot()

	var validPercent, checksumPercent, decodePercent float64
	if c.TotalFrames > 0 {
		validPercent = float64(c.ValidFrames) * 100.0 / float64(c.TotalFrames)
		checksumPercent = float64(c.ChecksumErrors) * 100.0 / float64(c.TotalFrames)
		decodePercent = float64(c.DecodeErrors) * 100.0 / float64(c.TotalFrames)
	}

	elapsed := time.Since(c.StartTime)

	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	fmt.Fprintf(&sb, "Total Frames:    %8d\n", c.TotalFrames)
	fmt.Fprintf(&sb, "Valid Frames:    %8d (%.1f%%)\n", c.ValidFrames, validPercent)
	if c.ChecksumErrors > 0 {
		fmt.Fprintf(&sb, "Checksum Errors: %8d (%.1f%%)\n", c.ChecksumErrors, checksumPercent)
	}
	if c.DecodeErrors > 0 {
		fmt.Fprintf(&sb, "Decode Errors:   %8d (%.1f%%)\n", c.DecodeErrors, decodePercent)
	}
	if c.UnknownFrames > 0 {
		fmt.Fprintf(&sb, "Unknown Frames:  %8d\n", c.UnknownFrames)
	}
	fmt.Fprintf(&sb, "Sent Frames:     %8d\n", c.SentFrames)
	fmt.Fprintf(&sb, "Frame Rate:      %8.1f frames/sec\n", c.FrameRate)
	fmt.Fprintf(&sb, "Error Rate:      %8.1f errors/sec\n", c.ErrorRate)
	sb.WriteString("================================\n")

	return sb.String()
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.c = Counters{StartTime: now, LastUpdateTime: now}
}
