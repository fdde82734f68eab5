// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xbee

// CalculateChecksum computes the API frame checksum over the frame data
// (type byte onward): 0xFF minus the low byte of the sum
func CalculateChecksum(frameData []byte) byte {
	var sum byte
	for _, b := range frameData {
		sum += b
	}
	return 0xFF - sum
}

// VerifyChecksum reports whether frame data plus its checksum byte sums to 0xFF
func VerifyChecksum(frameData []byte, checksum byte) bool {
	var sum byte
	for _, b := range frameData {
		sum += b
	}
	return sum+checksum == 0xFF
}
