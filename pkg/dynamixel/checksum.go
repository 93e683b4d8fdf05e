// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

// Checksum computes the Dynamixel 1.0 checksum: the one's complement of the
// byte sum, truncated to 8 bits. data covers every frame byte after the two
// header bytes and before the checksum itself.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum
}
