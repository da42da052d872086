// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package zero contains functions to clear data from byte slices.
package zero

// Bytes sets all bytes in the passed slice to zero. This is used to
// explicitly clear private key material and decrypted seeds from memory.
func Bytes(b []byte) {
	clear(b)
}

// IsZero reports whether every byte of b is zero. An empty slice is zero.
func IsZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}

	return true
}
