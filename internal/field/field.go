// Package field provides helpers for packing and unpacking bitfields in
// 16-bit switch registers, addressed by their mask.
package field

import "math/bits"

// Prep shifts val into the field described by mask. Bits of val that do not
// fit the field are discarded.
func Prep(mask, val uint16) uint16 {
	return (val << bits.TrailingZeros16(mask)) & mask
}

// Get extracts the field described by mask from reg.
func Get(mask, reg uint16) uint16 {
	return (reg & mask) >> bits.TrailingZeros16(mask)
}

// Bit reports whether the field described by mask is non-zero.
func Bit(mask, reg uint16) bool {
	return reg&mask != 0
}
