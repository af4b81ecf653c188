// Package envimage turns key=value environment text into the binary
// partition image U-Boot reads at boot: a CRC32 prefix followed by
// NUL-separated variables padded to the partition size.
package envimage
