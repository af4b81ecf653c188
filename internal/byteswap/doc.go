// Package byteswap reverses byte order within 32-bit words. The SPL boot
// path on SD cards reads the first stage through a hardware unit that
// delivers words in the opposite endianness, so its image is shipped both
// plain and word-swapped.
package byteswap
