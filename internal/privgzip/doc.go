// Package privgzip compresses artifacts in the gzip framing the K230 boot
// ROM understands: a regular deflate stream whose header method byte is
// rewritten from the standard value to a private one. Streams carrying the
// standard byte are rejected by the ROM, so every compressed boot stage
// goes through this package rather than plain gzip.
package privgzip
