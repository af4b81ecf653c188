// Package uimage builds and parses legacy U-Boot image headers natively,
// so the pipeline does not shell out to an external mkimage binary. Only
// the header fields and image types the K230 boot flow actually uses are
// modeled.
package uimage
