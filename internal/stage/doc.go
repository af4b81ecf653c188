// Package stage turns raw boot-stage binaries into their bootable forms.
// Stamp chains the per-stage transforms (private gzip, legacy image
// header, firmware header); Compose places a payload at a fixed offset
// above a base image so a single blob can be loaded and jumped through
// in one read.
package stage
