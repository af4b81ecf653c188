// Package genimage builds composite disk images from a declarative
// partition layout and a directory of previously produced artifacts. Two
// containers are supported: the kdimg flashing format consumed by the
// burn tool, and raw disk images with an optional MBR partition table
// and loader table of contents.
package genimage
