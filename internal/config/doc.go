// Package config carries the two configuration surfaces of the image tools:
// the YAML settings file with run-wide paths (Load/Save/Validate), and the
// Resolved view of the board's Kconfig symbols, built and schema-validated
// once at pipeline start and passed explicitly into every stage.
package config
