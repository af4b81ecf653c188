// Package common carries the run setup shared by every image tool:
// settings loading, board configuration resolution and the advisory
// run lock.
package common
