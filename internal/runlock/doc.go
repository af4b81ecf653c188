// Package runlock serializes image builds targeting the same output
// directory through an advisory PID lock file.
package runlock
