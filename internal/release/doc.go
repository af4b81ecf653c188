// Package release assembles distributable deliverables from built
// composite images: naming, compression, revision and checksum
// manifests, and the CI asset policy.
package release
