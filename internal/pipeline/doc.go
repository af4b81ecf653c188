// Package pipeline holds the pieces shared by every image tool: the error
// taxonomy (configuration, missing artifact, capacity), the well-known
// artifact names and per-stage directories, and scratch-directory hygiene.
//
// Every fatal error aborts the run immediately. Each transform is a
// deterministic function of its inputs, so there is no retry logic anywhere:
// retrying without changing an input can never succeed.
package pipeline
