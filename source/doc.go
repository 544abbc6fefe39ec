// Package source fetches document bytes referenced by a job's source URI.
//
// Supported schemes:
//
//	http://, https://   downloaded with the configured *http.Client
//	file://             read from the filesystem, either under DocumentsRoot
//	                    (ModeLocal) or as an absolute path in the worker's
//	                    mount namespace (ModeRemote)
//
// Every other URI, including empty or unparsable ones, fails with the
// unsupported-uri kind without touching the network or the filesystem.
//
// Failures are returned as *types.JobError so the caller can publish the kind
// verbatim. The resolver never retries; a failed job is reported, not repeated.
package source
