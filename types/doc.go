// Package types provides core type definitions and interfaces for the docqueue library.
//
// This package contains shared types that are used across multiple packages in the
// docqueue library. By keeping these types in a separate package, we avoid import cycles
// between the main docqueue package and its internal implementations.
//
// Key types:
//   - Job: Unit of work decoded from the input stream
//   - Result, SuccessEnvelope, ErrorEnvelope: Outcomes published to the output stream
//   - ErrorKind, JobError: Classified job failures
//   - JobState: Per-message processing state
//   - Engine: Contract of the external extraction engine
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
