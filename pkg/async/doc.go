// Package async provides the background execution helpers used by the
// credential cache: fire-and-forget tasks with panic recovery and bounded
// concurrent batches.
package async
