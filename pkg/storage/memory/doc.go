// Package memory is the in-process access policy backend. It is the
// default when no persistence is configured and the usual fixture in tests.
package memory
