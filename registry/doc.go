// Package registry provides height-addressed views over registry records in
// consensus application state, plus an in-memory state reader for tests.
package registry
