// Package memory provides in-process implementations of the pipeline stores
// and a blob store. They back the single-process "all" mode and tests.
package memory
