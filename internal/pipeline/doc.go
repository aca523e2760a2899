// Package pipeline defines the types, capabilities, and message contracts
// shared by the dispatch, sync, and worker subsystems of the domain sentinel.
package pipeline
