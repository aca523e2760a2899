// Package api exposes the health, readiness, and metrics endpoints every
// sentinel process serves.
package api
