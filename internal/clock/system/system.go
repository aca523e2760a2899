// Package system provides a real clock implementation.
package system

import (
	"time"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// Clock implements pipeline.Clock on the wall clock, in UTC.
type Clock struct{}

var _ pipeline.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
