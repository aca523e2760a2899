// Package worker consumes batch messages from the bus and runs the item
// processors: browser warning checks for domain batches and price refreshes
// for token batches. Handlers return an error only when the bus should
// redeliver the message.
package worker

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("github.com/JakeFAU/domain-sentinel/internal/worker")
