// Package utils collects small helpers shared across the client library:
// worker-id generation, consumer-identity resolution, and the table-driven
// retryable-error predicate used by the coordination store adapters and
// shard readers.
package utils

import "github.com/google/uuid"

// MustNewUUID returns a new random UUID string. Panics if the system
// entropy source is unavailable, which in practice never happens.
func MustNewUUID() string {
	return uuid.New().String()
}
