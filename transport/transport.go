// Package transport defines the capability the broadcast layer requires
// from a pub/sub transport: a registry of subscribers and a way to send a
// payload to each one. The transport's own protocol lives behind these
// interfaces, the bundled SSE hub is one implementation.
package transport

import (
	"context"
)

// Subscriber is a single fan-out target. The transport owns the underlying
// connection, a Subscriber is only a send capability.
type Subscriber interface {
	ID() string

	// Send delivers payload to the subscriber, blocking until the payload
	// is handed to the connection or ctx expires.
	Send(ctx context.Context, payload []byte) error
}

// Registry exposes the current set of subscribers. Subscribers may connect
// and disconnect concurrently with reads.
type Registry interface {
	Subscribers() []Subscriber
}

// Evictor is optionally implemented by registries that can disconnect a
// subscriber on request, used by the broadcaster's failure policy.
type Evictor interface {
	Evict(id string)
}
