package net

import "github.com/lcx/fastrpc/serializer"

// Transport defines the lifecycle contract for connection-serving components.
// A transport owns sockets and goroutines; the endpoints it creates own the
// RPC state.
type Transport interface {
	// Start initializes the transport and begins serving connections.
	Start(TransportOption) error

	// StopRecv gracefully stops receiving while in-flight work completes.
	// Returns an error if the transport cannot stop receiving independently.
	StopRecv() error

	// Stop fully shuts the transport down, closing all connections.
	Stop() error
}

// SessionHandler observes endpoint lifecycle on a transport. OnSessionStart
// runs before the connection's first packet is read; OnSessionEnd runs after
// the connection closed and the endpoint's pending calls were shut down.
type SessionHandler interface {
	OnSessionStart(ep *Endpoint)
	OnSessionEnd(ep *Endpoint)
}

// TransportOption carries the pieces a transport needs to build an endpoint
// per connection.
type TransportOption struct {
	// Registry holds the APIs served to every peer of this transport. It is
	// frozen when the first endpoint is created.
	Registry *ApiRegistry

	// Serializer is the body codec shared by all connections. Nil selects
	// the process default (JSON).
	Serializer serializer.Serializer

	// EndpointCfg configures every per-connection endpoint. Nil selects
	// defaults.
	EndpointCfg *EndpointConfig

	// Handler observes session lifecycle. Optional.
	Handler SessionHandler
}
