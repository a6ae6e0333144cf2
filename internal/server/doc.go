// Package server implements the HTTP and WebSocket side of the relay.
//
// The implementation is organized into specialized files for configuration,
// per-connection pumps, relay handlers, routing, and HTTP handlers; connection
// bookkeeping lives in the registry package.
package server
