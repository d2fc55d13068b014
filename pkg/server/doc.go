// Package server wires the HTTP endpoints, middleware chain, and graceful
// shutdown for the gateway.
package server
