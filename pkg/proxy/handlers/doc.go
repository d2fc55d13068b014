// Package handlers implements the gateway's HTTP endpoints: streaming chat,
// cancellation, and health checks.
package handlers
