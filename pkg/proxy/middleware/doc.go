// Package middleware provides the HTTP middleware chain: request ID
// propagation, structured request logging, and panic recovery.
package middleware
