// Package proxy contains the HTTP wire layer of the gateway: request
// parsing and validation, the SSE event encoding, and error-to-status
// mapping. Handlers live in the handlers subpackage, HTTP middleware in
// the middleware subpackage.
package proxy
