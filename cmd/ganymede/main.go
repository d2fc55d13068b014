// Ganymede is a streaming gateway in front of LLM providers.
//
// It assembles per-thread conversation context, coalesces identical
// concurrent requests into a single upstream call, paces upstream traffic
// per provider, and fans the response stream out to every waiting client
// over Server-Sent Events.
//
// Usage:
//
//	# Start with default configuration
//	ganymede run
//
//	# Start with a configuration file
//	ganymede run --config /etc/ganymede/config.yaml
//
//	# Show version information
//	ganymede version
package main

func main() {
	Execute()
}
