// Package server implements the HTTP and WebSocket side of portalchat.
//
// The implementation is organized into files for the WebSocket client pumps,
// origin checks, routing, the served client page, the debug log interface and
// HTTP server lifecycle. Chat semantics live in the relay package; this
// package only moves frames between connections and the hub.
package server
