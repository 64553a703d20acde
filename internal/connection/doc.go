// Package connection implements the KIS realtime stream.
//
// Layers, bottom up:
//   - Client: one gorilla/websocket connection with serialized writes, a read
//     loop and a stale-connection watchdog
//   - Session: one connection lifetime (approval key, subscribe, frame handling,
//     keep-alive replies). A Session never re-dials.
//   - Supervisor: runs Sessions back to back with a fixed reconnect delay until
//     its context is cancelled
package connection
