// Package ws implements the real-time communication hub: a registry of
// live websocket connections, live membership tracking for chat
// conversations and WebRTC signaling rooms, derived presence state, and a
// router that relays typed events between peers.
//
// The hub is a live relay over the durable store maintained by the REST
// layer: delivery is at-most-once and best-effort, a recipient without a
// live connection at routing time never sees the event, and a broken
// connection discovered during delivery is cleaned up rather than retried.
package ws
