// Package vpn drives a single named VPN connection through its lifecycle.
//
// The package is organized around one type, the Coordinator, and the
// collaborators it owns:
//
//   - Transport: establishes and tears down the connection (NetworkManager
//     over D-Bus, or an openvpn process)
//   - Handle: one live connection, exposing cumulative byte counters and a
//     channel closed when the transport observes a teardown
//   - Watcher: reports disconnects the coordinator did not initiate
//   - Sampler: turns cumulative byte counters into per-second rates
//   - Surface: the read-only observable state consumed by front-ends
//
// # Connection Flow
//
// A typical connection flow:
//
//  1. A front-end calls Coordinator.Toggle
//  2. The coordinator moves to Connecting and starts Transport.Connect
//  3. On success it captures the handle, arms the watcher and starts the ticker
//  4. Every tick refreshes elapsed time and throughput on the surface
//  5. Toggle again (or an external drop) returns the state to Disconnected
//
// # Thread Safety
//
// All state is owned by the goroutine running Coordinator.Run. Transport
// results, ticks and watcher events are posted to it over channels. Snapshot
// and the bus subscription are safe for concurrent use.
package vpn
