// Package comms provides the transport abstraction between the manager and
// its workers.
//
// Everything above this package sees one interface: an Endpoint that can
// send, receive with a bounded timeout, probe, and broadcast opaque typed
// message envelopes, addressed by small integer ids (manager 0, workers
// 1..N). Three backends implement it:
//
//   - Local: in-process hub over buffered channels, for workers running as
//     goroutines in the manager's process
//   - NATS: broker-based message passing for workers spread across a
//     process group
//   - TCP: direct socket connections, manager listening and workers dialing
//
// The backend is selected once at startup and never branched on again.
// Delivery is reliable and ordered per sender-receiver pair on every
// backend; peer death surfaces as a typed PeerLostError rather than a
// generic I/O error.
package comms
