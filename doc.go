// # Call-Session Core
//
// Package callkit implements the client-side call engine of the platform: a single 1:1 audio/video call attempt from initiation to termination. It owns the call phase state machine, the Pion peer connection lifecycle, offer/answer/ICE sequencing over a signaling channel, and the recovery/cleanup contract. The UI consumes it through the Controller facade and a status subscription; the signaling transport and hardware media access plug in behind small interfaces.
package callkit
