// Package bus owns a CAN29 link and multiplexes it between the logical
// devices attached to it.
//
// A Bus runs one receive loop per link. Every decoded frame is routed either
// to the synchronous caller waiting for it (SendRequest) or, for unsolicited
// pushes, to the component registered under the frame's (address, device)
// identity. Frames nobody claims are logged and dropped.
//
// Link state moves Closed -> Open -> Draining -> Closed. An I/O error on
// either direction drains the link: every pending request fails with a
// LinkFault ProtocolError and every registered component's LinkFault
// callback runs once.
package bus
