// Package uplink keeps the controller in touch with the central server.
//
// Three pieces run alongside the access loop:
//
//   - Monitor brings the Wi-Fi link up, associates with the network named in
//     the credentials file and reports connectivity edges.
//   - Session holds an MQTT session open: it announces the hardware address,
//     drains the event queue and handles remote commands. Any failure ends
//     the attempt and a fresh one starts after a fixed backoff.
//   - Syncer downloads a new authorization table and swaps it in with an
//     atomic rename, so the access loop never reads a partial table.
//
// None of these block the access loop. While offline, events accumulate in
// the bounded queue and the last synchronised table stays in force.
package uplink
