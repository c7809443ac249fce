// Package orchestrator runs the authorization cycle.
//
// One cycle is:
//
//	WaitCredential -> WaitPin -> Decide -> Grant | Deny -> Settle -> WaitCredential
//
// A PIN entry with fewer than four digits leaves WaitPin on a short path:
// the keypad signals denial, pauses, resets, and the cycle ends without a
// digest being computed or an event queued.
//
// Once Decide has run, Settle always executes. It is deferred, so the door
// is locked, the keypad reset and the dwell held even when signalling fails
// or a collaborator panics. Only a successful grant or deny holds its
// indication (and, for a grant, the open door) before Settle.
package orchestrator
