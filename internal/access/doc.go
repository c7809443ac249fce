// Package access decides whether a credential and PIN open the door.
//
// A decision is a SHA-256 digest over the PIN and the first four bytes of
// the credential, compared against a table of digests held in a local
// file. The table file is replaced wholesale by the uplink's sync and
// re-read on every check, so a decision always sees either the old or the
// new table, never a mix.
package access
