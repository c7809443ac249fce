package uplink

import "errors"

var (
	// ErrSessionPanic marks an attempt that ended in a recovered panic.
	ErrSessionPanic = errors.New("uplink: session panicked")

	// ErrCommandBacklog is returned to the broker callback when commands
	// arrive faster than the session loop handles them.
	ErrCommandBacklog = errors.New("uplink: command backlog full")

	// ErrSyncStatus is returned when the table server answers non-2xx.
	ErrSyncStatus = errors.New("uplink: unexpected sync response status")

	// ErrShortBody is returned when the body ends before Content-Length.
	ErrShortBody = errors.New("uplink: table download truncated")

	// ErrNoHardwareAddr is returned when the interface has no MAC address.
	ErrNoHardwareAddr = errors.New("uplink: interface has no hardware address")
)
