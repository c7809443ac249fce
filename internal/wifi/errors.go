package wifi

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when the daemon is up.
	ErrAlreadyRunning = errors.New("wifi: daemon already running")

	// ErrUnhealthy wraps the last health check error of a killed daemon.
	ErrUnhealthy = errors.New("wifi: daemon failed health checks")

	// ErrInvalidSSID is returned for an empty or oversized network name.
	ErrInvalidSSID = errors.New("wifi: invalid ssid")

	// ErrInvalidKey is returned for a passphrase wpa_supplicant would reject.
	ErrInvalidKey = errors.New("wifi: invalid key")

	// ErrNoPong is returned when wpa_cli ping gets no PONG.
	ErrNoPong = errors.New("wifi: supplicant did not answer ping")
)
