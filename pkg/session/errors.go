package session

import "errors"

// Connect-time and mid-session failure classes. All of them drive the
// state machine to Error and then Disconnected; none are retried
// automatically — the caller decides whether to retry via Connect or
// Reset.
var (
	// ErrMissingCredentials means no access credential is configured.
	// Surfaced before any device or transport acquisition is attempted.
	ErrMissingCredentials = errors.New("session: no access credential configured")

	// ErrDeviceAcquisition covers permission-denied and no-such-device
	// failures for either audio device.
	ErrDeviceAcquisition = errors.New("session: audio device acquisition failed")

	// ErrTransportOpen means the live channel could not be established.
	ErrTransportOpen = errors.New("session: transport open failed")

	// ErrTransport is a mid-session transport failure; teardown is
	// identical to a manual disconnect.
	ErrTransport = errors.New("session: transport failure")
)
