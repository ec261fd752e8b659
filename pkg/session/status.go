// Package session implements the voice session controller: the state
// machine that wires microphone capture through the live transport into
// scheduled playback, and guarantees total resource release on every exit
// path.
package session

// Status is the single source of truth for the session lifecycle.
// Exactly one value holds at any time.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusBuffering
	StatusSpeaking
	StatusError
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusBuffering:
		return "buffering"
	case StatusSpeaking:
		return "speaking"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Active reports whether a session is live: connected and listening,
// buffering a response, or speaking.
func (s Status) Active() bool {
	return s == StatusConnected || s == StatusBuffering || s == StatusSpeaking
}
