package core

// ContextStatus is the lifecycle of a Context: Initializing → Running → Stopping → Stopped.
type ContextStatus int

const (
	ContextInitializing ContextStatus = iota
	ContextRunning
	ContextStopping
	ContextStopped
)

func (s ContextStatus) String() string {
	switch s {
	case ContextInitializing:
		return "initializing"
	case ContextRunning:
		return "running"
	case ContextStopping:
		return "stopping"
	case ContextStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SessionStatus is the lifecycle of a Session: Connecting → Connected → Disconnecting → Disconnected.
// A new Session starts Disconnected.
type SessionStatus int

const (
	SessionDisconnected SessionStatus = iota
	SessionConnecting
	SessionConnected
	SessionDisconnecting
)

func (s SessionStatus) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionDisconnecting:
		return "disconnecting"
	case SessionDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
