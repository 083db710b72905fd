package model

// SessionState is the closed set of lifecycle states for a pairing session.
// Transitions are owned by the session manager; nothing else mutates state.
type SessionState string

const (
	StateInitializing             SessionState = "initializing"
	StateAwaitingPairingCode      SessionState = "awaiting_pairing_code"
	StateAwaitingUserConfirmation SessionState = "awaiting_user_confirmation"
	StateConnected                SessionState = "connected"
	StateDeploying                SessionState = "deploying"
	StateDeployed                 SessionState = "deployed"
	StateFailed                   SessionState = "failed"
	StateExpired                  SessionState = "expired"
)

// IsTerminal reports whether the state ends the session lifecycle.
func (s SessionState) IsTerminal() bool {
	switch s {
	case StateDeployed, StateFailed, StateExpired:
		return true
	}
	return false
}

// Connected reports whether the session has reached Connected or any of its
// downstream states.
func (s SessionState) Connected() bool {
	switch s {
	case StateConnected, StateDeploying, StateDeployed:
		return true
	}
	return false
}

// StatusString maps a state to the status string written to the external
// status store. The store keeps the legacy vocabulary; the enum stays
// internal.
func (s SessionState) StatusString() string {
	switch s {
	case StateInitializing:
		return "connecting"
	case StateAwaitingPairingCode:
		return "waiting_for_pairing"
	case StateAwaitingUserConfirmation:
		return "waiting_for_user"
	case StateConnected:
		return "connected"
	case StateDeploying:
		return "deploying"
	case StateDeployed:
		return "deployed"
	case StateFailed:
		return "failed"
	case StateExpired:
		return "expired"
	}
	return string(s)
}

// StatusDisconnected is the store-only status recorded when a connected
// session's transport drops. It does not correspond to a SessionState and
// never rolls back a deployed session.
const StatusDisconnected = "disconnected"
