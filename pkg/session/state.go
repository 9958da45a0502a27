package session

// State is the lifecycle state of one WebSocket session.
type State string

const (
	// StateConnecting: transport upgraded, admission not yet decided.
	StateConnecting State = "connecting"
	// StateAdmitted: registry slot held, handshake event not yet sent.
	StateAdmitted State = "admitted"
	// StateActive: handshake sent, messages flowing.
	StateActive State = "active"
	// StateClosing: teardown started, no new work accepted.
	StateClosing State = "closing"
	// StateClosed: slot released, transport closed. Terminal.
	StateClosed State = "closed"
)

// validTransitions maps each state to the states it may move to. Closing is
// reachable from every live state because teardown can start at any point
// (read error, policy rejection, server shutdown).
var validTransitions = map[State][]State{
	StateConnecting: {StateAdmitted, StateClosing, StateClosed},
	StateAdmitted:   {StateActive, StateClosing},
	StateActive:     {StateClosing},
	StateClosing:    {StateClosed},
	StateClosed:     {},
}

// canTransition reports whether from → to is a legal state change.
func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
