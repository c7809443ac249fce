package orchestrator

// Outcome is how a cycle ended.
type Outcome int

const (
	// Granted means the digest was in the table and the door was released.
	Granted Outcome = iota + 1
	// Denied means the digest was not in the table (or the table was unreadable).
	Denied
	// Timeout means fewer than four digits arrived before the PIN deadline.
	Timeout
	// ProtocolFailure means a peripheral exchange failed and the cycle was abandoned.
	ProtocolFailure
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case Timeout:
		return "timeout"
	case ProtocolFailure:
		return "protocol_failure"
	default:
		return "unknown"
	}
}

// State is the orchestrator's position in the cycle.
type State int

const (
	WaitCredential State = iota
	WaitPin
	Decide
	Grant
	Deny
	Settle
)

func (s State) String() string {
	switch s {
	case WaitCredential:
		return "wait_credential"
	case WaitPin:
		return "wait_pin"
	case Decide:
		return "decide"
	case Grant:
		return "grant"
	case Deny:
		return "deny"
	case Settle:
		return "settle"
	default:
		return "unknown"
	}
}
