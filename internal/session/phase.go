package session

// Phase is the session's position in its lifecycle.
type Phase int

const (
	Unconfigured Phase = iota
	Configured
	LockedAwaitingExit
	Verifying
	Terminating
)

func (p Phase) String() string {
	switch p {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case LockedAwaitingExit:
		return "locked_awaiting_exit"
	case Verifying:
		return "verifying"
	case Terminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Locked reports whether the exit prompt owns the session.
func (p Phase) Locked() bool {
	return p >= LockedAwaitingExit
}
