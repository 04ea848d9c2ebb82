package session

// State is the position of the session state machine.
type State int

const (
	Idle State = iota
	HandshakeSent
	AwaitIdentification
	BaudAckSent
	AwaitSessionReady
	RequestSent
	AwaitResponse
	SessionClose
	Error
	Reboot
)

var stateNames = [...]string{
	Idle:                "IDLE",
	HandshakeSent:       "HANDSHAKE_SENT",
	AwaitIdentification: "AWAIT_IDENTIFICATION",
	BaudAckSent:         "BAUD_ACK_SENT",
	AwaitSessionReady:   "AWAIT_SESSION_READY",
	RequestSent:         "REQUEST_SENT",
	AwaitResponse:       "AWAIT_RESPONSE",
	SessionClose:        "SESSION_CLOSE",
	Error:               "ERROR",
	Reboot:              "REBOOT",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Active reports whether communication with the meter is in progress.
func (s State) Active() bool {
	return s != Idle && s != Error && s != Reboot
}
