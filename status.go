package nostr

// RelayStatus is the connection state of a relay.
//
//	Initialized -> Pending -> Connecting -> Connected -> Disconnected
//	any failure while connecting -> Terminated
//	Disconnect() -> Terminated
//	Ban() -> Banned (from anywhere, never leaves)
type RelayStatus uint8

const (
	StatusInitialized RelayStatus = iota
	StatusPending
	StatusConnecting
	StatusConnected
	StatusDisconnected
	StatusTerminated
	StatusBanned
)

func (s RelayStatus) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusPending:
		return "pending"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusTerminated:
		return "terminated"
	case StatusBanned:
		return "banned"
	}
	return "unknown"
}

// CanConnect tells if an explicit connection attempt is allowed to start from this state.
func (s RelayStatus) CanConnect() bool {
	return s == StatusInitialized || s == StatusTerminated
}

func (s RelayStatus) IsDisconnected() bool {
	return s == StatusDisconnected || s == StatusTerminated || s == StatusBanned
}

func (s RelayStatus) IsConnected() bool { return s == StatusConnected }
