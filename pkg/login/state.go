package login

// State is a step of the QR login state machine
type State int

const (
	StateIdle State = iota
	StateLockAcquiring
	StateBrowserStarting
	StateQRCodeReady
	StateAwaitingScan
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLockAcquiring:
		return "LOCK_ACQUIRING"
	case StateBrowserStarting:
		return "BROWSER_STARTING"
	case StateQRCodeReady:
		return "QRCODE_READY"
	case StateAwaitingScan:
		return "AWAITING_SCAN"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
