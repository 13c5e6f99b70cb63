package ws

// Error event codes sent back to the offending connection. A bad payload
// never affects any other connection and never terminates the process.
const (
	ErrCodeAuthRequired       = "auth_required"
	ErrCodeAuthFailed         = "auth_failed"
	ErrCodeMalformedEvent     = "malformed_event"
	ErrCodeUnauthorizedTarget = "unauthorized_target"
)

// MalformedEventError describes an unparseable or incomplete inbound event.
// It is reported back to the originating connection, which stays open.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return "malformed event: " + e.Reason
}
