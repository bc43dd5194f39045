package apdu

// Error is a protocol-level failure: the device answered with a status word
// that is neither success nor in the caller's accepted set. It carries the
// exact status word so callers can implement their own acceptance policies.
type Error struct {
	SW StatusWord
}

// NewError wraps a status word into a protocol error.
func NewError(sw StatusWord) *Error {
	return &Error{SW: sw}
}

func (e *Error) Error() string {
	return "apdu: command failed (" + e.SW.String() + ")"
}
