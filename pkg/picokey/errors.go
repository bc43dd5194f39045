package picokey

import "errors"

var (
	// ErrNotFound is returned by New when neither a smartcard reader with a
	// card nor a rescue-mode USB device can be found.
	ErrNotFound = errors.New("picokey: no card inserted")

	// ErrSlotOutOfRange is returned by New when an explicit reader slot
	// exceeds the number of connected readers.
	ErrSlotOutOfRange = errors.New("picokey: reader slot out of range")

	// ErrNoDevice is returned by session operations after the session has
	// been closed or lost its device.
	ErrNoDevice = errors.New("picokey: no device connected")

	// ErrTransmit is returned when an exchange fails at the transport level.
	ErrTransmit = errors.New("picokey: transmission error")

	// ErrReconnectFailed is returned when a rescue-mode session could not
	// re-establish its USB binding after a transmission failure. The session
	// is closed when this is returned.
	ErrReconnectFailed = errors.New("picokey: reconnection failed")

	// ErrAuthentication is returned by OpenSecureChannel when the device
	// token does not verify against the peer public key.
	ErrAuthentication = errors.New("picokey: secure channel authentication failed")
)
