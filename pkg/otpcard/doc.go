// Package otpcard implements a Yubico-style OTP applet and a device
// Management applet over an ISO 7816-4 APDU command surface, along with the
// HID feature-report framing layer that carries APDUs over a USB keyboard
// interface.
//
// The package has no notion of a particular transport or storage backend:
// Store, RNG, Clock and Button are small collaborator interfaces the caller
// binds to real hardware (flash, TRNG, a millisecond timer, a GPIO button)
// or, for tests and the otpsim command, to in-memory fakes.
package otpcard
