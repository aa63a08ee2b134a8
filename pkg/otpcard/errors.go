package otpcard

import (
	"errors"
	"fmt"
)

// ISO 7816 status words used by the OTP and Management applets (spec §6.1).
const (
	SWOK                         = 0x9000
	SWWrongData                  = 0x6A80
	SWSecurityStatusNotSatisfied = 0x6982
	SWConditionsNotSatisfied     = 0x6985
	SWIncorrectP1P2              = 0x6A86
	SWInsNotSupported            = 0x6D00
	SWClaNotSupported            = 0x6E00

	// SWFileNotFound is returned by an applet's SELECT handler when the
	// capability bitmap in EF_DEV_CONF masks the applet off (spec §4.3,
	// §7 "capability disabled").
	SWFileNotFound = 0x6A82
)

// SWError represents a status word failure returned by an applet command.
type SWError struct {
	Ins byte   // command INS byte
	SW  uint16 // status word
}

func (e *SWError) Error() string {
	return fmt.Sprintf("apdu command 0x%02X failed with SW=0x%04X (%s)", e.Ins, e.SW, swDescription(e.SW))
}

func swDescription(sw uint16) string {
	switch sw {
	case SWOK:
		return "ok"
	case SWWrongData:
		return "wrong data"
	case SWSecurityStatusNotSatisfied:
		return "security status not satisfied"
	case SWConditionsNotSatisfied:
		return "conditions not satisfied"
	case SWIncorrectP1P2:
		return "incorrect P1/P2"
	case SWInsNotSupported:
		return "INS not supported"
	case SWClaNotSupported:
		return "CLA not supported"
	case SWFileNotFound:
		return "file or application not found"
	default:
		return "unknown error"
	}
}

// SwOK reports whether sw indicates success.
func SwOK(sw uint16) bool {
	return sw == SWOK
}

// IsSecurityError reports whether err is an access-code mismatch.
func IsSecurityError(err error) bool {
	swErr, ok := err.(*SWError)
	return ok && swErr.SW == SWSecurityStatusNotSatisfied
}

// IsConditionsError reports whether err is a declined/timed-out user gesture.
func IsConditionsError(err error) bool {
	swErr, ok := err.(*SWError)
	return ok && swErr.SW == SWConditionsNotSatisfied
}

// IsNotFoundError reports whether err is a capability-gated SELECT failure.
func IsNotFoundError(err error) bool {
	swErr, ok := err.(*SWError)
	return ok && swErr.SW == SWFileNotFound
}

// ButtonError represents cancellation of a button-triggered operation.
type ButtonError struct {
	Cause error
}

func (e *ButtonError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("button wait aborted: %v", e.Cause)
	}
	return "button wait aborted"
}

func (e *ButtonError) Unwrap() error {
	return e.Cause
}

// ErrOTPDisabled is returned by ButtonPressed when the OTP transport has
// been masked off in EF_DEV_CONF's TAG_USB_ENABLED bitmap, matching
// otp_button_pressed's status code 3 (spec §4.2.4, §7).
var ErrOTPDisabled = errors.New("otpcard: otp capability disabled")
