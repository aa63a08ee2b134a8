package otpcard

// APDU is a parsed ISO 7816-4 command. HID-originated commands are
// synthesized with the same shape (spec §4.4) so the applet dispatchers
// never need to know which transport delivered them.
type APDU struct {
	CLA  byte
	INS  byte
	P1   byte
	P2   byte
	Data []byte

	// IsOTP marks a command synthesized from a reassembled HID frame rather
	// than received over the smartcard interface directly; the status block
	// a mutating OTP command returns omits its leading reserved byte in that
	// context (spec §4.2.5, §4.4 "is_otp").
	IsOTP bool
}

// Response is an APDU response: data followed conceptually by a 2-byte
// status word.
type Response struct {
	Data []byte
	SW   uint16
}

// OK builds a successful response carrying data.
func OK(data []byte) Response {
	return Response{Data: data, SW: SWOK}
}

// Err builds a failure response with no data body.
func Err(sw uint16) Response {
	return Response{SW: sw}
}

// Bytes renders the response as data||SW1||SW2, the wire form of an APDU
// response.
func (r Response) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	out = append(out, byte(r.SW>>8), byte(r.SW))
	return out
}

// AID byte sequences (spec §6.1), raw (not length-prefixed).
var (
	ManagementAID = []byte{0xA0, 0x00, 0x00, 0x05, 0x27, 0x47, 0x11, 0x17}
	OTPAID        = []byte{0xA0, 0x00, 0x00, 0x05, 0x27, 0x20, 0x01}
)
