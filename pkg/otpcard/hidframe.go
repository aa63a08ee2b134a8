package otpcard

import (
	"encoding/binary"
	"log/slog"
)

const (
	hidReportSize  = 8
	hidFrameSize   = 70
	hidPayloadSize = 64
)

// FrameAdapter reassembles 8-byte HID feature reports into 64-byte APDU
// command frames, dispatches them, and re-fragments the response back into
// 8-byte reports (spec §4.4, §6.2).
type FrameAdapter struct {
	// Dispatch delivers a reassembled command to the OTP applet and
	// receives its response. Callers wire this to OTPApplet.Dispatch.
	Dispatch func(APDU) Response
	// Status builds the 7-byte HID-context status block returned by
	// GET_REPORT when no reply is pending.
	Status func() []byte
	Log    *slog.Logger

	rx [hidFrameSize]byte
	tx [hidFrameSize]byte

	currSeq, expSeq byte
	sendRemaining   int
}

// SetReport processes one inbound HID feature report (spec §4.4 inbound).
func (a *FrameAdapter) SetReport(report [hidReportSize]byte) {
	switch {
	case report[7] == 0xFF:
		a.reset()
	case report[7]&0x80 != 0:
		a.receiveFragment(report)
	}
}

func (a *FrameAdapter) reset() {
	a.sendRemaining = 0
	a.currSeq = 0
	a.expSeq = 0
	for i := range a.tx {
		a.tx[i] = 0
	}
}

func (a *FrameAdapter) receiveFragment(report [hidReportSize]byte) {
	seq := report[7] & 0x1F
	if seq >= 10 {
		return
	}
	if seq == 0 {
		for i := range a.rx {
			a.rx[i] = 0
		}
	}
	copy(a.rx[int(seq)*7:int(seq)*7+7], report[:7])
	if seq != 9 {
		return
	}

	residual := crc16(a.rx[:hidPayloadSize])
	rcrc := binary.LittleEndian.Uint16(a.rx[65:67])
	if residual != rcrc {
		if a.Log != nil {
			a.Log.Warn("otp hid frame: bad crc, dropping")
		}
		return
	}

	slotID := a.rx[64]
	data := make([]byte, hidPayloadSize)
	copy(data, a.rx[:hidPayloadSize])
	cmd := APDU{CLA: 0x00, INS: 0x01, P1: slotID, P2: 0x00, Data: data, IsOTP: true}

	resp := a.Dispatch(cmd)
	if SwOK(resp.SW) && len(resp.Data) > 0 {
		a.armReply(resp.Data)
	}
}

// armReply prepares the tx frame and sequencing state for a response body
// (spec §4.4 "Reply preparation").
func (a *FrameAdapter) armReply(data []byte) {
	buf := make([]byte, len(data)+2)
	copy(buf, data)
	crc := crc16(data)
	binary.LittleEndian.PutUint16(buf[len(data):], ^crc)

	for i := range a.tx {
		a.tx[i] = 0
	}
	copy(a.tx[:], buf)

	a.sendRemaining = len(buf)
	a.expSeq = byte((len(buf) + 6) / 7)
	a.currSeq = 0
}

// GetReport produces the next outbound HID feature report (spec §4.4
// outbound).
func (a *FrameAdapter) GetReport() [hidReportSize]byte {
	var out [hidReportSize]byte

	if a.sendRemaining > 0 {
		n := 7
		if a.sendRemaining < n {
			n = a.sendRemaining
		}
		off := int(a.currSeq) * 7
		copy(out[:], a.tx[off:off+n])
		out[7] = 0x40 | a.currSeq
		a.currSeq++
		a.sendRemaining -= n
		return out
	}

	if a.currSeq == a.expSeq && a.expSeq > 0 {
		out[7] = 0x40
		a.currSeq = 0
		a.expSeq = 0
		return out
	}

	if a.Status != nil {
		copy(out[:7], a.Status())
	}
	return out
}
