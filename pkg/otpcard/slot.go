package otpcard

import (
	"encoding/binary"
	"errors"
)

// Fixed field sizes for the packed slot record (spec §3.1).
const (
	fixedDataSize   = 16
	uidSize         = 6
	keySize         = 16
	accCodeSize     = 6
	slotConfigSize  = fixedDataSize + uidSize + keySize + accCodeSize + 1 + 1 + 1 + 1 + 2 + 2 // 58
	counterAreaSize = 8
)

// EXT flag bits (spec §3.2).
const (
	ExtSerialBtnVisible = 0x01
	ExtSerialUSBVisible = 0x02
	ExtSerialAPIVisible = 0x04
	ExtUseNumericKeypad = 0x08
	ExtFastTrig         = 0x10
	ExtAllowUpdate      = 0x20
	ExtDormant          = 0x40
	ExtLEDInv           = 0x80

	extFlagUpdateMask = ExtSerialBtnVisible | ExtSerialUSBVisible | ExtSerialAPIVisible |
		ExtUseNumericKeypad | ExtFastTrig | ExtAllowUpdate | ExtDormant | ExtLEDInv
)

// TKT flag bits (spec §3.2). OATHHOTP and ChalResp share bit 0x40 — the
// actual mode is disambiguated by the CFG flags (see dispatch in otp.go).
const (
	TktTabFirst     = 0x01
	TktAppendTab1   = 0x02
	TktAppendTab2   = 0x04
	TktAppendDelay1 = 0x08
	TktAppendDelay2 = 0x10
	TktAppendCR     = 0x20
	TktOATHHOTP     = 0x40
	TktChalResp     = 0x40
	TktProtectCfg2  = 0x80

	tktFlagUpdateMask = TktTabFirst | TktAppendTab1 | TktAppendTab2 | TktAppendDelay1 | TktAppendDelay2 | TktAppendCR
)

// CFG flag bits (spec §3.2). Several bits are deliberately overloaded across
// modes (e.g. 0x04 is both PACING_10MS and HMAC_LT64) — callers must check
// the TKT mode bits first to know which meaning applies.
const (
	CfgSendRef      = 0x01
	CfgShortTicket  = 0x02
	CfgOATHHOTP8    = 0x02
	CfgPacing10ms   = 0x04
	CfgHMACLT64     = 0x04
	CfgPacing20ms   = 0x08
	CfgChalBtnTrig  = 0x08
	CfgStaticTicket = 0x20
	CfgChalYubico   = 0x20
	CfgChalHMAC     = 0x22
	CfgStrongPW1    = 0x10
	CfgStrongPW2    = 0x40
	CfgManUpdate    = 0x80

	cfgFlagUpdateMask = CfgPacing10ms | CfgPacing20ms
)

// SlotConfig is the 58-byte packed slot record (spec §3.1). Field order
// matches the wire layout exactly; Marshal/Unmarshal serialize it
// explicitly rather than relying on any in-memory layout.
type SlotConfig struct {
	FixedData [fixedDataSize]byte
	UID       [uidSize]byte
	AESKey    [keySize]byte
	AccCode   [accCodeSize]byte
	FixedSize byte
	ExtFlags  byte
	TktFlags  byte
	CfgFlags  byte
	RFU       [2]byte
	CRC       uint16
}

// Marshal renders the record to its 58-byte wire form.
func (c *SlotConfig) Marshal() []byte {
	buf := make([]byte, slotConfigSize)
	off := 0
	off += copy(buf[off:], c.FixedData[:])
	off += copy(buf[off:], c.UID[:])
	off += copy(buf[off:], c.AESKey[:])
	off += copy(buf[off:], c.AccCode[:])
	buf[off] = c.FixedSize
	off++
	buf[off] = c.ExtFlags
	off++
	buf[off] = c.TktFlags
	off++
	buf[off] = c.CfgFlags
	off++
	off += copy(buf[off:], c.RFU[:])
	binary.LittleEndian.PutUint16(buf[off:], c.CRC)
	return buf
}

// UnmarshalSlotConfig parses a 58-byte wire record. It does not validate the
// CRC or RFU fields — callers validate those explicitly (see rfuClear and
// crcValid) since the two checks are applied at different points in
// the protocol (configure allows an all-zero record to mean "delete").
func UnmarshalSlotConfig(buf []byte) (*SlotConfig, error) {
	if len(buf) < slotConfigSize {
		return nil, errors.New("otpcard: slot record too short")
	}
	c := &SlotConfig{}
	off := 0
	off += copy(c.FixedData[:], buf[off:off+fixedDataSize])
	off += copy(c.UID[:], buf[off:off+uidSize])
	off += copy(c.AESKey[:], buf[off:off+keySize])
	off += copy(c.AccCode[:], buf[off:off+accCodeSize])
	c.FixedSize = buf[off]
	off++
	c.ExtFlags = buf[off]
	off++
	c.TktFlags = buf[off]
	off++
	c.CfgFlags = buf[off]
	off++
	off += copy(c.RFU[:], buf[off:off+2])
	c.CRC = binary.LittleEndian.Uint16(buf[off : off+2])
	return c, nil
}

// rfuClear reports whether both reserved bytes are zero (spec §3.3
// invariant).
func (c *SlotConfig) rfuClear() bool {
	return c.RFU[0] == 0 && c.RFU[1] == 0
}

// crcValid reports whether the record's CRC reduces to the canonical
// residue (spec §3.1).
func (c *SlotConfig) crcValid() bool {
	return crcResidueValid(c.Marshal())
}

// SetCRC computes and stores the CRC field so the record passes crcValid,
// for callers assembling a record to send rather than parsing one (e.g. the
// simulator's preload loader and tests).
func (c *SlotConfig) SetCRC() {
	c.CRC = 0
	buf := c.Marshal()
	c.CRC = ^crc16(buf[:len(buf)-2])
}

// allZero reports whether the 58-byte candidate is entirely zero, the
// configure-time sentinel for "delete this slot" (spec §4.2.1).
func allZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// storedSlot is a slot record plus its 8-byte counter area, as persisted.
type storedSlot struct {
	Config  SlotConfig
	Counter [counterAreaSize]byte
}

func unmarshalStoredSlot(buf []byte) (*storedSlot, error) {
	if len(buf) < slotConfigSize+counterAreaSize {
		return nil, errors.New("otpcard: stored slot too short")
	}
	cfg, err := UnmarshalSlotConfig(buf[:slotConfigSize])
	if err != nil {
		return nil, err
	}
	s := &storedSlot{Config: *cfg}
	copy(s.Counter[:], buf[slotConfigSize:slotConfigSize+counterAreaSize])
	return s, nil
}

func (s *storedSlot) marshal() []byte {
	buf := make([]byte, 0, slotConfigSize+counterAreaSize)
	buf = append(buf, s.Config.Marshal()...)
	buf = append(buf, s.Counter[:]...)
	return buf
}

// useCounter reads the 16-bit big-endian Yubico OTP use counter.
func (s *storedSlot) useCounter() uint16 {
	return binary.BigEndian.Uint16(s.Counter[:2])
}

func (s *storedSlot) setUseCounter(v uint16) {
	binary.BigEndian.PutUint16(s.Counter[:2], v)
}

// imf reads the 64-bit big-endian OATH-HOTP moving factor.
func (s *storedSlot) imf() uint64 {
	return binary.BigEndian.Uint64(s.Counter[:])
}

func (s *storedSlot) setIMF(v uint64) {
	binary.BigEndian.PutUint64(s.Counter[:], v)
}

// isYubicoOTPMode reports whether the slot is in the default Yubico OTP
// keyboard-emission mode (i.e. none of OATH-HOTP, short ticket, static
// ticket) — spec §4.2 init_otp.
func (c *SlotConfig) isYubicoOTPMode() bool {
	if c.TktFlags&TktOATHHOTP != 0 {
		return false
	}
	if c.CfgFlags&CfgShortTicket != 0 || c.CfgFlags&CfgStaticTicket != 0 {
		return false
	}
	return true
}

// isChalResp reports whether the slot is configured for challenge/response
// (TKT bit 0x40 is shared with OATH-HOTP and is ambiguous in isolation; spec
// §4.2.3 always gates on tkt_flags&CHAL_RESP directly, so this mirrors that
// literally).
func (c *SlotConfig) isChalResp() bool {
	return c.TktFlags&TktChalResp != 0
}
