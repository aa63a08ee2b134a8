package otpcard

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
)

// insOTP is the single recognized INS for the OTP applet's command set
// (spec §4.2 "APDU command surface").
const insOTP = 0x01

// OTP applet P1 command codes (spec §4.2).
const (
	p1ConfigureSlot1  = 0x01
	p1ConfigureSlot2  = 0x03
	p1UpdateSlot1     = 0x04
	p1UpdateSlot2     = 0x05
	p1SwapSlots       = 0x06
	p1GetSerial       = 0x10
	p1GetConfig       = 0x13
	p1ChalHMACSlot1   = 0x30
	p1ChalHMACSlot2   = 0x38
	p1ChalYubicoSlot1 = 0x20
	p1ChalYubicoSlot2 = 0x28
)

// Keyboard is the out-of-scope HID keyboard-buffer collaborator a button
// press emits keystrokes into (spec §1, §4.2 "OTP emission").
type Keyboard interface {
	Write(p []byte)
}

// OTPApplet implements the OTP applet's command set over a shared Device
// (spec §4, §6.2).
type OTPApplet struct {
	Dev *Device
}

// Select runs the OTP applet SELECT handler.
func (a *OTPApplet) Select() Response {
	return a.Dev.SelectOTP()
}

// Dispatch routes a parsed APDU to the matching OTP command, the Go
// analogue of otp_process_apdu's CLA/capability/INS gate followed by
// cmd_otp's P1 switch (spec §4.2, §7).
func (a *OTPApplet) Dispatch(cmd APDU) Response {
	if cmd.CLA != 0x00 {
		return Err(SWClaNotSupported)
	}
	if !a.Dev.capSupported(CapOTP) || cmd.INS != insOTP {
		return Err(SWInsNotSupported)
	}
	if cmd.P2 != 0x00 {
		return Err(SWIncorrectP1P2)
	}
	switch cmd.P1 {
	case p1ConfigureSlot1, p1ConfigureSlot2:
		return a.configure(cmd.P1 == p1ConfigureSlot1, cmd.Data, cmd.IsOTP)
	case p1UpdateSlot1, p1UpdateSlot2:
		return a.update(cmd.P1 == p1UpdateSlot1, cmd.Data, cmd.IsOTP)
	case p1SwapSlots:
		return a.swap(cmd.IsOTP)
	case p1GetSerial:
		return OK(a.Dev.Serial[:])
	case p1GetConfig:
		return OK(a.Dev.ManagementConfigTLV())
	case p1ChalHMACSlot1, p1ChalHMACSlot2:
		return a.challengeHMAC(cmd.P1 == p1ChalHMACSlot1, cmd.Data)
	case p1ChalYubicoSlot1, p1ChalYubicoSlot2:
		return a.challengeYubico(cmd.P1 == p1ChalYubicoSlot1, cmd.Data)
	default:
		// Unrecognized P1 values are accepted silently with an empty body,
		// matching legacy Yubico tools that probe undocumented P1 codes.
		return OK(nil)
	}
}

func slotFileID(first bool) FileID {
	if first {
		return EFOTPSlot1
	}
	return EFOTPSlot2
}

// configure implements the P1=0x01/0x03 CONFIGURE_SLOT command (spec
// §4.2.1). An all-zero candidate record deletes the slot.
func (a *OTPApplet) configure(first bool, data []byte, isOTP bool) Response {
	if len(data) < slotConfigSize+accCodeSize {
		return Err(SWWrongData)
	}
	id := slotFileID(first)

	if a.Dev.Store.HasData(id) {
		existing, err := unmarshalStoredSlot(a.Dev.Store.GetData(id))
		if err != nil {
			return Err(SWWrongData)
		}
		var acc [accCodeSize]byte
		copy(acc[:], data[slotConfigSize:slotConfigSize+accCodeSize])
		if existing.Config.AccCode != acc {
			return Err(SWSecurityStatusNotSatisfied)
		}
	}

	if !allZero(data[:slotConfigSize]) {
		cfg, err := UnmarshalSlotConfig(data[:slotConfigSize])
		if err != nil {
			return Err(SWWrongData)
		}
		if !cfg.rfuClear() || !cfg.crcValid() {
			return Err(SWWrongData)
		}
		stored := storedSlot{Config: *cfg}
		a.Dev.Store.PutData(id, stored.marshal())
		a.Dev.configSeq++
		return a.Dev.statusBlock(isOTP)
	}

	a.Dev.Store.Delete(id)
	a.Dev.configSeq++
	return a.Dev.statusBlock(isOTP)
}

// update implements the P1=0x04/0x05 UPDATE_SLOT command (spec §4.2.2):
// only the mutable subset of ext/tkt/cfg flags may change, and cfg_flags is
// entirely replaced when the slot is in challenge/response mode.
func (a *OTPApplet) update(first bool, data []byte, isOTP bool) Response {
	if len(data) < slotConfigSize+accCodeSize {
		return Err(SWWrongData)
	}
	cand, err := UnmarshalSlotConfig(data[:slotConfigSize])
	if err != nil || !cand.rfuClear() || !cand.crcValid() {
		return Err(SWWrongData)
	}

	id := slotFileID(first)
	if !a.Dev.Store.HasData(id) {
		return a.Dev.statusBlock(isOTP)
	}
	existing, err := unmarshalStoredSlot(a.Dev.Store.GetData(id))
	if err != nil {
		return Err(SWWrongData)
	}

	var acc [accCodeSize]byte
	copy(acc[:], data[slotConfigSize:slotConfigSize+accCodeSize])
	if existing.Config.AccCode != acc {
		return Err(SWSecurityStatusNotSatisfied)
	}

	merged := existing.Config
	merged.ExtFlags = (existing.Config.ExtFlags &^ extFlagUpdateMask) | (cand.ExtFlags & extFlagUpdateMask)
	merged.TktFlags = (existing.Config.TktFlags &^ tktFlagUpdateMask) | (cand.TktFlags & tktFlagUpdateMask)
	if !existing.Config.isChalResp() {
		merged.CfgFlags = (existing.Config.CfgFlags &^ cfgFlagUpdateMask) | (cand.CfgFlags & cfgFlagUpdateMask)
	} else {
		merged.CfgFlags = cand.CfgFlags
	}

	existing.Config = merged
	a.Dev.Store.PutData(id, existing.marshal())
	a.Dev.configSeq++
	return a.Dev.statusBlock(isOTP)
}

// swap implements the P1=0x06 SWAP_SLOTS command (spec §4.2.4): an
// involution that exchanges the two slots' stored records wholesale,
// including their counter areas.
func (a *OTPApplet) swap(isOTP bool) Response {
	var s1, s2 []byte
	has1 := a.Dev.Store.HasData(EFOTPSlot1)
	has2 := a.Dev.Store.HasData(EFOTPSlot2)
	if has1 {
		s1 = a.Dev.Store.GetData(EFOTPSlot1)
	}
	if has2 {
		s2 = a.Dev.Store.GetData(EFOTPSlot2)
	}

	if has2 {
		a.Dev.Store.PutData(EFOTPSlot1, s2)
	} else {
		a.Dev.Store.Delete(EFOTPSlot1)
	}
	if has1 {
		a.Dev.Store.PutData(EFOTPSlot2, s1)
	} else {
		a.Dev.Store.Delete(EFOTPSlot2)
	}

	a.Dev.configSeq++
	return a.Dev.statusBlock(isOTP)
}

// challengeHMAC implements the P1=0x30/0x38 HMAC-SHA1 challenge/response
// command (spec §4.2.3). HMAC_LT64 trims a challenge that's been
// right-padded by repeating its last byte.
func (a *OTPApplet) challengeHMAC(first bool, challenge []byte) Response {
	id := slotFileID(first)
	if !a.Dev.Store.HasData(id) {
		return Err(SWWrongData)
	}
	slot, err := unmarshalStoredSlot(a.Dev.Store.GetData(id))
	if err != nil {
		return Err(SWWrongData)
	}
	if !slot.Config.isChalResp() {
		return Err(SWWrongData)
	}
	if slot.Config.CfgFlags&CfgChalHMAC != CfgChalHMAC {
		return Err(SWWrongData)
	}
	if a.awaitButton(&slot.Config) {
		return Err(SWConditionsNotSatisfied)
	}

	chalLen := len(challenge)
	if chalLen > 64 {
		chalLen = 64
	}
	if slot.Config.CfgFlags&CfgHMACLT64 != 0 && len(challenge) >= 64 {
		terminator := challenge[63]
		for chalLen > 0 && challenge[chalLen-1] == terminator {
			chalLen--
		}
	}

	key := make([]byte, keySize+uidSize)
	copy(key, slot.Config.AESKey[:])
	copy(key[keySize:], slot.Config.UID[:])

	mac := hmac.New(sha1.New, key)
	mac.Write(challenge[:chalLen])
	return OK(mac.Sum(nil))
}

// challengeYubico implements the P1=0x20/0x28 AES-ECB Yubico challenge/
// response command (spec §4.2.3).
func (a *OTPApplet) challengeYubico(first bool, challenge []byte) Response {
	id := slotFileID(first)
	if !a.Dev.Store.HasData(id) {
		return Err(SWWrongData)
	}
	slot, err := unmarshalStoredSlot(a.Dev.Store.GetData(id))
	if err != nil {
		return Err(SWWrongData)
	}
	if !slot.Config.isChalResp() {
		return Err(SWWrongData)
	}
	if slot.Config.CfgFlags&CfgChalYubico == 0 {
		return Err(SWWrongData)
	}
	if a.awaitButton(&slot.Config) {
		return Err(SWConditionsNotSatisfied)
	}
	if len(challenge) < 6 {
		return Err(SWWrongData)
	}

	var block [16]byte
	copy(block[:6], challenge[:6])
	copy(block[6:], serialDecimalString(a.Dev.Serial))

	cipher, err := aes.NewCipher(slot.Config.AESKey[:])
	if err != nil {
		return Err(SWWrongData)
	}
	var out [16]byte
	cipher.Encrypt(out[:], block[:])
	return OK(out[:])
}

// awaitButton runs the optional button-confirmation gate a CHAL_BTN_TRIG
// slot requires before answering a challenge (spec §4.2.3); it reports
// whether the user declined or the request timed out.
func (a *OTPApplet) awaitButton(cfg *SlotConfig) bool {
	if cfg.CfgFlags&CfgChalBtnTrig == 0 || a.Dev.Button == nil {
		return false
	}
	a.Dev.statusByte = 0x20
	aborted := a.Dev.Button.Wait()
	a.Dev.statusByte = 0x00
	return aborted
}

// serialDecimalString renders the device serial as its fixed 10-character
// decimal form, matching pico_serial_str's role in the Yubico OTP
// challenge block (spec §4.2.3).
func serialDecimalString(serial [4]byte) []byte {
	n := binary.BigEndian.Uint32(serial[:])
	s := make([]byte, 10)
	for i := 9; i >= 0; i-- {
		s[i] = byte('0' + n%10)
		n /= 10
	}
	return s
}

// ButtonPressed implements the physical-button OTP emission path (spec
// §4.2, "Button Press" — supplemented from original_source's
// otp_button_pressed, which otherwise has no APDU surface). slot is 1 or 2.
func (a *OTPApplet) ButtonPressed(slot int, kb Keyboard) error {
	a.Dev.ensureScanned()
	if !a.Dev.capSupported(CapOTP) {
		return ErrOTPDisabled
	}
	if slot != 1 && slot != 2 {
		return &SWError{SW: SWWrongData}
	}
	id := EFOTPSlot1
	if slot == 2 {
		id = EFOTPSlot2
	}
	if !a.Dev.Store.HasData(id) {
		return &SWError{SW: SWConditionsNotSatisfied}
	}
	stored, err := unmarshalStoredSlot(a.Dev.Store.GetData(id))
	if err != nil {
		return &SWError{SW: SWWrongData}
	}
	cfg := stored.Config
	// OATH-HOTP and challenge-response share tkt_flags bit 0x40, so the
	// button-press guard also needs cfg_flags&CHAL_YUBICO (itself shared
	// with CHAL_HMAC's 0x20 bit) to tell true challenge-response apart
	// from OATH-HOTP (original_source otp_button_pressed).
	if cfg.CfgFlags&CfgChalYubico != 0 && cfg.isChalResp() {
		return &SWError{SW: SWConditionsNotSatisfied}
	}

	switch {
	case cfg.TktFlags&TktOATHHOTP != 0:
		a.emitOATHHOTP(id, stored, kb)
	case cfg.CfgFlags&CfgShortTicket != 0 || cfg.CfgFlags&CfgStaticTicket != 0:
		a.emitStaticTicket(&cfg, kb)
	default:
		a.emitYubicoOTP(slot, id, stored, kb)
	}
	return nil
}

func (a *OTPApplet) emitOATHHOTP(id FileID, stored *storedSlot, kb Keyboard) {
	cfg := stored.Config
	key := oathHMACKey(cfg.AESKey)

	imf := stored.imf()
	if imf == 0 {
		imf = uint64(binary.BigEndian.Uint16(cfg.UID[4:6]))
	}

	base := uint32(1000000)
	digits := 6
	if cfg.CfgFlags&CfgOATHHOTP8 != 0 {
		base = 100000000
		digits = 8
	}
	code := oathHOTP(key, imf, digits) % base

	numStr := decimalPad(code, digits)
	kb.Write(numStr)

	stored.setIMF(imf + 1)
	a.Dev.Store.PutData(id, stored.marshal())

	if cfg.TktFlags&TktAppendCR != 0 {
		kb.Write([]byte{'\r'})
	}
}

func (a *OTPApplet) emitStaticTicket(cfg *SlotConfig, kb Keyboard) {
	fixedSize := fixedDataSize + uidSize + keySize
	if fixedSize > len(cfg.FixedData)+len(cfg.UID)+len(cfg.AESKey) {
		fixedSize = len(cfg.FixedData) + len(cfg.UID) + len(cfg.AESKey)
	}
	blob := make([]byte, 0, fixedSize)
	blob = append(blob, cfg.FixedData[:]...)
	blob = append(blob, cfg.UID[:]...)
	blob = append(blob, cfg.AESKey[:]...)
	kb.Write(blob[:fixedSize])
	if cfg.TktFlags&TktAppendCR != 0 {
		kb.Write([]byte{0x28})
	}
}

func (a *OTPApplet) emitYubicoOTP(slot int, id FileID, stored *storedSlot, kb Keyboard) {
	cfg := stored.Config
	counter := stored.useCounter()
	updateCounter := false
	if counter == 0 {
		updateCounter = true
		counter = 1
	}

	plaintext := make([]byte, 16)
	off := 0
	off += copy(plaintext[off:], cfg.UID[:])
	binary.LittleEndian.PutUint16(plaintext[off:], counter)
	off += 2

	ts := (a.Dev.Clock.Millis() / 1000) >> 1
	plaintext[off] = byte(ts)
	plaintext[off+1] = byte(ts >> 8)
	plaintext[off+2] = byte(ts >> 16)
	off += 3

	sessionIdx := slot - 1
	plaintext[off] = a.Dev.sessionCounter[sessionIdx]
	off++

	rnd := make([]byte, 2)
	a.Dev.RNG.Read(rnd)
	off += copy(plaintext[off:], rnd)

	crc := crc16(plaintext[:off])
	binary.LittleEndian.PutUint16(plaintext[off:], ^crc)

	cipher, err := aes.NewCipher(cfg.AESKey[:])
	if err == nil {
		cipher.Encrypt(plaintext, plaintext)
	}

	otpBlock := make([]byte, 22)
	copy(otpBlock[:6], cfg.FixedData[:6])
	copy(otpBlock[6:], plaintext)
	kb.Write(modhexEncode(otpBlock))

	if cfg.TktFlags&TktAppendCR != 0 {
		kb.Write([]byte{'\r'})
	}

	a.Dev.sessionCounter[sessionIdx]++
	if a.Dev.sessionCounter[sessionIdx] == 0 {
		if counter+1 <= 0x7fff {
			counter++
			updateCounter = true
		}
	}
	if updateCounter {
		stored.setUseCounter(counter)
		a.Dev.Store.PutData(id, stored.marshal())
	}
}

func decimalPad(v uint32, digits int) []byte {
	out := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		out[i] = byte('0' + v%10)
		v /= 10
	}
	return out
}
