package otpcard

import "log/slog"

// Device holds the state shared between the OTP and Management applets: the
// collaborators spec §1 declares out of scope, plus the small amount of
// session state (config_seq, scanned, status_byte) both applets read and
// mutate (spec §4.1, §6.3 "Shared State").
type Device struct {
	Store  Store
	RNG    RNG
	Clock  Clock
	Button Button
	Log    *slog.Logger

	// Serial is the 4-byte device serial (spec §4.2 GET_SERIAL); byte 0 has
	// its top six bits cleared to force an 8-digit decimal serial, mirroring
	// the firmware's "force 8-digit serial number" comment.
	Serial [4]byte

	VersionMajor byte
	VersionMinor byte

	// OpenPGPPresent/PIVPresent stand in for the sibling-applet existence
	// checks the original firmware makes against its app registry; this
	// build has no such registry so callers set them directly.
	OpenPGPPresent bool
	PIVPresent     bool

	scanned        bool
	configSeq      byte
	statusByte     byte
	sessionCounter [2]byte
}

// NewDevice constructs a Device with its collaborators wired. serial should
// be the raw 4-byte board identifier; NewDevice clears the top six bits of
// byte 0 so GET_SERIAL always reports an 8-digit value.
func NewDevice(store Store, rng RNG, clock Clock, button Button, serial [4]byte, versionMajor, versionMinor byte) *Device {
	d := &Device{
		Store:        store,
		RNG:          rng,
		Clock:        clock,
		Button:       button,
		Log:          slog.Default(),
		VersionMajor: versionMajor,
		VersionMinor: versionMinor,
	}
	d.Serial = serial
	d.Serial[0] &^= 0xFC
	return d
}

// ensureScanned runs the one-shot power-up housekeeping: bumping the use
// counter of every Yubico-OTP-mode slot once, idempotently, the way
// init_otp's scanned guard does (spec's supplemented "power-cycle counter
// bump" feature, from original_source).
func (d *Device) ensureScanned() {
	if d.scanned {
		return
	}
	for _, id := range [2]FileID{EFOTPSlot1, EFOTPSlot2} {
		if !d.Store.HasData(id) {
			continue
		}
		raw := d.Store.GetData(id)
		slot, err := unmarshalStoredSlot(raw)
		if err != nil {
			continue
		}
		if slot.Config.isYubicoOTPMode() {
			counter := slot.useCounter()
			if counter+1 <= 0x7fff {
				slot.setUseCounter(counter + 1)
				d.Store.PutData(id, slot.marshal())
			}
		}
	}
	d.scanned = true
}

// SelectOTP is the OTP applet SELECT handler (spec §6.2, §4.3 capability
// gating). When CAP_OTP is masked off in EF_DEV_CONF it reports not-found,
// matching otp_select's literal behavior; otherwise it primes config_seq
// from whether either slot currently holds data and returns the status
// block.
func (d *Device) SelectOTP() Response {
	if !d.capSupported(CapOTP) {
		return Err(SWFileNotFound)
	}
	if d.Store.HasData(EFOTPSlot1) || d.Store.HasData(EFOTPSlot2) {
		d.configSeq = 1
	} else {
		d.configSeq = 0
	}
	return d.statusBlock(false)
}

// SelectManagement is the Management applet SELECT handler (spec §6.2). It
// returns an ASCII "major.minor.0" version string. When force is set (the
// transport requests a cold activation) it also runs the one-shot slot scan,
// mirroring man_select's forced scan_all()+init_otp() call.
func (d *Device) SelectManagement(force bool) Response {
	if force {
		d.ensureScanned()
	}
	ver := []byte{'0' + d.VersionMajor, '.', '0' + d.VersionMinor, '.', '0'}
	return OK(ver)
}

// statusBlock builds the 7 or 8 byte OTP status block (spec §4.2.5). isOTP
// selects the 7-byte HID-context variant (leading reserved byte omitted);
// the default APDU-context variant is 8 bytes.
func (d *Device) statusBlock(isOTP bool) Response {
	d.ensureScanned()

	var opts byte
	const (
		config1Valid = 0x01
		config1Touch = 0x04
		config2Valid = 0x02
		config2Touch = 0x08
	)
	if d.Store.HasData(EFOTPSlot1) {
		opts |= config1Valid
		if raw := d.Store.GetData(EFOTPSlot1); len(raw) >= slotConfigSize {
			cfg, _ := UnmarshalSlotConfig(raw)
			if cfg != nil && (!cfg.isChalResp() || cfg.CfgFlags&CfgChalBtnTrig != 0) {
				opts |= config1Touch
			}
		}
	}
	if d.Store.HasData(EFOTPSlot2) {
		opts |= config2Valid
		if raw := d.Store.GetData(EFOTPSlot2); len(raw) >= slotConfigSize {
			cfg, _ := UnmarshalSlotConfig(raw)
			if cfg != nil && (!cfg.isChalResp() || cfg.CfgFlags&CfgChalBtnTrig != 0) {
				opts |= config2Touch
			}
		}
	}

	body := []byte{d.VersionMajor, d.VersionMinor, 0, d.configSeq, opts, 0, d.statusByte}
	if !isOTP {
		body = append([]byte{0}, body...)
	}
	return OK(body)
}

// HIDStatus renders the 7-byte HID-context status block used by GET_REPORT
// when no reply is pending (spec §4.4 outbound, §4.2.5).
func (d *Device) HIDStatus() []byte {
	return d.statusBlock(true).Data
}
