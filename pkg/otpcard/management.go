package otpcard

// Management applet INS codes (spec §4.3).
const (
	insReadConfig   = 0x1D
	insWriteConfig  = 0x1C
	insFactoryReset = 0x1E
)

// Management blob TLV tags (spec §3.4).
const (
	TagUSBSupported = 0x01
	TagSerial       = 0x02
	TagUSBEnabled   = 0x03
	TagFormFactor   = 0x04
	TagVersion      = 0x05
	TagDeviceFlags  = 0x08
	TagConfigLock   = 0x0A
)

// Capability bitmap bits (spec §3.4).
const (
	CapOTP     = 0x01
	CapU2F     = 0x02
	CapOpenPGP = 0x04
	CapPIV     = 0x08
	CapOATH    = 0x10
	CapFIDO2   = 0x20
)

const flagEject = 0x80

// ManagementApplet implements the device capability/transport management
// applet over a shared Device (spec §4.3, §6.2).
type ManagementApplet struct {
	Dev *Device

	// FactoryReset is invoked by INS 0x1E; nil is treated as a no-op
	// success, since the FIDO2 reset collaborator it delegates to (spec
	// §1) is out of scope for this module.
	FactoryReset func() error
}

// Select runs the Management applet SELECT handler.
func (a *ManagementApplet) Select(force bool) Response {
	return a.Dev.SelectManagement(force)
}

// Dispatch routes a parsed APDU to the matching Management command (spec
// §4.3), the Go analogue of man_process_apdu's CLA gate followed by its
// INS table.
func (a *ManagementApplet) Dispatch(cmd APDU) Response {
	if cmd.CLA != 0x00 {
		return Err(SWClaNotSupported)
	}
	switch cmd.INS {
	case insReadConfig:
		return OK(a.Dev.ManagementConfigTLV())
	case insWriteConfig:
		return a.writeConfig(cmd.Data)
	case insFactoryReset:
		if a.FactoryReset != nil {
			if err := a.FactoryReset(); err != nil {
				return Err(SWConditionsNotSatisfied)
			}
		}
		return OK(nil)
	default:
		return Err(SWInsNotSupported)
	}
}

// writeConfig implements INS 0x1C: payload is len||bytes[len]; the stored
// blob becomes EF_DEV_CONF verbatim (spec §4.3).
func (a *ManagementApplet) writeConfig(data []byte) Response {
	if len(data) < 1 || int(data[0]) != len(data)-1 {
		return Err(SWWrongData)
	}
	a.Dev.Store.PutData(EFDevConf, data[1:])
	return OK(nil)
}

// capSupported reports whether cap is enabled in EF_DEV_CONF's
// TAG_USB_ENABLED bitmap. Absent TLV or absent tag both default to enabled
// (spec §4.3 capability gating).
func (d *Device) capSupported(cap uint16) bool {
	if !d.Store.HasData(EFDevConf) {
		return true
	}
	blob := d.Store.GetData(EFDevConf)
	for _, e := range parseTLV(blob) {
		if e.tag != TagUSBEnabled {
			continue
		}
		var enabled uint16
		if len(e.value) == 1 {
			enabled = uint16(e.value[0])
		} else if len(e.value) >= 2 {
			enabled = uint16(e.value[0])<<8 | uint16(e.value[1])
		}
		return enabled&cap != 0
	}
	return true
}

// ManagementConfigTLV builds the capability/transport TLV blob (spec §3.4,
// §4.3 INS 0x1D and OTP P1=0x13). When EF_DEV_CONF already holds a blob it
// is echoed back verbatim (the device has been explicitly configured);
// otherwise a default blob is synthesized.
func (d *Device) ManagementConfigTLV() []byte {
	caps := uint16(CapFIDO2 | CapOTP | CapU2F | CapOATH)
	if d.OpenPGPPresent {
		caps |= CapOpenPGP
	}
	if d.PIVPresent {
		caps |= CapPIV
	}

	var out []byte
	out = appendTLV(out, TagUSBSupported, []byte{byte(caps >> 8), byte(caps)})

	serial := d.Serial
	out = appendTLV(out, TagSerial, serial[:])
	out = appendTLV(out, TagFormFactor, []byte{0x01})
	out = appendTLV(out, TagVersion, []byte{d.VersionMajor, d.VersionMinor, 0})

	if d.Store.HasData(EFDevConf) {
		out = append(out, d.Store.GetData(EFDevConf)...)
	} else {
		var enabled uint16
		if d.capSupported(CapFIDO2) {
			enabled |= CapFIDO2
		}
		if d.capSupported(CapOTP) {
			enabled |= CapOTP
		}
		if d.capSupported(CapU2F) {
			enabled |= CapU2F
		}
		if d.capSupported(CapOATH) {
			enabled |= CapOATH
		}
		if d.capSupported(CapOpenPGP) {
			enabled |= CapOpenPGP
		}
		if d.capSupported(CapPIV) {
			enabled |= CapPIV
		}
		out = appendTLV(out, TagUSBEnabled, []byte{byte(enabled >> 8), byte(enabled)})
		out = appendTLV(out, TagDeviceFlags, []byte{flagEject})
		out = appendTLV(out, TagConfigLock, []byte{0x00})
	}

	return append([]byte{byte(len(out))}, out...)
}

type tlvEntry struct {
	tag   byte
	value []byte
}

// appendTLV appends a 1-byte tag, 1-byte length, value triplet.
func appendTLV(buf []byte, tag byte, value []byte) []byte {
	buf = append(buf, tag, byte(len(value)))
	return append(buf, value...)
}

// parseTLV walks a tag/length/value sequence, stopping at the first
// malformed entry rather than erroring (management blobs are trusted,
// previously-validated local state).
func parseTLV(buf []byte) []tlvEntry {
	var out []tlvEntry
	for i := 0; i+1 < len(buf); {
		tag := buf[i]
		length := int(buf[i+1])
		i += 2
		if i+length > len(buf) {
			break
		}
		out = append(out, tlvEntry{tag: tag, value: buf[i : i+length]})
		i += length
	}
	return out
}
