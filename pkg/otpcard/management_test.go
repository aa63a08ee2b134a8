package otpcard

import (
	"bytes"
	"testing"
)

func newTestManagement() (*Device, *ManagementApplet) {
	dev, _ := newTestDevice()
	return dev, &ManagementApplet{Dev: dev}
}

func TestManagementConfigTLVVirginDeviceShape(t *testing.T) {
	dev, _ := newTestManagement()
	blob := dev.ManagementConfigTLV()

	if int(blob[0]) != len(blob)-1 {
		t.Fatalf("overall length byte = %d, want %d", blob[0], len(blob)-1)
	}

	entries := parseTLV(blob[1:])
	if len(entries) == 0 {
		t.Fatalf("expected at least one TLV entry")
	}
	if entries[0].tag != TagUSBSupported {
		t.Fatalf("first tag = 0x%02X, want TagUSBSupported", entries[0].tag)
	}
	caps := uint16(entries[0].value[0])<<8 | uint16(entries[0].value[1])
	want := uint16(CapFIDO2 | CapOTP | CapU2F | CapOATH)
	if caps&want != want {
		t.Fatalf("capabilities = 0x%04X, missing bits from 0x%04X", caps, want)
	}

	var sawSerial, sawFormFactor, sawVersion, sawEnabled, sawDeviceFlags, sawConfigLock bool
	for _, e := range entries {
		switch e.tag {
		case TagSerial:
			sawSerial = true
			if !bytes.Equal(e.value, dev.Serial[:]) {
				t.Fatalf("serial tag value = %x, want %x", e.value, dev.Serial[:])
			}
		case TagFormFactor:
			sawFormFactor = true
		case TagVersion:
			sawVersion = true
			if len(e.value) != 3 || e.value[0] != dev.VersionMajor || e.value[1] != dev.VersionMinor || e.value[2] != 0 {
				t.Fatalf("version tag = %x, want [%d %d 0]", e.value, dev.VersionMajor, dev.VersionMinor)
			}
		case TagUSBEnabled:
			sawEnabled = true
		case TagDeviceFlags:
			sawDeviceFlags = true
		case TagConfigLock:
			sawConfigLock = true
			if len(e.value) != 1 || e.value[0] != 0 {
				t.Fatalf("config lock = %x, want [0] (unlocked)", e.value)
			}
		}
	}
	for name, ok := range map[string]bool{
		"serial": sawSerial, "form_factor": sawFormFactor, "version": sawVersion,
		"usb_enabled": sawEnabled, "device_flags": sawDeviceFlags, "config_lock": sawConfigLock,
	} {
		if !ok {
			t.Fatalf("missing expected TLV tag %q in virgin device blob", name)
		}
	}
}

func TestManagementOpenPGPAndPIVGatedOnPresence(t *testing.T) {
	dev, _ := newTestManagement()
	blob := dev.ManagementConfigTLV()
	entries := parseTLV(blob[1:])
	caps := uint16(entries[0].value[0])<<8 | uint16(entries[0].value[1])
	if caps&(CapOpenPGP|CapPIV) != 0 {
		t.Fatalf("caps = 0x%04X, expected OpenPGP/PIV bits clear by default", caps)
	}

	dev.OpenPGPPresent = true
	dev.PIVPresent = true
	blob2 := dev.ManagementConfigTLV()
	entries2 := parseTLV(blob2[1:])
	caps2 := uint16(entries2[0].value[0])<<8 | uint16(entries2[0].value[1])
	if caps2&CapOpenPGP == 0 || caps2&CapPIV == 0 {
		t.Fatalf("caps = 0x%04X, expected OpenPGP/PIV bits set once registered", caps2)
	}
}

func TestManagementWriteConfigValidatesLengthPrefix(t *testing.T) {
	_, app := newTestManagement()
	resp := app.writeConfig([]byte{0x05, 0x01, 0x02})
	if resp.SW != SWWrongData {
		t.Fatalf("SW = 0x%04X, want SWWrongData for mismatched length prefix", resp.SW)
	}
}

func TestManagementWriteConfigStoresBlobVerbatimAndIsEchoedBack(t *testing.T) {
	dev, app := newTestManagement()
	payload := []byte{TagUSBEnabled, 0x02, 0x00, byte(CapOTP)}
	resp := app.writeConfig(append([]byte{byte(len(payload))}, payload...))
	if resp.SW != SWOK {
		t.Fatalf("writeConfig SW = 0x%04X, want SWOK", resp.SW)
	}

	stored := dev.Store.GetData(EFDevConf)
	if !bytes.Equal(stored, payload) {
		t.Fatalf("stored EF_DEV_CONF = %x, want %x", stored, payload)
	}

	blob := dev.ManagementConfigTLV()
	if !bytes.Contains(blob, payload) {
		t.Fatalf("expected written blob to be echoed back verbatim in ManagementConfigTLV output")
	}
}

func TestCapSupportedDefaultsToEnabledWhenBlobAbsent(t *testing.T) {
	dev, _ := newTestManagement()
	if !dev.capSupported(CapOTP) {
		t.Fatalf("expected capSupported to default to enabled with no EF_DEV_CONF blob")
	}
}

func TestCapSupportedHonorsWrittenEnabledBitmap(t *testing.T) {
	dev, app := newTestManagement()
	payload := []byte{TagUSBEnabled, 0x02, 0x00, byte(CapU2F)} // OTP bit clear
	app.writeConfig(append([]byte{byte(len(payload))}, payload...))

	if dev.capSupported(CapOTP) {
		t.Fatalf("expected OTP capability disabled once TAG_USB_ENABLED clears its bit")
	}
	if !dev.capSupported(CapU2F) {
		t.Fatalf("expected U2F capability enabled per the written bitmap")
	}
}

func TestManagementDispatchFactoryReset(t *testing.T) {
	_, app := newTestManagement()
	called := false
	app.FactoryReset = func() error {
		called = true
		return nil
	}
	resp := app.Dispatch(APDU{INS: insFactoryReset})
	if resp.SW != SWOK {
		t.Fatalf("SW = 0x%04X, want SWOK", resp.SW)
	}
	if !called {
		t.Fatalf("expected FactoryReset collaborator to be invoked")
	}
}

func TestManagementDispatchUnknownINS(t *testing.T) {
	_, app := newTestManagement()
	resp := app.Dispatch(APDU{INS: 0x99})
	if resp.SW != SWInsNotSupported {
		t.Fatalf("SW = 0x%04X, want SWInsNotSupported", resp.SW)
	}
}

func TestParseTLVStopsAtMalformedEntry(t *testing.T) {
	// length byte claims more data than is present
	entries := parseTLV([]byte{0x01, 0x05, 0xAA})
	if len(entries) != 0 {
		t.Fatalf("expected malformed TLV to yield no entries, got %d", len(entries))
	}
}
