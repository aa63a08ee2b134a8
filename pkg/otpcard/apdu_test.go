package otpcard

import (
	"bytes"
	"testing"
)

func TestResponseBytesAppendsStatusWord(t *testing.T) {
	r := OK([]byte{0xDE, 0xAD})
	got := r.Bytes()
	want := []byte{0xDE, 0xAD, 0x90, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("Bytes() = %x, want %x", got, want)
	}
}

func TestErrBuildsEmptyBodyFailure(t *testing.T) {
	r := Err(SWWrongData)
	if len(r.Data) != 0 {
		t.Fatalf("Err response carries data: %x", r.Data)
	}
	if r.SW != SWWrongData {
		t.Fatalf("SW = 0x%04X, want 0x%04X", r.SW, SWWrongData)
	}
}

func TestAIDsAreDistinct(t *testing.T) {
	if bytes.Equal(ManagementAID, OTPAID) {
		t.Fatalf("Management and OTP AIDs must differ")
	}
}
