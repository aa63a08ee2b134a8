package otpcard

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
)

// oathHMACKey assembles the 18-byte HMAC-SHA1 key used for OATH-HOTP
// generation: a fixed 0x01 0x00 prefix followed by the slot's raw AES key
// (spec §4.3, Open Question resolved in favor of the fixed-prefix
// convention used by Yubico's own OATH applet).
func oathHMACKey(aesKey [keySize]byte) []byte {
	key := make([]byte, 2+keySize)
	key[0] = 0x01
	key[1] = 0x00
	copy(key[2:], aesKey[:])
	return key
}

// oathHOTP computes an RFC 4226 HOTP value for movingFactor under key,
// truncated to digits decimal digits (6 or 8).
func oathHOTP(key []byte, movingFactor uint64, digits int) uint32 {
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], movingFactor)

	mac := hmac.New(sha1.New, key)
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := (uint32(sum[offset]&0x7f) << 24) |
		(uint32(sum[offset+1]) << 16) |
		(uint32(sum[offset+2]) << 8) |
		uint32(sum[offset+3])

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return code % mod
}
