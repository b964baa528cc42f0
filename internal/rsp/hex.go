package rsp

import "fmt"

// Bin2Hex encodes bytes as lowercase hex, two ASCII digits per byte, in
// the order given (unlike ValToHex, this is not a little-endian register
// encoding — it is a plain byte-for-byte hex dump, used for $m/$X memory
// payloads).
func Bin2Hex(b []byte) []byte {
	out := make([]byte, 0, 2*len(b))
	for _, v := range b {
		out = append(out, hexDigit(v>>4), hexDigit(v&0xf))
	}
	return out
}

// Hex2Bin decodes a hex string produced by Bin2Hex (or received from GDB)
// back into bytes. len(hex) must be even.
func Hex2Bin(hex []byte) ([]byte, error) {
	if len(hex)%2 != 0 {
		return nil, fmt.Errorf("rsp: odd-length hex string")
	}
	out := make([]byte, len(hex)/2)
	for i := range out {
		hi, ok1 := fromHexDigit(hex[2*i])
		lo, ok2 := fromHexDigit(hex[2*i+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("rsp: invalid hex digit at offset %d", 2*i)
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

// ValToHex encodes an unsigned integer value of the given bit width into
// an even number of ASCII hex digits in little-endian byte order: byte 0
// (least significant) is emitted first, as a (high-nibble, low-nibble)
// pair, matching GDB's register encoding convention.
func ValToHex(val uint64, bits int) ([]byte, error) {
	if bits%8 != 0 || bits <= 0 || bits > 64 {
		return nil, fmt.Errorf("rsp: unsupported register width %d bits", bits)
	}
	nbytes := bits / 8
	out := make([]byte, 0, 2*nbytes)
	for i := 0; i < nbytes; i++ {
		b := byte(val >> (8 * i))
		out = append(out, hexDigit(b>>4), hexDigit(b&0xf))
	}
	return out, nil
}

// HexToVal decodes a little-endian hex-encoded register value of the
// given bit width, as produced by ValToHex.
func HexToVal(hex []byte, bits int) (uint64, error) {
	if bits%8 != 0 || bits <= 0 || bits > 64 {
		return 0, fmt.Errorf("rsp: unsupported register width %d bits", bits)
	}
	nbytes := bits / 8
	if len(hex) != 2*nbytes {
		return 0, fmt.Errorf("rsp: expected %d hex digits for %d-bit value, got %d", 2*nbytes, bits, len(hex))
	}

	var val uint64
	for i := 0; i < nbytes; i++ {
		hi, ok1 := fromHexDigit(hex[2*i])
		lo, ok2 := fromHexDigit(hex[2*i+1])
		if !ok1 || !ok2 {
			return 0, fmt.Errorf("rsp: invalid hex digit at offset %d", 2*i)
		}
		val |= uint64(hi<<4|lo) << (8 * i)
	}
	return val, nil
}
