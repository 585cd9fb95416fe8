package nfc

import "fmt"

// TLV block types found in tag memory
const (
	TLVNull        = 0x00
	TLVLockCtrl    = 0x01
	TLVMemCtrl     = 0x02
	TLVNDEF        = 0x03
	TLVProprietary = 0xFD
	TLVTerminator  = 0xFE
)

// ExtractNDEFTLV scans raw tag memory for the NDEF Message TLV and returns its
// value. Null TLVs are skipped, other TLVs are stepped over. Returns
// ErrNDEFNotSupported when a terminator or the end of data is reached first.
func ExtractNDEFTLV(data []byte) ([]byte, error) {
	pos := 0
	for pos < len(data) {
		t := data[pos]
		pos++
		switch t {
		case TLVNull:
			continue
		case TLVTerminator:
			return nil, ErrNDEFNotSupported
		}

		length, n, err := tlvLength(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("TLV 0x%02x at offset %d: %w", t, pos-1, err)
		}
		pos += n
		if pos+length > len(data) {
			return nil, fmt.Errorf("TLV 0x%02x at offset %d: value truncated (need %d bytes, have %d)",
				t, pos-1-n, length, len(data)-pos)
		}
		if t == TLVNDEF {
			return data[pos : pos+length], nil
		}
		pos += length
	}
	return nil, ErrNDEFNotSupported
}

// WrapNDEFTLV wraps an encoded NDEF message in an NDEF TLV followed by a
// terminator, the layout written to Type 2 tag memory.
func WrapNDEFTLV(message []byte) []byte {
	out := make([]byte, 0, len(message)+5)
	out = append(out, TLVNDEF)
	if len(message) < 0xFF {
		out = append(out, byte(len(message)))
	} else {
		out = append(out, 0xFF, byte(len(message)>>8), byte(len(message)))
	}
	out = append(out, message...)
	return append(out, TLVTerminator)
}

// tlvLength decodes a one or three byte TLV length field, returning the
// length and the number of bytes consumed.
func tlvLength(b []byte) (int, int, error) {
	if len(b) < 1 {
		return 0, 0, fmt.Errorf("length missing")
	}
	if b[0] != 0xFF {
		return int(b[0]), 1, nil
	}
	if len(b) < 3 {
		return 0, 0, fmt.Errorf("long length truncated")
	}
	return int(b[1])<<8 | int(b[2]), 3, nil
}
