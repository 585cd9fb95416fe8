package nfc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"
)

// Type Name Format values
const (
	TNFEmpty       byte = 0x00
	TNFWellKnown   byte = 0x01
	TNFMedia       byte = 0x02
	TNFAbsoluteURI byte = 0x03
	TNFExternal    byte = 0x04
	TNFUnknown     byte = 0x05
	TNFUnchanged   byte = 0x06
)

// Record header flags
const (
	flagMB  byte = 0x80 // Message Begin
	flagME  byte = 0x40 // Message End
	flagCF  byte = 0x20 // Chunk Flag
	flagSR  byte = 0x10 // Short Record
	flagIL  byte = 0x08 // ID Length present
	tnfMask byte = 0x07
)

// ErrEmptyNDEF is returned when parsing a zero-length NDEF message.
var ErrEmptyNDEF = errors.New("empty NDEF message")

// NDEFRecord is one record of an NDEF message. The controller treats records
// as opaque; helpers below decode well-known types for display.
type NDEFRecord struct {
	TNF     byte
	Type    []byte
	ID      []byte
	Payload []byte
}

// NDEFMessage is an ordered list of records as read from a tag.
type NDEFMessage struct {
	Records []NDEFRecord
}

// Len returns the number of records. A nil message has zero records.
func (m *NDEFMessage) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Records)
}

// FirstText returns the text of the first Text record, if any.
func (m *NDEFMessage) FirstText() (string, bool) {
	if m == nil {
		return "", false
	}
	for i := range m.Records {
		if text, ok := m.Records[i].Text(); ok {
			return text, true
		}
	}
	return "", false
}

// Encode serializes the message. An empty message encodes to a single empty
// record, the NFC Forum representation of "no data".
func (m *NDEFMessage) Encode() []byte {
	if m.Len() == 0 {
		return []byte{flagMB | flagME | flagSR | TNFEmpty, 0, 0}
	}

	records := m.Records
	var out []byte
	for i, r := range records {
		header := r.TNF & tnfMask
		if i == 0 {
			header |= flagMB
		}
		if i == len(records)-1 {
			header |= flagME
		}
		short := len(r.Payload) <= 0xFF
		if short {
			header |= flagSR
		}
		if len(r.ID) > 0 {
			header |= flagIL
		}

		out = append(out, header, byte(len(r.Type)))
		if short {
			out = append(out, byte(len(r.Payload)))
		} else {
			out = binary.BigEndian.AppendUint32(out, uint32(len(r.Payload)))
		}
		if len(r.ID) > 0 {
			out = append(out, byte(len(r.ID)))
		}
		out = append(out, r.Type...)
		out = append(out, r.ID...)
		out = append(out, r.Payload...)
	}
	return out
}

// ParseNDEFMessage decodes raw NDEF bytes. A message consisting of a single
// empty record parses to a message with zero records. Chunked records are not
// supported.
func ParseNDEFMessage(data []byte) (*NDEFMessage, error) {
	if len(data) == 0 {
		return nil, ErrEmptyNDEF
	}

	msg := &NDEFMessage{}
	br := byteReader{data: data}
	for br.remaining() > 0 {
		start := br.pos
		header, err := br.readByte()
		if err != nil {
			return nil, err
		}
		if header&flagCF != 0 {
			return nil, fmt.Errorf("chunked NDEF record at offset %d not supported", start)
		}

		typeLen, err := br.readByte()
		if err != nil {
			return nil, fmt.Errorf("record at offset %d: type length: %w", start, err)
		}

		var payloadLen int
		if header&flagSR != 0 {
			b, err := br.readByte()
			if err != nil {
				return nil, fmt.Errorf("record at offset %d: payload length: %w", start, err)
			}
			payloadLen = int(b)
		} else {
			b, err := br.take(4)
			if err != nil {
				return nil, fmt.Errorf("record at offset %d: payload length: %w", start, err)
			}
			payloadLen = int(binary.BigEndian.Uint32(b))
		}

		var idLen byte
		if header&flagIL != 0 {
			if idLen, err = br.readByte(); err != nil {
				return nil, fmt.Errorf("record at offset %d: id length: %w", start, err)
			}
		}

		rec := NDEFRecord{TNF: header & tnfMask}
		if rec.Type, err = br.clone(int(typeLen)); err != nil {
			return nil, fmt.Errorf("record at offset %d: type: %w", start, err)
		}
		if rec.ID, err = br.clone(int(idLen)); err != nil {
			return nil, fmt.Errorf("record at offset %d: id: %w", start, err)
		}
		if rec.Payload, err = br.clone(payloadLen); err != nil {
			return nil, fmt.Errorf("record at offset %d: payload: %w", start, err)
		}

		if rec.TNF != TNFEmpty {
			msg.Records = append(msg.Records, rec)
		}
		if header&flagME != 0 {
			break
		}
	}
	return msg, nil
}

// NewTextRecord builds a UTF-8 Text record. An empty lang defaults to "en".
func NewTextRecord(text, lang string) NDEFRecord {
	if lang == "" {
		lang = "en"
	}
	if len(lang) > 0x3F {
		lang = lang[:0x3F]
	}
	payload := make([]byte, 0, 1+len(lang)+len(text))
	payload = append(payload, byte(len(lang)))
	payload = append(payload, lang...)
	payload = append(payload, text...)
	return NDEFRecord{TNF: TNFWellKnown, Type: []byte("T"), Payload: payload}
}

// NewURIRecord builds a URI record with no prefix abbreviation.
func NewURIRecord(uri string) NDEFRecord {
	payload := append([]byte{0x00}, uri...)
	return NDEFRecord{TNF: TNFWellKnown, Type: []byte("U"), Payload: payload}
}

func (r *NDEFRecord) isWellKnown(t byte) bool {
	return r.TNF == TNFWellKnown && len(r.Type) == 1 && r.Type[0] == t
}

// Text decodes a Text record. ok is false for other record types or
// malformed payloads.
func (r *NDEFRecord) Text() (text string, ok bool) {
	if !r.isWellKnown('T') || len(r.Payload) == 0 {
		return "", false
	}
	status := r.Payload[0]
	langLen := int(status & 0x3F)
	if 1+langLen > len(r.Payload) {
		return "", false
	}
	body := r.Payload[1+langLen:]
	if status&0x80 == 0 {
		return string(body), true
	}

	// UTF-16, big endian unless a BOM says otherwise
	if len(body)%2 != 0 {
		return "", false
	}
	var order binary.ByteOrder = binary.BigEndian
	if len(body) >= 2 && body[0] == 0xFF && body[1] == 0xFE {
		order = binary.LittleEndian
		body = body[2:]
	} else if len(body) >= 2 && body[0] == 0xFE && body[1] == 0xFF {
		body = body[2:]
	}
	units := make([]uint16, len(body)/2)
	for i := range units {
		units[i] = order.Uint16(body[i*2:])
	}
	return string(utf16.Decode(units)), true
}

var uriPrefixes = []string{
	"", "http://www.", "https://www.", "http://", "https://", "tel:", "mailto:",
	"ftp://anonymous:anonymous@", "ftp://ftp.", "ftps://", "sftp://", "smb://",
	"nfs://", "ftp://", "dav://", "news:", "telnet://", "imap:", "rtsp://",
	"urn:", "pop:", "sip:", "sips:", "tftp:", "btspp://", "btl2cap://",
	"btgoep://", "tcpobex://", "irdaobex://", "file://", "urn:epc:id:",
	"urn:epc:tag:", "urn:epc:pat:", "urn:epc:raw:", "urn:epc:", "urn:nfc:",
}

// URI decodes a URI record, expanding the abbreviated prefix.
func (r *NDEFRecord) URI() (string, bool) {
	if !r.isWellKnown('U') || len(r.Payload) == 0 {
		return "", false
	}
	code := int(r.Payload[0])
	prefix := ""
	if code < len(uriPrefixes) {
		prefix = uriPrefixes[code]
	}
	return prefix + string(r.Payload[1:]), true
}

// Summary returns a short printable description of the record.
func (r *NDEFRecord) Summary() string {
	if text, ok := r.Text(); ok {
		return fmt.Sprintf("text %q", text)
	}
	if uri, ok := r.URI(); ok {
		return fmt.Sprintf("uri %s", uri)
	}
	if r.TNF == TNFMedia {
		return fmt.Sprintf("%s (%d bytes)", strings.ToLower(string(r.Type)), len(r.Payload))
	}
	return fmt.Sprintf("tnf=%d type=%q (%d bytes)", r.TNF, r.Type, len(r.Payload))
}

type byteReader struct {
	data []byte
	pos  int
}

func (b *byteReader) remaining() int {
	return len(b.data) - b.pos
}

func (b *byteReader) readByte() (byte, error) {
	if b.remaining() < 1 {
		return 0, fmt.Errorf("truncated at offset %d", b.pos)
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *byteReader) take(n int) ([]byte, error) {
	if n < 0 || b.remaining() < n {
		return nil, fmt.Errorf("truncated at offset %d: need %d bytes, have %d", b.pos, n, b.remaining())
	}
	v := b.data[b.pos : b.pos+n]
	b.pos += n
	return v, nil
}

// clone returns a fresh copy of the next n bytes, or nil when n is zero.
func (b *byteReader) clone(n int) ([]byte, error) {
	v, err := b.take(n)
	if err != nil || n == 0 {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, v)
	return out, nil
}
