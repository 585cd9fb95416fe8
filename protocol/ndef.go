package protocol

// RecordPayload is the JSON representation of one NDEF record. Type, ID and
// Payload are raw bytes (base64 in JSON); Text and URI are filled in when the
// record decodes as a well-known text or URI record.
type RecordPayload struct {
	TNF     uint8  `json:"tnf"`
	Type    []byte `json:"type,omitempty"`
	ID      []byte `json:"id,omitempty"`
	Payload []byte `json:"payload"`
	Text    string `json:"text,omitempty"`
	URI     string `json:"uri,omitempty"`
}
