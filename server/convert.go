package server

import (
	"github.com/nedpals/nfc-tagscan/nfc"
	"github.com/nedpals/nfc-tagscan/protocol"
)

// StatePayload renders a controller snapshot for the wire.
func StatePayload(snap nfc.Snapshot) protocol.StatePayload {
	p := protocol.StatePayload{
		Seq:         snap.Seq,
		SessionID:   snap.SessionID,
		State:       snap.State.Kind().String(),
		Description: snap.State.Description(),
		UID:         snap.UID,
		Records:     RecordPayloads(snap.Payload),
	}
	if snap.State.IsError() {
		p.Error = snap.State.Message()
		if code := snap.State.Code(); code != 0 {
			p.ErrorCode = code.String()
		}
	}
	p.Text, _ = snap.Payload.FirstText()
	return p
}

// StateMessage wraps a snapshot in a state envelope.
func StateMessage(snap nfc.Snapshot) protocol.WebSocketMessage {
	return protocol.WebSocketMessage{
		Type:    protocol.TypeState,
		Payload: StatePayload(snap),
	}
}

// SessionErrorMessage builds the sessionError envelope for an error snapshot.
func SessionErrorMessage(snap nfc.Snapshot) protocol.WebSocketMessage {
	p := protocol.SessionErrorPayload{
		SessionID: snap.SessionID,
		Message:   snap.State.Message(),
	}
	if code := snap.State.Code(); code != 0 {
		p.Code = code.String()
	}
	return protocol.WebSocketMessage{Type: protocol.TypeSessionError, Payload: p}
}

// RecordPayloads converts an NDEF message for the wire. A nil message gives
// nil; an empty one gives an empty list.
func RecordPayloads(msg *nfc.NDEFMessage) []protocol.RecordPayload {
	if msg == nil {
		return nil
	}

	records := make([]protocol.RecordPayload, 0, len(msg.Records))
	for i := range msg.Records {
		r := &msg.Records[i]
		p := protocol.RecordPayload{
			TNF:     r.TNF,
			Type:    r.Type,
			ID:      r.ID,
			Payload: r.Payload,
		}
		if text, ok := r.Text(); ok {
			p.Text = text
		} else if uri, ok := r.URI(); ok {
			p.URI = uri
		}
		records = append(records, p)
	}
	return records
}
