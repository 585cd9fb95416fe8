package phonenfc

import (
	"fmt"
	"log"

	"github.com/nedpals/nfc-tagscan/nfc"
	"github.com/nedpals/nfc-tagscan/protocol"
)

// Tag is a tag detected by a phone during a session. Index is its position in
// the tagsDetected list the phone sent, used to address it in commands.
type Tag struct {
	uid        []byte
	family     nfc.TagFamily
	technology string
	index      int
}

// Identifier implements nfc.DetectedTag.
func (t *Tag) Identifier() []byte {
	return t.uid
}

// Family implements nfc.DetectedTag.
func (t *Tag) Family() nfc.TagFamily {
	return t.family
}

// Index returns the tag's position in the phone's detection list.
func (t *Tag) Index() int {
	return t.index
}

func (t *Tag) String() string {
	return fmt.Sprintf("%s [%s #%d]", nfc.EncodeUID(t.uid), t.technology, t.index)
}

// convertTags turns a tagsDetected payload into tags. Entries with an
// unparseable identifier are skipped but keep their index.
func convertTags(tags []protocol.DetectedTagPayload, logger *log.Logger) []*Tag {
	out := make([]*Tag, 0, len(tags))
	for i, data := range tags {
		uid, err := protocol.DecodeUID(data.Identifier)
		if err != nil {
			logger.Printf("Skipping tag %d: %v", i, err)
			continue
		}
		out = append(out, &Tag{
			uid:        uid,
			family:     nfc.ParseTagFamily(data.Technology),
			technology: data.Technology,
			index:      i,
		})
	}
	return out
}

// convertRecords turns phone record data into an NDEF message. A nil record
// list means the tag holds no NDEF message and yields nil.
func convertRecords(records []protocol.RecordPayload) (*nfc.NDEFMessage, error) {
	if records == nil {
		return nil, nil
	}

	msg := &nfc.NDEFMessage{Records: make([]nfc.NDEFRecord, 0, len(records))}
	for i, data := range records {
		if data.TNF > 0x07 {
			return nil, fmt.Errorf("record %d: invalid TNF value: 0x%02X", i, data.TNF)
		}
		msg.Records = append(msg.Records, nfc.NDEFRecord{
			TNF:     data.TNF,
			Type:    data.Type,
			ID:      data.ID,
			Payload: data.Payload,
		})
	}
	return msg, nil
}
