package nfc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"
)

// NFC Forum and factory MIFARE Classic keys
var (
	nfcForumPublicKey = [6]byte{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}
	factoryKey        = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
)

// ultralight page layout
const (
	ultralightFirstDataPage = 4
	ultralightPages         = 16
	ultralightCPages        = 48
)

// polledTag is a tag found by a tagPoller. All methods are called from the
// session worker goroutine.
type polledTag interface {
	DetectedTag
	connect() error
	readNDEF() (*NDEFMessage, error)
	disconnect()
}

// tagPoller is the device side of a libnfc session.
type tagPoller interface {
	Poll() ([]polledTag, error)
	Close() error
	String() string
}

// openLibnfcPoller opens the device and puts it in initiator mode. An empty
// path picks the first device libnfc finds.
func openLibnfcPoller(path string) (tagPoller, error) {
	if path == "" {
		devices, err := listDevices()
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			return nil, ErrNoDevice
		}
		path = devices[0]
	}

	dev, err := nfc.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("initiator init %s: %w", path, err)
	}
	return &libnfcPoller{device: dev}, nil
}

func listDevices() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < DeviceEnumRetries; i++ {
		devices, err = nfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, fmt.Errorf("failed to list NFC devices after %d retries: %w", DeviceEnumRetries, err)
}

type libnfcPoller struct {
	device nfc.Device
}

func (p *libnfcPoller) String() string {
	return p.device.String()
}

func (p *libnfcPoller) Close() error {
	return p.device.Close()
}

// Poll lists the tags in the field. freefare recognises the MIFARE family;
// any other ISO14443A target is reported with a non-MIFARE family so the
// controller can reject it.
func (p *libnfcPoller) Poll() ([]polledTag, error) {
	var found []polledTag
	seen := make(map[string]bool)

	ffTags, ffErr := freefare.GetTags(p.device)
	if ffErr != nil {
		log.Printf("[libnfc] freefare.GetTags: %v", ffErr)
	}
	for _, ft := range ffTags {
		uid := strings.ToLower(ft.UID())
		if seen[uid] {
			continue
		}
		seen[uid] = true
		found = append(found, newFreefareTag(ft))
	}

	modulation := nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}
	targets, err := p.device.InitiatorListPassiveTargets(modulation)
	if err != nil {
		if ffErr != nil && len(found) == 0 {
			return nil, fmt.Errorf("poll: freefare (%v) and passive targets (%w)", ffErr, err)
		}
		return found, nil
	}
	for _, target := range targets {
		isoA, ok := target.(*nfc.ISO14443aTarget)
		if !ok || isoA.UIDLen == 0 || int(isoA.UIDLen) > len(isoA.UID) {
			continue
		}
		id := append([]byte(nil), isoA.UID[:isoA.UIDLen]...)
		if seen[EncodeUID(id)] {
			continue
		}
		seen[EncodeUID(id)] = true
		family := FamilyUnknown
		if isoA.Sak&0x20 != 0 {
			family = FamilyISO7816
		}
		found = append(found, &passiveTarget{id: id, family: family})
	}
	return found, nil
}

// freefareTag adapts a freefare tag. All freefare tags are MIFARE.
type freefareTag struct {
	tag freefare.Tag
	id  []byte
}

func newFreefareTag(t freefare.Tag) *freefareTag {
	id, err := hex.DecodeString(t.UID())
	if err != nil {
		log.Printf("[libnfc] undecodable UID %q: %v", t.UID(), err)
	}
	return &freefareTag{tag: t, id: id}
}

func (t *freefareTag) Identifier() []byte { return t.id }
func (t *freefareTag) Family() TagFamily  { return FamilyMiFare }

func (t *freefareTag) String() string {
	return fmt.Sprintf("%s (type %d)", t.tag.UID(), t.tag.Type())
}

func (t *freefareTag) connect() error {
	return t.tag.Connect()
}

func (t *freefareTag) disconnect() {
	if err := t.tag.Disconnect(); err != nil {
		log.Printf("[libnfc] disconnect %s: %v", t.tag.UID(), err)
	}
}

func (t *freefareTag) readNDEF() (*NDEFMessage, error) {
	var raw []byte
	var err error
	switch ft := t.tag.(type) {
	case freefare.ClassicTag:
		raw, err = readClassicNDEF(ft)
	case freefare.UltralightTag:
		raw, err = readUltralightNDEF(ft)
	default:
		return nil, ErrNDEFNotSupported
	}
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return &NDEFMessage{}, nil
	}
	return ParseNDEFMessage(raw)
}

// readClassicNDEF reads the NFC Forum MAD application. A tag still in factory
// state returns nil data.
func readClassicNDEF(tag freefare.ClassicTag) ([]byte, error) {
	mad, err := tag.ReadMad()
	if err != nil {
		madSector := byte(0x00)
		if tag.Type() == freefare.Classic4k {
			madSector = 0x10
		}
		trailer := freefare.ClassicSectorLastBlock(madSector)
		if authErr := tag.Authenticate(trailer, factoryKey, int(freefare.KeyA)); authErr == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read MAD: %w", err)
	}

	buf := make([]byte, 4096)
	n, err := tag.ReadApplication(mad, freefare.MadNFCForumAid, buf, nfcForumPublicKey, int(freefare.KeyA))
	if err != nil {
		return nil, fmt.Errorf("read NFC Forum application: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return tlvOrEmpty(buf[:n])
}

func readUltralightNDEF(tag freefare.UltralightTag) ([]byte, error) {
	last := byte(ultralightPages)
	if tag.Type() == freefare.UltralightC {
		last = ultralightCPages
	}

	var data []byte
	for page := byte(ultralightFirstDataPage); page < last; page++ {
		p, err := tag.ReadPage(page)
		if err != nil {
			if len(data) == 0 {
				return nil, fmt.Errorf("read page %d: %w", page, err)
			}
			break
		}
		data = append(data, p[:]...)
	}
	return tlvOrEmpty(data)
}

// tlvOrEmpty unwraps the NDEF TLV; formatted memory without one reads as
// an empty message.
func tlvOrEmpty(data []byte) ([]byte, error) {
	msg, err := ExtractNDEFTLV(data)
	if errors.Is(err, ErrNDEFNotSupported) {
		return nil, nil
	}
	return msg, err
}

// passiveTarget is an ISO14443A target outside the MIFARE family.
type passiveTarget struct {
	id     []byte
	family TagFamily
}

func (t *passiveTarget) Identifier() []byte { return t.id }
func (t *passiveTarget) Family() TagFamily  { return t.family }
func (t *passiveTarget) connect() error     { return ErrNDEFNotSupported }
func (t *passiveTarget) disconnect()        {}

func (t *passiveTarget) readNDEF() (*NDEFMessage, error) {
	return nil, ErrNDEFNotSupported
}
