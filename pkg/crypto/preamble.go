package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/atbu-go/atbu/pkg/atbuerr"
)

// Preamble option flag bits (spec.md §4.2).
const (
	FlagEncrypted  uint8 = 1 << 0
	FlagIVInline   uint8 = 1 << 1
	FlagCompressed uint8 = 1 << 2
)

const formatVersion uint8 = 1

// Metadata tags. Unknown tags are preserved as opaque RawTags on decode
// instead of being rejected, per spec.md §4.2's forward-compatibility rule.
const (
	TagRelativePath    uint8 = 1
	TagModifiedTimeUsec uint8 = 2
	TagPlaintextSize   uint8 = 3
	TagCompressionKind uint8 = 4
	TagPrimaryDigest   uint8 = 5
)

// RawTag is an undecoded tag-length-value triple, kept verbatim so unknown
// tags round-trip through decode/encode untouched.
type RawTag struct {
	Tag   uint8
	Value []byte
}

// Preamble is the self-describing header prepended in the clear to every
// uploaded object (spec.md §4.2).
type Preamble struct {
	FormatVersion  uint8
	IsEncrypted    bool
	IVInline       bool
	Compressed     bool
	IV             [16]byte // valid iff IVInline
	RelativePath   string
	ModTimeUsec    int64
	PlaintextSize  uint64
	CompressionKind string // "" == none
	PrimaryDigest  string // hex SHA-256
	UnknownTags    []RawTag
}

func (p *Preamble) optionFlags() uint8 {
	var f uint8
	if p.IsEncrypted {
		f |= FlagEncrypted
	}
	if p.IVInline {
		f |= FlagIVInline
	}
	if p.Compressed {
		f |= FlagCompressed
	}
	return f
}

func putTag(buf []byte, tag uint8, value []byte) []byte {
	head := make([]byte, 3)
	head[0] = tag
	binary.BigEndian.PutUint16(head[1:3], uint16(len(value)))
	buf = append(buf, head...)
	buf = append(buf, value...)
	return buf
}

// Encode serializes the preamble to its on-the-wire clear-text form.
func Encode(p *Preamble) ([]byte, error) {
	var metadata []byte
	if p.RelativePath != "" {
		metadata = putTag(metadata, TagRelativePath, []byte(p.RelativePath))
	}
	modBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(modBytes, uint64(p.ModTimeUsec))
	metadata = putTag(metadata, TagModifiedTimeUsec, modBytes)

	sizeBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(sizeBytes, p.PlaintextSize)
	metadata = putTag(metadata, TagPlaintextSize, sizeBytes)

	if p.CompressionKind != "" {
		metadata = putTag(metadata, TagCompressionKind, []byte(p.CompressionKind))
	}
	if p.PrimaryDigest != "" {
		metadata = putTag(metadata, TagPrimaryDigest, []byte(p.PrimaryDigest))
	}
	for _, raw := range p.UnknownTags {
		metadata = putTag(metadata, raw.Tag, raw.Value)
	}

	headerLen := 1 + 1 + 2
	ivLen := 0
	if p.IVInline {
		ivLen = 16
	}
	total := headerLen + ivLen + len(metadata)
	if total > 0xFFFF {
		return nil, atbuerr.New(atbuerr.PreambleParse, "preamble too large to encode")
	}

	out := make([]byte, 0, total)
	out = append(out, p.FormatVersion, p.optionFlags())
	lenBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBytes, uint16(total))
	out = append(out, lenBytes...)
	if p.IVInline {
		out = append(out, p.IV[:]...)
	}
	out = append(out, metadata...)
	return out, nil
}

// NewPreamble builds a Preamble with FormatVersion set to the current
// version; every flag and field is left for the caller to set.
func NewPreamble() *Preamble {
	return &Preamble{FormatVersion: formatVersion}
}

// Decode parses a preamble from the start of data, returning the parsed
// Preamble and the number of bytes it occupied.
func Decode(data []byte) (*Preamble, int, error) {
	if len(data) < 4 {
		return nil, 0, atbuerr.New(atbuerr.PreambleParse, "preamble truncated before fixed header")
	}
	p := &Preamble{
		FormatVersion: data[0],
	}
	flags := data[1]
	p.IsEncrypted = flags&FlagEncrypted != 0
	p.IVInline = flags&FlagIVInline != 0
	p.Compressed = flags&FlagCompressed != 0

	preambleLen := int(binary.BigEndian.Uint16(data[2:4]))
	if preambleLen < 4 || preambleLen > len(data) {
		return nil, 0, atbuerr.New(atbuerr.PreambleParse,
			fmt.Sprintf("preamble length %d invalid for buffer of %d bytes", preambleLen, len(data)))
	}

	offset := 4
	if p.IVInline {
		if offset+16 > preambleLen {
			return nil, 0, atbuerr.New(atbuerr.PreambleParse, "preamble truncated before IV")
		}
		copy(p.IV[:], data[offset:offset+16])
		offset += 16
	}

	for offset < preambleLen {
		if offset+3 > preambleLen {
			return nil, 0, atbuerr.New(atbuerr.PreambleParse, "preamble truncated inside tag header")
		}
		tag := data[offset]
		tagLen := int(binary.BigEndian.Uint16(data[offset+1 : offset+3]))
		offset += 3
		if offset+tagLen > preambleLen {
			return nil, 0, atbuerr.New(atbuerr.PreambleParse, "preamble truncated inside tag value")
		}
		value := data[offset : offset+tagLen]
		offset += tagLen

		switch tag {
		case TagRelativePath:
			p.RelativePath = string(value)
		case TagModifiedTimeUsec:
			if len(value) != 8 {
				return nil, 0, atbuerr.New(atbuerr.PreambleParse, "bad modified-time tag length")
			}
			p.ModTimeUsec = int64(binary.BigEndian.Uint64(value))
		case TagPlaintextSize:
			if len(value) != 8 {
				return nil, 0, atbuerr.New(atbuerr.PreambleParse, "bad plaintext-size tag length")
			}
			p.PlaintextSize = binary.BigEndian.Uint64(value)
		case TagCompressionKind:
			p.CompressionKind = string(value)
		case TagPrimaryDigest:
			p.PrimaryDigest = string(value)
		default:
			// Forward compatibility: unknown tags are preserved, not rejected.
			cp := append([]byte(nil), value...)
			p.UnknownTags = append(p.UnknownTags, RawTag{Tag: tag, Value: cp})
		}
	}

	return p, preambleLen, nil
}
