package signal

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Manifest is the Pack message stored encrypted as manifest.proto.
//
//	message Pack {
//	  message Sticker { uint32 id = 1; string emoji = 2; string contentType = 3; }
//	  string title = 1; string author = 2; Sticker cover = 3; repeated Sticker stickers = 4;
//	}
type Manifest struct {
	Title    string
	Author   string
	Cover    *ManifestSticker
	Stickers []ManifestSticker
}

// ManifestSticker is one entry of a Manifest.
type ManifestSticker struct {
	ID          uint32
	Emoji       string
	ContentType string
}

func (s ManifestSticker) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.ID))
	if s.Emoji != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, s.Emoji)
	}
	if s.ContentType != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, s.ContentType)
	}
	return b
}

// Marshal encodes m in protobuf wire format.
func (m *Manifest) Marshal() []byte {
	var b []byte
	if m.Title != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Title)
	}
	if m.Author != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, m.Author)
	}
	if m.Cover != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Cover.marshal())
	}
	for _, s := range m.Stickers {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, s.marshal())
	}
	return b
}

// UnmarshalManifest decodes a Pack message, skipping unknown fields.
func UnmarshalManifest(b []byte) (*Manifest, error) {
	m := &Manifest{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			m.Title = string(v)
		case num == 2 && typ == protowire.BytesType:
			m.Author = string(v)
		case num == 3 && typ == protowire.BytesType:
			s, err := unmarshalSticker(v)
			if err != nil {
				return err
			}
			m.Cover = &s
		case num == 4 && typ == protowire.BytesType:
			s, err := unmarshalSticker(v)
			if err != nil {
				return err
			}
			m.Stickers = append(m.Stickers, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return m, nil
}

func unmarshalSticker(b []byte) (ManifestSticker, error) {
	var s ManifestSticker
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			s.ID = uint32(n)
		case num == 2 && typ == protowire.BytesType:
			s.Emoji = string(v)
		case num == 3 && typ == protowire.BytesType:
			s.ContentType = string(v)
		}
		return nil
	})
	return s, err
}

// walk calls fn for each field of a message. Bytes fields are passed as v,
// varints as n.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(b) > 0 {
		num, typ, l := protowire.ConsumeTag(b)
		if l < 0 {
			return protowire.ParseError(l)
		}
		b = b[l:]

		var (
			v []byte
			n uint64
		)
		switch typ {
		case protowire.BytesType:
			v, l = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			n, l = protowire.ConsumeVarint(b)
		default:
			l = protowire.ConsumeFieldValue(num, typ, b)
		}
		if l < 0 {
			return protowire.ParseError(l)
		}
		b = b[l:]
		if err := fn(num, typ, v, n); err != nil {
			return err
		}
	}
	return nil
}
