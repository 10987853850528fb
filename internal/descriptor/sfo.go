// Package descriptor recovers naming metadata from the PARAM.SFO block of a decrypted
// payload and uses it to rename the payload.
package descriptor

import (
	"bytes"
	"encoding/binary"
	"strings"

	"PS3DL/internal/model"

	"github.com/pkg/errors"
)

const (
	headerSize = 20
	entrySize  = 16

	// FormatUTF8 marks a NUL padded UTF-8 string value.
	FormatUTF8 = 0x0204

	keyIdentifier  = "TITLE_ID"
	keyDisplayName = "TITLE"
)

var magic = []byte{0x00, 'P', 'S', 'F'}

// Parse decodes a PARAM.SFO block into its string entries. Values of other formats are
// skipped. Malformed input yields an error, never a panic.
func Parse(data []byte) (map[string]string, error) {
	if len(data) < headerSize {
		return nil, errors.Errorf("descriptor block too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], magic) {
		return nil, errors.New("descriptor block has no PSF magic")
	}

	size := uint64(len(data))
	keyTable := uint64(binary.LittleEndian.Uint32(data[8:12]))
	dataTable := uint64(binary.LittleEndian.Uint32(data[12:16]))
	count := uint64(binary.LittleEndian.Uint32(data[16:20]))

	if headerSize+count*entrySize > size {
		return nil, errors.Errorf("descriptor index of %d entries exceeds block size %d", count, size)
	}
	if keyTable > size || dataTable > size {
		return nil, errors.Errorf("descriptor table offsets out of range (keys %d, data %d, size %d)", keyTable, dataTable, size)
	}

	entries := make(map[string]string, count)
	for i := uint64(0); i < count; i++ {
		e := data[headerSize+i*entrySize : headerSize+(i+1)*entrySize]
		keyOffset := uint64(binary.LittleEndian.Uint16(e[0:2]))
		format := binary.LittleEndian.Uint16(e[2:4])
		length := uint64(binary.LittleEndian.Uint32(e[4:8]))
		dataOffset := uint64(binary.LittleEndian.Uint32(e[12:16]))

		keyStart := keyTable + keyOffset
		if keyStart >= size {
			return nil, errors.Errorf("descriptor entry %d key offset out of range", i)
		}
		end := bytes.IndexByte(data[keyStart:], 0)
		if end < 0 {
			return nil, errors.Errorf("descriptor entry %d key is not terminated", i)
		}
		key := string(data[keyStart : keyStart+uint64(end)])

		if format != FormatUTF8 {
			continue
		}

		valueStart := dataTable + dataOffset
		if valueStart > size || length > size-valueStart {
			return nil, errors.Errorf("descriptor entry %q value out of range", key)
		}
		value := data[valueStart : valueStart+length]
		entries[key] = string(bytes.TrimRight(value, "\x00"))
	}

	return entries, nil
}

// Metadata picks the identifier and display name out of parsed entries.
func Metadata(entries map[string]string) (model.DescriptorMetadata, bool) {
	meta := model.DescriptorMetadata{
		Identifier:  strings.TrimSpace(entries[keyIdentifier]),
		DisplayName: strings.TrimSpace(entries[keyDisplayName]),
	}
	return meta, !meta.Empty()
}

// Sanitize replaces every rune that is not an ASCII letter or digit with '_'.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// FileName composes "{identifier}-{name}{ext}" from recovered metadata.
func FileName(meta model.DescriptorMetadata, ext string) string {
	return Sanitize(meta.Identifier) + "-" + Sanitize(meta.DisplayName) + ext
}
