// Package container parses the HAX audio container: a fixed magic tag, a
// self-describing metadata record, and a trailing region of concatenated
// encrypted segments.
package container

import (
	"encoding/binary"
	"fmt"
)

// Magic is the 4-byte ASCII tag every container starts with.
const Magic = "HAX1"

// The metadata record begins within the first metadataScanLimit bytes of the
// container; the bytes between the magic and the record are reserved.
const metadataScanLimit = 64

// Each segment table record is a little-endian uint32 byte offset followed by
// a little-endian uint32 presentation timestamp.
const segmentRecordSize = 8

// KeySize is the size of the base key carried in the metadata record.
const KeySize = 32

// FormatError reports a malformed container. It is fatal: the same buffer
// will never parse, so callers should not retry.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "hax: invalid container: " + e.Reason
}

// SegmentInfo locates one encrypted segment inside the container buffer.
// Size includes the segment's authentication tag.
type SegmentInfo struct {
	Offset uint32
	PTS    uint32
	Size   int
}

// Container is the parsed, read-only view of a HAX file. It keeps a
// reference to the original buffer; SegmentData slices into it without
// copying.
type Container struct {
	Codec        string
	DurationMs   int64
	SegmentCount int

	// BaseKey is a root-adjacent key disclosed in the container itself. It
	// only unlocks anything for full-grant content, where it is the key of
	// tree node 1.
	BaseKey [KeySize]byte

	// OrigHash is an optional integrity digest of the decrypted stream
	// (SHA-256 of the assembled output). Nil when the record omits it.
	OrigHash []byte

	Segments []SegmentInfo

	data []byte
}

// Parse validates and decodes a complete container buffer. The buffer must
// be the whole file; segment sizes are computed against its length.
func Parse(buf []byte) (*Container, error) {
	if len(buf) < len(Magic) || string(buf[:len(Magic)]) != Magic {
		return nil, &FormatError{Reason: "bad magic"}
	}

	meta, err := findMetadata(buf)
	if err != nil {
		return nil, err
	}

	c := &Container{data: buf}

	codec, err := stringField(meta, "codec")
	if err != nil {
		return nil, err
	}
	c.Codec = codec

	c.DurationMs, err = intField(meta, "durationMs")
	if err != nil {
		return nil, err
	}

	count, err := intField(meta, "segmentCount")
	if err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, &FormatError{Reason: fmt.Sprintf("segmentCount %d out of range", count)}
	}
	c.SegmentCount = int(count)

	baseKey, err := bytesField(meta, "baseKey")
	if err != nil {
		return nil, err
	}
	if len(baseKey) != KeySize {
		return nil, &FormatError{Reason: fmt.Sprintf("baseKey is %d bytes, want %d", len(baseKey), KeySize)}
	}
	copy(c.BaseKey[:], baseKey)

	if raw, ok := meta["origHash"]; ok {
		digest, ok := raw.([]byte)
		if !ok {
			return nil, &FormatError{Reason: "origHash is not a byte string"}
		}
		c.OrigHash = digest
	}

	table, err := bytesField(meta, "segments")
	if err != nil {
		return nil, err
	}
	c.Segments, err = decodeSegmentTable(table, c.SegmentCount, len(buf))
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Len returns the total container length in bytes.
func (c *Container) Len() int {
	return len(c.data)
}

// SegmentData returns the ciphertext slice (including auth tag) for segment i.
func (c *Container) SegmentData(i int) []byte {
	s := c.Segments[i]
	return c.data[s.Offset : int(s.Offset)+s.Size]
}

// findMetadata scans past the magic for the start of the metadata record and
// decodes it. The record start is not at a fixed offset, but it is always
// within the first metadataScanLimit bytes.
func findMetadata(buf []byte) (map[string]interface{}, error) {
	limit := metadataScanLimit
	if limit > len(buf) {
		limit = len(buf)
	}

	for pos := len(Magic); pos < limit; pos++ {
		if buf[pos] != 'd' {
			continue
		}

		meta, _, err := decodeMap(buf, pos)
		if err == nil {
			return meta, nil
		}
	}

	return nil, &FormatError{Reason: "metadata record not found"}
}

func decodeSegmentTable(table []byte, count, containerLen int) ([]SegmentInfo, error) {
	if len(table) != count*segmentRecordSize {
		return nil, &FormatError{Reason: fmt.Sprintf(
			"segment table is %d bytes, want %d for %d segments", len(table), count*segmentRecordSize, count)}
	}

	segments := make([]SegmentInfo, count)
	for i := range segments {
		rec := table[i*segmentRecordSize:]
		segments[i] = SegmentInfo{
			Offset: binary.LittleEndian.Uint32(rec),
			PTS:    binary.LittleEndian.Uint32(rec[4:]),
		}

		if i > 0 && segments[i].Offset <= segments[i-1].Offset {
			return nil, &FormatError{Reason: fmt.Sprintf("segment %d offset %d does not increase", i, segments[i].Offset)}
		}
	}

	last := &segments[count-1]
	if int(last.Offset) > containerLen {
		return nil, &FormatError{Reason: fmt.Sprintf("segment %d offset %d past end of container", count-1, last.Offset)}
	}

	for i := 0; i < count-1; i++ {
		segments[i].Size = int(segments[i+1].Offset) - int(segments[i].Offset)
	}
	last.Size = containerLen - int(last.Offset)

	return segments, nil
}

func stringField(meta map[string]interface{}, key string) (string, error) {
	b, err := bytesField(meta, key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func bytesField(meta map[string]interface{}, key string) ([]byte, error) {
	raw, ok := meta[key]
	if !ok {
		return nil, &FormatError{Reason: "metadata record missing " + key}
	}
	b, ok := raw.([]byte)
	if !ok {
		return nil, &FormatError{Reason: key + " is not a byte string"}
	}
	return b, nil
}

func intField(meta map[string]interface{}, key string) (int64, error) {
	raw, ok := meta[key]
	if !ok {
		return 0, &FormatError{Reason: "metadata record missing " + key}
	}
	n, ok := raw.(int64)
	if !ok {
		return 0, &FormatError{Reason: key + " is not an integer"}
	}
	return n, nil
}
