package container

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildContainer assembles a container from a metadata map and trailing
// segment payloads, patching the segment table to real offsets.
func buildContainer(t *testing.T, meta map[string]interface{}, payloads ...[]byte) []byte {
	t.Helper()

	if _, ok := meta["segments"]; !ok {
		meta["segments"] = make([]byte, len(payloads)*segmentRecordSize)
	}

	encoded, err := Encode(meta)
	require.NoError(t, err)

	table := make([]byte, len(payloads)*segmentRecordSize)
	offset := uint32(len(Magic) + len(encoded))
	for i, payload := range payloads {
		binary.LittleEndian.PutUint32(table[i*segmentRecordSize:], offset)
		binary.LittleEndian.PutUint32(table[i*segmentRecordSize+4:], uint32(i)*500)
		offset += uint32(len(payload))
	}
	meta["segments"] = table

	encoded, err = Encode(meta)
	require.NoError(t, err)

	buf := append([]byte(Magic), encoded...)
	for _, payload := range payloads {
		buf = append(buf, payload...)
	}
	return buf
}

func validMeta(count int) map[string]interface{} {
	return map[string]interface{}{
		"codec":        "vorbis",
		"durationMs":   int64(90000),
		"segmentCount": int64(count),
		"baseKey":      make([]byte, KeySize),
	}
}

func TestParseValidContainer(t *testing.T) {
	payloads := [][]byte{
		[]byte("first-segment-bytes"),
		[]byte("second"),
		[]byte("third-segment"),
	}
	buf := buildContainer(t, validMeta(3), payloads...)

	c, err := Parse(buf)
	require.NoError(t, err)

	assert.Equal(t, "vorbis", c.Codec)
	assert.Equal(t, int64(90000), c.DurationMs)
	assert.Equal(t, 3, c.SegmentCount)
	assert.Equal(t, len(buf), c.Len())
	assert.Nil(t, c.OrigHash)

	require.Len(t, c.Segments, 3)
	for i, payload := range payloads {
		assert.Equal(t, len(payload), c.Segments[i].Size, "segment %d size", i)
		assert.Equal(t, payload, c.SegmentData(i), "segment %d data", i)
	}
	assert.Equal(t, uint32(500), c.Segments[1].PTS)
}

func TestParseLastSegmentRunsToEnd(t *testing.T) {
	buf := buildContainer(t, validMeta(2), []byte("aaaa"), []byte("bb"))

	c, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, c.Len(), int(c.Segments[1].Offset)+c.Segments[1].Size)
}

func TestParseOrigHash(t *testing.T) {
	meta := validMeta(1)
	digest := make([]byte, 32)
	digest[0] = 0xfe
	meta["origHash"] = digest

	c, err := Parse(buildContainer(t, meta, []byte("payload")))
	require.NoError(t, err)
	assert.Equal(t, digest, c.OrigHash)
}

func TestParseMetadataNotAtFixedOffset(t *testing.T) {
	// The bytes between the magic and the record are reserved; the parser
	// scans for the record start.
	meta := validMeta(1)
	meta["segments"] = make([]byte, segmentRecordSize)
	encoded, err := Encode(meta)
	require.NoError(t, err)

	table := make([]byte, segmentRecordSize)
	binary.LittleEndian.PutUint32(table, uint32(len(Magic)+3+len(encoded)))
	meta["segments"] = table
	encoded, err = Encode(meta)
	require.NoError(t, err)

	padded := append([]byte(Magic), 0x00, 0x07, 0x00)
	padded = append(padded, encoded...)
	padded = append(padded, []byte("payload")...)

	c, err := Parse(padded)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), c.SegmentData(0))
}

func TestParseBadMagic(t *testing.T) {
	buf := buildContainer(t, validMeta(1), []byte("payload"))
	buf[0] = 'X'

	_, err := Parse(buf)
	require.Error(t, err)

	var format *FormatError
	require.ErrorAs(t, err, &format)
	assert.Contains(t, format.Reason, "magic")

	_, err = Parse([]byte("HA"))
	assert.ErrorAs(t, err, &format)
}

func TestParseMalformedMetadata(t *testing.T) {
	corrupt := func(mutate func(meta map[string]interface{})) []byte {
		meta := validMeta(2)
		mutate(meta)
		return buildContainer(t, meta, []byte("aaaa"), []byte("bb"))
	}

	tests := []struct {
		name string
		buf  []byte
	}{
		{"missing codec", corrupt(func(m map[string]interface{}) { delete(m, "codec") })},
		{"missing durationMs", corrupt(func(m map[string]interface{}) { delete(m, "durationMs") })},
		{"missing baseKey", corrupt(func(m map[string]interface{}) { delete(m, "baseKey") })},
		{"zero segmentCount", corrupt(func(m map[string]interface{}) { m["segmentCount"] = int64(0) })},
		{"short baseKey", corrupt(func(m map[string]interface{}) { m["baseKey"] = make([]byte, 16) })},
		{"codec wrong type", corrupt(func(m map[string]interface{}) { m["codec"] = int64(3) })},
		{"origHash wrong type", corrupt(func(m map[string]interface{}) { m["origHash"] = int64(1) })},
		{"no record at all", []byte(Magic + "xxxxxxxx")},
		{"truncated record", append([]byte(Magic), []byte("d5:codec6:vorb")...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.buf)
			require.Error(t, err)

			var format *FormatError
			assert.ErrorAs(t, err, &format)
		})
	}
}

func TestParseSegmentTableMismatch(t *testing.T) {
	meta := validMeta(3)
	meta["segments"] = make([]byte, 2*segmentRecordSize) // claims 3, holds 2

	_, err := Parse(buildContainer(t, meta, []byte("aaaa"), []byte("bb")))
	require.Error(t, err)

	var format *FormatError
	require.ErrorAs(t, err, &format)
	assert.Contains(t, format.Reason, "segment table")
}

// rawContainer encodes a metadata map verbatim, with whatever segment table
// it already holds, and appends the payloads.
func rawContainer(t *testing.T, meta map[string]interface{}, payloads ...[]byte) []byte {
	t.Helper()

	encoded, err := Encode(meta)
	require.NoError(t, err)

	buf := append([]byte(Magic), encoded...)
	for _, payload := range payloads {
		buf = append(buf, payload...)
	}
	return buf
}

func TestParseOffsetsMustIncrease(t *testing.T) {
	meta := validMeta(2)
	table := make([]byte, 2*segmentRecordSize)
	binary.LittleEndian.PutUint32(table, 90)
	binary.LittleEndian.PutUint32(table[segmentRecordSize:], 88)
	meta["segments"] = table

	_, err := Parse(rawContainer(t, meta, make([]byte, 64)))
	require.Error(t, err)

	var format *FormatError
	require.ErrorAs(t, err, &format)
	assert.Contains(t, format.Reason, "increase")
}

func TestParseOffsetPastEnd(t *testing.T) {
	meta := validMeta(1)
	table := make([]byte, segmentRecordSize)
	binary.LittleEndian.PutUint32(table, 1<<20)
	meta["segments"] = table

	_, err := Parse(rawContainer(t, meta, []byte("payload")))
	require.Error(t, err)

	var format *FormatError
	require.ErrorAs(t, err, &format)
	assert.Contains(t, format.Reason, "past end")
}
