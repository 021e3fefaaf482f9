package hax

import (
	"bytes"
	"testing"

	"github.com/MinasukiHikimuna/Culture-sub002/hax/capture"
	"github.com/MinasukiHikimuna/Culture-sub002/hax/haxtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFullGrant(t *testing.T) {
	root := haxtest.RootKey(0xe1)
	plaintexts := [][]byte{[]byte("intro"), []byte("verse"), []byte("outro")}
	buf, err := haxtest.Build(root, plaintexts, haxtest.Params{Codec: "vorbis"})
	require.NoError(t, err)

	out, res, err := ExtractFullGrant(buf)
	require.NoError(t, err)
	require.True(t, res.Complete())
	assert.Equal(t, bytes.Join(plaintexts, nil), out)
}

func TestExtractWithBatch(t *testing.T) {
	root := haxtest.RootKey(0xe2)
	plaintexts := [][]byte{[]byte("one"), []byte("two")}
	buf, err := haxtest.Build(root, plaintexts, haxtest.Params{})
	require.NoError(t, err)

	out, res, err := Extract(buf, capture.Batch{1: root})
	require.NoError(t, err)
	require.True(t, res.Complete())
	assert.Equal(t, []byte("onetwo"), out)
}

func TestExtractPartialBatch(t *testing.T) {
	root := haxtest.RootKey(0xe3)
	buf, err := haxtest.Build(root, [][]byte{[]byte("one"), []byte("two")}, haxtest.Params{})
	require.NoError(t, err)

	// An empty batch decrypts nothing, but parsing still succeeds and the
	// result reports what is missing.
	out, res, err := Extract(buf, capture.Batch{})
	require.NoError(t, err)
	assert.False(t, res.Complete())
	assert.Empty(t, out)
	assert.NotZero(t, res.BlockingNode)
}

func TestExtractBadContainer(t *testing.T) {
	_, _, err := Extract([]byte("garbage"), capture.Batch{})
	assert.Error(t, err)
}
