// Package haxtest builds valid encrypted HAX containers for tests. Nothing
// in the extraction path imports it; production code never re-encrypts.
package haxtest

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/MinasukiHikimuna/Culture-sub002/hax/container"
	"github.com/MinasukiHikimuna/Culture-sub002/hax/keytree"
	"golang.org/x/crypto/chacha20poly1305"
)

// RootKey returns a deterministic root (node 1) key for fixtures.
func RootKey(seed byte) keytree.Key {
	var key keytree.Key
	for i := range key {
		key[i] = seed
	}
	return key
}

// Params controls optional container fields.
type Params struct {
	Codec      string
	DurationMs int64
	// WithOrigHash adds the SHA-256 of the concatenated plaintexts to the
	// metadata record.
	WithOrigHash bool
}

// Build encrypts the given plaintext segments under leaf keys derived from
// root and packs them into a complete container buffer. An empty plaintext
// produces a zero-size final slot only when it is the last segment; empty
// segments elsewhere would break the strictly-increasing offset invariant,
// so Build rejects them.
func Build(root keytree.Key, plaintexts [][]byte, p Params) ([]byte, error) {
	count := len(plaintexts)
	if count == 0 {
		return nil, fmt.Errorf("haxtest: need at least one segment")
	}
	if p.Codec == "" {
		p.Codec = "vorbis"
	}

	tree := keytree.New()
	if err := tree.Insert(1, root); err != nil {
		return nil, err
	}

	ciphertexts := make([][]byte, count)
	for i, plaintext := range plaintexts {
		if len(plaintext) == 0 {
			if i != count-1 {
				return nil, fmt.Errorf("haxtest: empty segment %d is not last", i)
			}
			ciphertexts[i] = nil
			continue
		}

		key, err := tree.Derive(keytree.SegmentNode(count, i))
		if err != nil {
			return nil, err
		}

		aead, err := chacha20poly1305.New(key[:])
		if err != nil {
			return nil, err
		}
		var nonce [chacha20poly1305.NonceSize]byte
		ciphertexts[i] = aead.Seal(nil, nonce[:], plaintext, nil)
	}

	meta := map[string]interface{}{
		"codec":        p.Codec,
		"durationMs":   p.DurationMs,
		"segmentCount": int64(count),
		"baseKey":      root[:],
		"segments":     make([]byte, count*8),
	}
	if p.WithOrigHash {
		digest := sha256.New()
		for _, plaintext := range plaintexts {
			digest.Write(plaintext)
		}
		meta["origHash"] = digest.Sum(nil)
	}

	// The segment table holds absolute offsets, which depend on the encoded
	// metadata length. Offsets are fixed-width, so encoding once with a
	// zeroed table pins the length; the second encoding matches it.
	encoded, err := container.Encode(meta)
	if err != nil {
		return nil, err
	}

	table := make([]byte, count*8)
	offset := uint32(len(container.Magic) + len(encoded))
	for i, ciphertext := range ciphertexts {
		binary.LittleEndian.PutUint32(table[i*8:], offset)
		binary.LittleEndian.PutUint32(table[i*8+4:], uint32(i)*1000)
		offset += uint32(len(ciphertext))
	}
	meta["segments"] = table

	encoded, err = container.Encode(meta)
	if err != nil {
		return nil, err
	}

	buf := append([]byte(container.Magic), encoded...)
	for _, ciphertext := range ciphertexts {
		buf = append(buf, ciphertext...)
	}
	return buf, nil
}
